package thunk

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/calm"
	"github.com/zircuit-labs/zkr-go-thunk/log"
)

// Operation is a worker bound to an action family. Each invocation
// dispatches the family's started action, runs the worker, then dispatches
// either done or failed. Operations hold no per-invocation state and are
// safe to invoke concurrently.
type Operation[P, R, S, E any] struct {
	family action.AsyncCreators[P, R]
	work   func(ctx context.Context, params P, api API[S, E]) (R, error)
	opts   options
}

// Bind wraps a synchronous worker. A panic in the worker is reported as a
// failure.
func Bind[P, R, S, E any](family action.AsyncCreators[P, R], worker Worker[P, R, S, E], opts ...Option) *Operation[P, R, S, E] {
	return &Operation[P, R, S, E]{
		family: family,
		work: func(ctx context.Context, params P, api API[S, E]) (R, error) {
			return calm.Call(func() (R, error) {
				return worker(ctx, params, api)
			})
		},
		opts: newOptions(opts),
	}
}

// BindAsync wraps a worker returning an Awaitable. An already settled
// Awaitable is read immediately; otherwise the invocation waits for it or
// for ctx to end, the latter counting as a failure with ctx.Err(). A nil
// Awaitable, typed or not, is a success with the zero result. Panics while
// starting or awaiting are reported as failures.
func BindAsync[P, R, S, E any](family action.AsyncCreators[P, R], worker AsyncWorker[P, R, S, E], opts ...Option) *Operation[P, R, S, E] {
	return &Operation[P, R, S, E]{
		family: family,
		work: func(ctx context.Context, params P, api API[S, E]) (R, error) {
			return calm.Call(func() (R, error) {
				pending := worker(ctx, params, api)
				if isNil(pending) {
					var zero R
					return zero, nil
				}
				return Await(ctx, pending)
			})
		},
		opts: newOptions(opts),
	}
}

func isNil[R any](a Awaitable[R]) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

// Async returns the action family announcing this operation.
func (o *Operation[P, R, S, E]) Async() action.AsyncCreators[P, R] {
	return o.family
}

// Call returns a thunk running the operation with params.
func (o *Operation[P, R, S, E]) Call(params P) Thunk[R, S, E] {
	return func(ctx context.Context, api API[S, E]) (R, error) {
		return o.invoke(ctx, params, api)
	}
}

// Action is identical to Call.
func (o *Operation[P, R, S, E]) Action(params P) Thunk[R, S, E] {
	return o.Call(params)
}

// Run invokes the operation with params against api directly.
func (o *Operation[P, R, S, E]) Run(ctx context.Context, params P, api API[S, E]) (R, error) {
	return o.invoke(ctx, params, api)
}

func (o *Operation[P, R, S, E]) invoke(ctx context.Context, params P, api API[S, E]) (R, error) {
	if o.opts.preStart != nil {
		if err := o.opts.preStart(ctx); err != nil {
			var zero R
			return zero, err
		}
	}

	invocation := xid.New().String()
	logger := o.opts.logger.With(
		slog.String("action_type", o.family.Type),
		slog.String("invocation", invocation),
	)
	ctx, span := o.opts.tracer.Start(ctx, o.family.Type,
		trace.WithAttributes(attribute.String("thunk.invocation", invocation)),
	)
	defer span.End()

	start := time.Now()
	api.Dispatch(o.family.Started.New(params))
	logger.Debug("operation started")

	result, err := o.work(ctx, params, api)
	if err != nil {
		api.Dispatch(o.family.Failed.New(action.Failure[P]{Params: params, Error: err}))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("operation failed", log.ErrAttr(err), slog.Duration("duration", time.Since(start)))

		var zero R
		return zero, err
	}

	api.Dispatch(o.family.Done.New(action.Success[P, R]{Params: params, Result: result}))
	span.SetStatus(codes.Ok, "")
	logger.Debug("operation done", slog.Duration("duration", time.Since(start)))
	return result, nil
}

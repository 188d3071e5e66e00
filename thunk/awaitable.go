package thunk

import (
	"context"

	"github.com/zircuit-labs/zkr-go-thunk/calm"
)

// Settler is implemented by values whose outcome becomes available later.
// Done is closed once the outcome is known.
type Settler interface {
	Done() <-chan struct{}
}

// Awaitable is a Settler with a typed outcome. Result blocks until Done is
// closed.
type Awaitable[R any] interface {
	Settler
	Result() (R, error)
}

// IsAwaitable reports whether v follows the Settler protocol.
func IsAwaitable(v any) bool {
	_, ok := v.(Settler)
	return ok
}

// Future is an Awaitable filled in by a single goroutine.
type Future[R any] struct {
	done   chan struct{}
	result R
	err    error
}

// Go runs f on a new goroutine and returns a Future for its outcome.
// A panic in f settles the Future with an error of class errclass.Panic.
func Go[R any](ctx context.Context, f func(ctx context.Context) (R, error)) *Future[R] {
	fut := &Future[R]{done: make(chan struct{})}
	go func() {
		defer close(fut.done)
		fut.result, fut.err = calm.Call(func() (R, error) {
			return f(ctx)
		})
	}()
	return fut
}

// Resolved returns a Future already settled with v.
func Resolved[R any](v R) *Future[R] {
	fut := &Future[R]{done: make(chan struct{}), result: v}
	close(fut.done)
	return fut
}

// Rejected returns a Future already settled with err.
func Rejected[R any](err error) *Future[R] {
	fut := &Future[R]{done: make(chan struct{}), err: err}
	close(fut.done)
	return fut
}

func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[R]) Result() (R, error) {
	<-f.done
	return f.result, f.err
}

// Await waits for a to settle or ctx to end, whichever happens first.
// A settled Awaitable is read without consulting ctx.
func Await[R any](ctx context.Context, a Awaitable[R]) (R, error) {
	select {
	case <-a.Done():
		return a.Result()
	default:
	}

	select {
	case <-a.Done():
		return a.Result()
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

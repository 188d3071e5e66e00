// Package thunk binds units of work to action families so that every
// invocation announces itself to a store: a started action before the work
// begins, then exactly one of done or failed carrying the original
// parameters with the result or the error.
//
// A bound operation is created once, usually next to its action family:
//
//	create := action.NewFactory("users")
//	login := thunk.Bind(
//		action.NewAsync[Credentials, Token](create, "login", nil),
//		func(ctx context.Context, creds Credentials, api thunk.API[State, Deps]) (Token, error) {
//			return api.Extra.Auth.Login(ctx, creds)
//		},
//	)
//
// and run against a dispatch context as often as needed:
//
//	token, err := login.Call(creds)(ctx, store.API())
//
// The call returns the worker's own result and error. The error is the exact
// value the worker returned, so errors.Is and == comparisons keep working.
package thunk

import (
	"context"

	"github.com/zircuit-labs/zkr-go-thunk/action"
)

// Dispatch delivers an action and returns whatever the receiving chain
// returns for it (usually the action itself).
type Dispatch func(a action.Action) any

// API is the dispatch context a thunk runs against. Extra is an arbitrary
// value threaded through unchanged, typically for dependency injection.
type API[S, E any] struct {
	Dispatch Dispatch
	GetState func() S
	Extra    E
}

// Thunk is deferred work waiting for a dispatch context.
type Thunk[R, S, E any] func(ctx context.Context, api API[S, E]) (R, error)

// Worker performs an operation synchronously. It may dispatch actions and
// run other operations through api.
type Worker[P, R, S, E any] func(ctx context.Context, params P, api API[S, E]) (R, error)

// AsyncWorker starts an operation and returns an Awaitable for its outcome.
// Returning an already settled Awaitable (see Resolved and Rejected) lets a
// worker decide per call whether it completes immediately. A nil Awaitable
// counts as success with the zero result.
type AsyncWorker[P, R, S, E any] func(ctx context.Context, params P, api API[S, E]) Awaitable[R]

// AsFunc binds a thunk creator such as Operation.Call to api, producing a
// plain function. Calling it is equivalent to running create(params)
// against api.
func AsFunc[P, R, S, E any](create func(P) Thunk[R, S, E], api API[S, E]) func(context.Context, P) (R, error) {
	return func(ctx context.Context, params P) (R, error) {
		return create(params)(ctx, api)
	}
}

package thunk

import (
	"github.com/zircuit-labs/zkr-go-thunk/action"
)

// Factory creates an operation and its action family in one step. Options
// given to the factory apply to every operation it creates, before any
// per-operation options.
type Factory[S, E any] struct {
	actions *action.Factory
	opts    []Option
}

// NewFactory returns a Factory registering its families with actions.
func NewFactory[S, E any](actions *action.Factory, opts ...Option) *Factory[S, E] {
	return &Factory[S, E]{
		actions: actions,
		opts:    opts,
	}
}

// Actions returns the underlying action factory.
func (f *Factory[S, E]) Actions() *action.Factory {
	return f.actions
}

// Create registers the family for name and binds worker to it.
func Create[P, R, S, E any](f *Factory[S, E], name string, worker Worker[P, R, S, E], meta action.Meta, opts ...Option) *Operation[P, R, S, E] {
	family := action.NewAsync[P, R](f.actions, name, meta)
	return Bind(family, worker, f.options(opts)...)
}

// CreateAsync is Create for workers returning an Awaitable.
func CreateAsync[P, R, S, E any](f *Factory[S, E], name string, worker AsyncWorker[P, R, S, E], meta action.Meta, opts ...Option) *Operation[P, R, S, E] {
	family := action.NewAsync[P, R](f.actions, name, meta)
	return BindAsync(family, worker, f.options(opts)...)
}

func (f *Factory[S, E]) options(opts []Option) []Option {
	return append(append(make([]Option, 0, len(f.opts)+len(opts)), f.opts...), opts...)
}

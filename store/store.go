// Package store provides an in-memory dispatcher for actions: an optional
// reducer folding actions into state, a middleware chain, subscriptions and
// optional recording of every dispatched action.
package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/thunk"
)

// Reducer computes the next state from the current state and an action.
type Reducer[S any] func(state S, a action.Action) S

// Middleware wraps the dispatch function. It receives the next dispatch in
// the chain and returns a dispatch that may inspect, alter, delay or swallow
// actions before passing them on.
type Middleware[S any] func(getState func() S, next thunk.Dispatch) thunk.Dispatch

type options[S, E any] struct {
	reducer    Reducer[S]
	extra      E
	middleware []Middleware[S]
	logger     *slog.Logger
	record     bool
}

// Option is an option func for New.
type Option[S, E any] func(options *options[S, E])

// WithReducer sets the reducer applied to every action.
func WithReducer[S, E any](reducer Reducer[S]) Option[S, E] {
	return func(options *options[S, E]) {
		options.reducer = reducer
	}
}

// WithExtra sets the value exposed to thunks as API.Extra.
func WithExtra[S, E any](extra E) Option[S, E] {
	return func(options *options[S, E]) {
		options.extra = extra
	}
}

// WithMiddleware appends middleware. The first one given is the outermost.
func WithMiddleware[S, E any](mw ...Middleware[S]) Option[S, E] {
	return func(options *options[S, E]) {
		options.middleware = append(options.middleware, mw...)
	}
}

// WithLogger sets the logger to be used.
func WithLogger[S, E any](logger *slog.Logger) Option[S, E] {
	return func(options *options[S, E]) {
		options.logger = logger
	}
}

// WithRecording keeps every action reaching the store so that it can be
// inspected with Actions.
func WithRecording[S, E any]() Option[S, E] {
	return func(options *options[S, E]) {
		options.record = true
	}
}

type subscriber struct {
	id int
	fn func(action.Action)
}

// Store holds state of type S and dispatches actions to it. It is safe for
// concurrent use.
type Store[S, E any] struct {
	opts     options[S, E]
	dispatch thunk.Dispatch

	mu          sync.RWMutex
	state       S
	recorded    []action.Action
	subscribers []subscriber
	nextID      int
}

// New creates a Store with the initial state.
func New[S, E any](initial S, opts ...Option[S, E]) *Store[S, E] {
	options := options[S, E]{
		logger: log.NewNilLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Store[S, E]{
		opts:  options,
		state: initial,
	}

	dispatch := s.base
	for _, mw := range slices.Backward(options.middleware) {
		dispatch = mw(s.GetState, dispatch)
	}
	s.dispatch = dispatch

	return s
}

// Dispatch sends a through the middleware chain and returns what the chain
// returns, which is a itself unless a middleware says otherwise.
func (s *Store[S, E]) Dispatch(a action.Action) any {
	return s.dispatch(a)
}

// GetState returns the current state.
func (s *Store[S, E]) GetState() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Extra returns the extra value given with WithExtra.
func (s *Store[S, E]) Extra() E {
	return s.opts.extra
}

// API returns the dispatch context for running thunks against the store.
func (s *Store[S, E]) API() thunk.API[S, E] {
	return thunk.API[S, E]{
		Dispatch: s.Dispatch,
		GetState: s.GetState,
		Extra:    s.opts.extra,
	}
}

// Actions returns a copy of the recorded actions in dispatch order.
// It is always empty unless the store was created WithRecording.
func (s *Store[S, E]) Actions() []action.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.recorded)
}

// ClearActions forgets the recorded actions.
func (s *Store[S, E]) ClearActions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = nil
}

// Subscribe registers fn to be called after each action reaches the store.
// The returned func removes the subscription.
func (s *Store[S, E]) Subscribe(fn func(action.Action)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers = slices.DeleteFunc(s.subscribers, func(sub subscriber) bool {
			return sub.id == id
		})
	}
}

func (s *Store[S, E]) base(a action.Action) any {
	s.mu.Lock()
	if s.opts.reducer != nil {
		s.state = s.opts.reducer(s.state, a)
	}
	if s.opts.record {
		s.recorded = append(s.recorded, a)
	}
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	s.opts.logger.Debug("action dispatched", slog.String("action_type", a.Type), slog.Bool("error", a.Error))

	// subscribers run outside the lock so they may dispatch themselves
	for _, sub := range subscribers {
		sub.fn(a)
	}
	return a
}

// Run runs t against the store, the equivalent of dispatching a thunk.
func Run[R, S, E any](ctx context.Context, s *Store[S, E], t thunk.Thunk[R, S, E]) (R, error) {
	return t(ctx, s.API())
}

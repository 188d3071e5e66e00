package task

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/zircuit-labs/zkr-go-thunk/calm"
	"github.com/zircuit-labs/zkr-go-thunk/calm/errgroup"
	"github.com/zircuit-labs/zkr-go-thunk/log"
)

type options struct {
	logger *slog.Logger
}

// Option is an option func for NewManager.
type Option func(options *options)

// WithLogger sets the logger to be used.
func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// Manager runs tasks sharing one context. When a task started with Run
// returns, or any task fails, the context is cancelled for all of them.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	logger *slog.Logger

	mu      sync.Mutex
	cleanup []func()
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	options := options{
		logger: log.NewNilLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		group:  errgroup.New(),
		logger: options.logger,
	}
}

// Run starts tasks whose return, for whatever reason, stops every task.
func (m *Manager) Run(tasks ...Task) {
	for _, t := range tasks {
		m.group.Go(m.wrap(t, true))
	}
}

// RunTerminable starts tasks that may finish without stopping the others.
// A failure still stops everything.
func (m *Manager) RunTerminable(tasks ...Task) {
	for _, t := range tasks {
		m.group.Go(m.wrap(t, false))
	}
}

// Cleanup registers f to run once all tasks have stopped. Cleanups run in
// reverse order of registration.
func (m *Manager) Cleanup(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanup = append(m.cleanup, f)
}

// Wait blocks until every task has stopped, runs the cleanups and returns
// the first task error.
func (m *Manager) Wait() error {
	err := m.group.Wait()

	m.mu.Lock()
	cleanup := m.cleanup
	m.cleanup = nil
	m.mu.Unlock()

	for _, f := range slices.Backward(cleanup) {
		f()
	}
	return err
}

// Stop cancels all tasks and waits for them.
func (m *Manager) Stop() error {
	m.cancel()
	return m.Wait()
}

// Context returns the context shared by all tasks.
func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) wrap(t Task, stopAll bool) func() error {
	return func() error {
		logger := m.logger.With(slog.String("task", t.Name()))
		logger.Info("task starting")

		err := calm.Unpanic(func() error {
			return t.Run(m.ctx)
		})
		if err != nil {
			logger.Error("task failed", log.ErrAttr(err))
			m.cancel()
			return err
		}
		if stopAll {
			m.cancel()
		}
		logger.Info("task stopped")
		return nil
	}
}

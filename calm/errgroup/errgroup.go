// Package errgroup is golang.org/x/sync/errgroup with panics returned as errors.
package errgroup

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zircuit-labs/zkr-go-thunk/calm"
)

type Group struct {
	group *errgroup.Group
}

// New returns a Group with no context.
func New() *Group {
	return &Group{group: new(errgroup.Group)}
}

// WithContext returns a Group and a context cancelled when the first function fails.
func WithContext(ctx context.Context) (*Group, context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	return &Group{group: group}, ctx
}

// Go runs f on a new goroutine, recovering any panic as an error.
func (g *Group) Go(f func() error) {
	g.group.Go(func() error {
		return calm.Unpanic(f)
	})
}

// Wait blocks until all functions return and reports the first error.
func (g *Group) Wait() error {
	return g.group.Wait()
}

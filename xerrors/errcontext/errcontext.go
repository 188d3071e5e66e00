// Package errcontext attaches structured log attributes to errors.
package errcontext

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors"
)

// Context holds the attributes attached to an error, keyed by attribute name.
type Context map[string]slog.Value

// Attrs returns the attributes sorted by key.
func (c Context) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(c))
	for _, key := range slices.Sorted(maps.Keys(c)) {
		attrs = append(attrs, slog.Attr{Key: key, Value: c[key]})
	}
	return attrs
}

// Add attaches attrs to err. Keys already present are overwritten.
// Each child of a joined error receives the attributes separately.
func Add(err error, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}

	if children := xerrors.Unjoin(err); len(children) > 1 {
		withContext := make([]error, len(children))
		for i, child := range children {
			withContext[i] = Add(child, attrs...)
		}
		return errors.Join(withContext...)
	}

	next := make(Context, len(attrs))
	maps.Copy(next, Get(err))
	for _, attr := range attrs {
		next[attr.Key] = attr.Value
	}
	return xerrors.Extend(next, err)
}

// Get returns the newest Context attached to err, or nil.
func Get(err error) Context {
	c, ok := xerrors.Extract[Context](err)
	if !ok {
		return nil
	}
	return c
}

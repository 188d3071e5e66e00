// Package xerrors attaches typed data to errors without changing their identity for errors.Is.
package xerrors

import "errors"

// ExtendedError carries a value of type T alongside the error it wraps.
type ExtendedError[T any] struct {
	Data T
	err  error
}

func (e ExtendedError[T]) Error() string {
	return e.err.Error()
}

func (e ExtendedError[T]) Unwrap() error {
	return e.err
}

// Extend wraps err with data. Extending a nil error yields nil.
func Extend[T any](data T, err error) error {
	if err == nil {
		return nil
	}
	return ExtendedError[T]{Data: data, err: err}
}

// Extract finds the outermost data of type T anywhere in the chain of err.
func Extract[T any](err error) (T, bool) {
	var ext ExtendedError[T]
	if errors.As(err, &ext) {
		return ext.Data, true
	}
	var zero T
	return zero, false
}

// Unjoin splits an errors.Join result into its direct children.
// Any other error is returned as a single element slice.
func Unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

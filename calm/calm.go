// Package calm converts panics into errors carrying a stack trace.
package calm

import (
	"fmt"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

// skip runtime.Callers, GetStack, fromPanic and the deferred recover
const panicSkip = 4

// Call runs f and returns its results. A panic inside f is returned as an
// error of class errclass.Panic with the stack of the panic site.
// Goroutines started by f are not protected.
func Call[R any](f func() (R, error)) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			result = zero
			err = fromPanic(r)
		}
	}()
	return f()
}

// Unpanic is Call for functions that only return an error.
func Unpanic(f func() error) error {
	_, err := Call(func() (struct{}, error) {
		return struct{}{}, f()
	})
	return err
}

func fromPanic(r any) error {
	var err error
	if e, ok := r.(error); ok {
		err = fmt.Errorf("panic: %w", e)
	} else {
		err = fmt.Errorf("panic: %v", r)
	}
	err = xerrors.Extend(stacktrace.GetStack(panicSkip, true), err)
	return errclass.WrapAs(err, errclass.Panic)
}

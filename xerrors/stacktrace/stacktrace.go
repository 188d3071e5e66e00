// Package stacktrace records where an error was first seen.
package stacktrace

import (
	"errors"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors"
)

const maxFrames = 50

// skip runtime.Callers, GetStack, wrapOne and Wrap
const wrapSkip = 4

var (
	// Disabled turns Wrap into a no-op.
	Disabled atomic.Bool

	runtimeFile = regexp.MustCompile(`go[^/]*/src/runtime/[^.]+\.go`)
	testingFile = regexp.MustCompile(`go[^/]*/src/testing/[^.]+\.go`)
)

// Frame is a single call site.
type Frame struct {
	File     string `json:"source"`
	Line     int    `json:"line"`
	Function string `json:"func"`
}

// StackTrace is a list of frames, innermost first.
type StackTrace []Frame

// GetStack captures the stack of the caller. skip has the meaning of
// runtime.Callers. When trimRuntime is set, frames from the runtime and
// testing packages are dropped.
func GetStack(skip int, trimRuntime bool) StackTrace {
	pc := make([]uintptr, maxFrames)
	pc = pc[:runtime.Callers(skip, pc)]

	var trace StackTrace
	frames := runtime.CallersFrames(pc)
	for {
		frame, more := frames.Next()
		if trimRuntime && isRuntimeFrame(frame) {
			if !more {
				break
			}
			continue
		}
		trace = append(trace, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		if !more {
			break
		}
	}
	return trace
}

func isRuntimeFrame(frame runtime.Frame) bool {
	switch {
	case strings.HasPrefix(frame.Function, "runtime."):
		return runtimeFile.MatchString(frame.File)
	case strings.HasPrefix(frame.Function, "testing."):
		return testingFile.MatchString(frame.File)
	}
	return false
}

// Wrap attaches the caller's stack to err unless one is already attached.
// Children of a joined error are wrapped individually.
func Wrap(err error) error {
	if err == nil || Disabled.Load() {
		return err
	}
	if children := xerrors.Unjoin(err); len(children) > 1 {
		wrapped := make([]error, len(children))
		for i, child := range children {
			wrapped[i] = wrapOne(child)
		}
		return errors.Join(wrapped...)
	}
	return wrapOne(err)
}

func wrapOne(err error) error {
	if Extract(err) != nil {
		return err
	}
	return xerrors.Extend(GetStack(wrapSkip, true), err)
}

// Extract returns the stack attached to err, or nil.
func Extract(err error) StackTrace {
	trace, _ := xerrors.Extract[StackTrace](err)
	return trace
}

// Marshal renders the stack attached to err for structured logging, or nil.
func Marshal(err error) any {
	trace := Extract(err)
	if trace == nil {
		return nil
	}
	out := make([]map[string]string, len(trace))
	for i, frame := range trace {
		out[i] = map[string]string{
			"source": frame.File,
			"line":   strconv.Itoa(frame.Line),
			"func":   frame.Function,
		}
	}
	return out
}

// Package log provides slog loggers backed by zerolog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	slogcommon "github.com/samber/slog-common"
	slogzerolog "github.com/samber/slog-zerolog/v2"

	"github.com/zircuit-labs/zkr-go-thunk/xerrors"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errcontext"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	ErrorKey        = "error"
	ErrorContextKey = "error_context"
	StackTraceKey   = "stacktrace"
	ErrClassKey     = "class"
	SourceKey       = "source"
)

var (
	logLevel   = &slog.LevelVar{}
	timeFormat sync.Once
)

// SetLogLevel parses level (eg "debug", "WARN") and applies it to every
// logger created by NewLogger. An empty string leaves the level unchanged.
func SetLogLevel(level string) error {
	if level == "" {
		return nil
	}
	return logLevel.UnmarshalText([]byte(level))
}

// ErrAttr is a helper for logging error values.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

type options struct {
	serviceName string
	instanceID  string
	writer      io.Writer
}

// Option is an option func for NewLogger.
type Option func(options *options)

// WithServiceName sets the service name included in every entry.
func WithServiceName(name string) Option {
	return func(options *options) {
		options.serviceName = name
	}
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(id string) Option {
	return func(options *options) {
		options.instanceID = id
	}
}

// WithWriter sets the destination of log entries (stdout by default).
func WithWriter(w io.Writer) Option {
	return func(options *options) {
		options.writer = w
	}
}

// NewLogger creates a JSON logger writing through zerolog.
func NewLogger(opts ...Option) (*slog.Logger, error) {
	options := options{
		serviceName: "unknown",
		instanceID:  xid.New().String(),
		writer:      os.Stdout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.writer == nil {
		return nil, fmt.Errorf("log writer must not be nil")
	}

	timeFormat.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	})
	zlogger := zerolog.New(options.writer).With().
		Timestamp().
		Str("service", options.serviceName).
		Str("instance", options.instanceID).
		Logger()

	return slog.New(slogzerolog.Option{
		Converter: Converter,
		Level:     logLevel,
		Logger:    &zlogger,
	}.NewZerologHandler()), nil
}

// NewTestLogger creates a logger that writes through t.Log, so output only
// shows for failed tests. Logging after the test ends panics.
func NewTestLogger(t *testing.T) *slog.Logger {
	t.Helper()
	handler := slogt.New(t, slogt.JSON()).Handler()
	return slog.New(NewExpandingHandler(handler)).With(slog.String("test", t.Name()))
}

// Converter is slogcommon.DefaultConverter with errors expanded by expandErrors.
func Converter(addSource bool, replaceAttr func(groups []string, a slog.Attr) slog.Attr, loggerAttr []slog.Attr, groups []string, record *slog.Record) map[string]any {
	attrs := slogcommon.AppendRecordAttrsToAttrs(loggerAttr, groups, record)
	attrs = expandErrors(attrs)
	if addSource {
		attrs = append(attrs, slogcommon.Source(SourceKey, record))
	}
	attrs = slogcommon.ReplaceAttrs(replaceAttr, []string{}, attrs...)
	return slogcommon.AttrsToMap(attrs...)
}

// expandErrors replaces a top level error attribute with its message and
// adds an error_context group holding class, stack trace and context
// attributes. Joined errors become a list of messages with one
// error_<n> group per child.
func expandErrors(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs)+1)
	var details [][]slog.Attr
	for _, attr := range attrs {
		err, ok := attr.Value.Any().(error)
		if attr.Key != ErrorKey || !ok || err == nil {
			out = append(out, attr)
			continue
		}

		children := xerrors.Unjoin(err)
		messages := make([]string, len(children))
		details = make([][]slog.Attr, len(children))
		for i, child := range children {
			messages[i] = child.Error()
			details[i] = errorDetail(child)
		}

		if len(children) == 1 {
			out = append(out, slog.String(ErrorKey, err.Error()))
		} else {
			out = append(out, slog.Any(ErrorKey, messages))
		}
	}

	switch {
	case len(details) == 1 && len(details[0]) > 1:
		out = append(out, slog.GroupAttrs(ErrorContextKey, details[0]...))
	case len(details) > 1:
		groups := make([]slog.Attr, len(details))
		for i, detail := range details {
			groups[i] = slog.GroupAttrs(fmt.Sprintf("error_%d", i), detail...)
		}
		out = append(out, slog.GroupAttrs(ErrorContextKey, groups...))
	}
	return out
}

func errorDetail(err error) []slog.Attr {
	detail := []slog.Attr{slog.String(ErrorKey, err.Error())}
	if trace := stacktrace.Marshal(err); trace != nil {
		detail = append(detail, slog.Any(StackTraceKey, trace))
	}
	if class := errclass.GetClass(err); class != errclass.Unknown {
		detail = append(detail, slog.String(ErrClassKey, class.String()))
	}
	return append(detail, errcontext.Get(err).Attrs()...)
}

package thunk

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zircuit-labs/zkr-go-thunk/log"
)

const tracerName = "github.com/zircuit-labs/zkr-go-thunk/thunk"

type options struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	preStart func(ctx context.Context) error
}

// Option is an option func for Bind, BindAsync and NewFactory.
type Option func(options *options)

// WithLogger sets the logger to be used.
func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithTracer sets the tracer used to open one span per invocation.
func WithTracer(tracer trace.Tracer) Option {
	return func(options *options) {
		options.tracer = tracer
	}
}

// WithPreStart sets a step run on every invocation before the started
// action is dispatched. If it fails, nothing is dispatched and its error is
// returned from the invocation.
func WithPreStart(f func(ctx context.Context) error) Option {
	return func(options *options) {
		options.preStart = f
	}
}

func newOptions(opts []Option) options {
	options := options{
		logger: log.NewNilLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

package action

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zircuit-labs/zkr-go-thunk/collections"
	"github.com/zircuit-labs/zkr-go-thunk/log"
)

const defaultSeparator = "/"

type options struct {
	separator  string
	commonMeta Meta
	strict     bool
	logger     *slog.Logger
}

// Option is an option func for NewFactory.
type Option func(options *options)

// WithSeparator sets the string placed between the prefix and an action name.
func WithSeparator(sep string) Option {
	return func(options *options) {
		options.separator = sep
	}
}

// WithCommonMeta sets meta included in every action created by the factory.
func WithCommonMeta(meta Meta) Option {
	return func(options *options) {
		options.commonMeta = meta
	}
}

// WithStrictTypes makes creating two creators with the same type panic
// instead of logging a warning.
func WithStrictTypes() Option {
	return func(options *options) {
		options.strict = true
	}
}

// WithLogger sets the logger to be used.
func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// Factory creates action creators whose types share a prefix.
type Factory struct {
	prefix string
	opts   options

	mu    sync.Mutex
	types collections.Set[string]
}

// NewFactory creates a Factory. An empty prefix produces unprefixed types.
func NewFactory(prefix string, opts ...Option) *Factory {
	options := options{
		separator: defaultSeparator,
		logger:    log.NewNilLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Factory{
		prefix: prefix,
		opts:   options,
		types:  collections.NewSet[string](),
	}
}

// Prefix returns the prefix shared by all types from this factory.
func (f *Factory) Prefix() string {
	return f.prefix
}

// TypeOf returns the full action type for name.
func (f *Factory) TypeOf(name string) string {
	if f.prefix == "" {
		return name
	}
	return f.prefix + f.opts.separator + name
}

// register records actionType, reporting duplicates.
func (f *Factory) register(actionType string) {
	f.mu.Lock()
	fresh := f.types.Insert(actionType)
	f.mu.Unlock()

	if fresh {
		return
	}
	if f.opts.strict {
		panic(fmt.Sprintf("action: duplicate action type %q", actionType))
	}
	f.opts.logger.Warn("duplicate action type", slog.String("action_type", actionType))
}

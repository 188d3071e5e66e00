package relay

import (
	"context"
	"log/slog"
	"maps"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/store"
	"github.com/zircuit-labs/zkr-go-thunk/thunk"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

// Filter selects the actions a Publisher forwards.
type Filter func(a action.Action) bool

// All forwards every action.
func All(action.Action) bool {
	return true
}

// LifecycleOnly forwards started, done and failed actions.
func LifecycleOnly(a action.Action) bool {
	_, phase := action.Lifecycle(a)
	return phase != action.PhaseNone
}

type publisherConfig struct {
	Subject       string
	LifecycleOnly bool `koanf:"lifecycleonly"`
}

// Publisher sends actions to a JetStream subject.
type Publisher struct {
	config publisherConfig
	nc     *nats.Conn
	owned  bool
	js     jetstream.JetStream
	opts   options
}

// NewPublisher creates a Publisher from the settings at cfgPath.
func NewPublisher(cfg *config.Configuration, cfgPath string, opts ...Option) (*Publisher, error) {
	options := parseOptions(opts)

	settings, err := config.Load(cfg, cfgPath, publisherConfig{})
	if err != nil {
		return nil, err
	}
	if settings.Subject == "" {
		return nil, stacktrace.Wrap(ErrNoSubject)
	}
	if options.filter == nil {
		options.filter = All
		if settings.LifecycleOnly {
			options.filter = LifecycleOnly
		}
	}

	nc, js, owned, err := connection(cfg, options, opts)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		config: settings,
		nc:     nc,
		owned:  owned,
		js:     js,
		opts:   options,
	}, nil
}

// Subject returns the subject actions are published to.
func (p *Publisher) Subject() string {
	return p.config.Subject
}

// Publish sends a, retrying failures with the configured retrier.
// The published copy carries MetaOrigin when an instance id is set.
func (p *Publisher) Publish(ctx context.Context, a action.Action) error {
	if p.opts.instanceID != "" {
		meta := maps.Clone(a.Meta)
		if meta == nil {
			meta = action.Meta{}
		}
		meta[MetaOrigin] = p.opts.instanceID
		a.Meta = meta
	}
	data, err := p.opts.marshaler(a)
	if err != nil {
		return stacktrace.Wrap(err)
	}
	return p.opts.retrier.Try(ctx, func(ctx context.Context) error {
		if _, err := p.js.Publish(ctx, p.config.Subject, data); err != nil {
			return stacktrace.Wrap(err)
		}
		return nil
	})
}

// Middleware returns store middleware publishing every action accepted by
// the filter once the rest of the chain has handled it. Actions that were
// themselves relayed are not published again. Publish failures are logged
// and never reach the dispatcher.
func Middleware[S any](p *Publisher) store.Middleware[S] {
	return func(_ func() S, next thunk.Dispatch) thunk.Dispatch {
		return func(a action.Action) any {
			result := next(a)
			if _, relayed := a.Meta[MetaSource]; relayed || !p.opts.filter(a) {
				return result
			}

			ctx, cancel := context.WithTimeout(context.Background(), p.opts.publishTimeout)
			defer cancel()
			if err := p.Publish(ctx, a); err != nil {
				p.opts.logger.Warn("failed to publish action",
					log.ErrAttr(err),
					slog.String("action_type", a.Type),
					slog.String("subject", p.config.Subject),
				)
			}
			return result
		}
	}
}

// Close closes the connection if the Publisher opened it.
func (p *Publisher) Close() {
	if p.owned {
		p.nc.Close()
	}
}

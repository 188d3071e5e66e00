package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/calm/errgroup"
	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/retry"
	"github.com/zircuit-labs/zkr-go-thunk/thunk"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	// AckWait defaults to 30 seconds, so report progress at half that.
	defaultInProgressInterval = 15 * time.Second

	baseNakDelay = 100 * time.Millisecond
	maxNakDelay  = time.Minute

	maxRestarts    = 5
	restartBackoff = 2 * time.Second
)

type consumerConfig struct {
	Stream       string
	Subject      string
	DurableQueue string `koanf:"durablequeue"`
	Description  string
}

// Consumer reads relayed actions from a JetStream stream and dispatches
// them. It is meant to run as a long lived task.
type Consumer struct {
	config   consumerConfig
	nc       *nats.Conn
	owned    bool
	js       jetstream.JetStream
	consumer jetstream.Consumer
	dispatch thunk.Dispatch
	opts     options
}

// NewConsumer creates a Consumer from the settings at cfgPath. Every
// decoded action is passed to dispatch with MetaSource set.
func NewConsumer(cfg *config.Configuration, cfgPath string, dispatch thunk.Dispatch, opts ...Option) (*Consumer, error) {
	options := parseOptions(opts)

	settings, err := config.Load(cfg, cfgPath, consumerConfig{})
	if err != nil {
		return nil, err
	}
	if settings.Stream == "" {
		return nil, stacktrace.Wrap(ErrNoStream)
	}

	nc, js, owned, err := connection(cfg, options, opts)
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(context.Background(), settings.Stream, jetstream.ConsumerConfig{
		Durable:       settings.DurableQueue,
		Description:   settings.Description,
		FilterSubject: settings.Subject,
	})
	if err != nil {
		if owned {
			nc.Close()
		}
		return nil, stacktrace.Wrap(err)
	}

	return &Consumer{
		config:   settings,
		nc:       nc,
		owned:    owned,
		js:       js,
		consumer: consumer,
		dispatch: dispatch,
		opts:     options,
	}, nil
}

// Name returns the name of this task for the purposes of logging.
func (c *Consumer) Name() string {
	return fmt.Sprintf("relay-consumer (%s)", c.consumer.CachedInfo().Name)
}

// HealthCheck returns an error if the NATS connection is not connected.
func (c *Consumer) HealthCheck(context.Context) error {
	if c.nc.Status() != nats.CONNECTED {
		return stacktrace.Wrap(ErrNATSNotConnected)
	}
	return nil
}

// Run dispatches incoming actions until ctx is done. Recoverable stream
// errors restart consumption a few times before Run gives up.
func (c *Consumer) Run(ctx context.Context) error {
	if c.owned {
		defer c.nc.Close()
	}

	retrier := retry.NewRetrier(
		retry.WithMaxAttempts(maxRestarts),
		retry.WithBackoff(retry.Exponential(restartBackoff, maxNakDelay, nil)),
	)
	err := retrier.Try(ctx, func(ctx context.Context) error {
		err := c.consume(ctx)
		if err == nil || isRecoverable(err) {
			if err != nil {
				c.opts.logger.Warn("recoverable consumer error, restarting", log.ErrAttr(err), slog.String("task", c.Name()))
			}
			return err
		}
		return errclass.WrapAs(err, errclass.Persistent)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Consumer) consume(ctx context.Context) error {
	info, err := c.consumer.Info(ctx)
	if err != nil {
		return stacktrace.Wrap(err)
	}
	// recreate so the consumer is bound to the current connection
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, info.Stream, info.Config)
	if err != nil {
		return stacktrace.Wrap(err)
	}
	c.consumer = consumer

	failed := make(chan error, 1)
	report := func(err error) {
		select {
		case failed <- stacktrace.Wrap(err):
		default:
		}
	}

	cc, err := c.consumer.Consume(
		func(msg jetstream.Msg) {
			c.handleMessage(ctx, msg)
		},
		jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
			// missed heartbeats only matter once the connection is gone
			if errors.Is(err, jetstream.ErrNoHeartbeat) || errors.Is(err, nats.ErrNoHeartbeat) {
				if c.nc.Status() == nats.CONNECTED {
					return
				}
				err = ErrNATSNotConnected
			}
			cc.Stop()
			report(err)
		}),
	)
	if err != nil {
		return stacktrace.Wrap(err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	logger := c.opts.logger.With(slog.String("task", c.Name()), slog.String("subject", msg.Subject()))

	meta, err := msg.Metadata()
	if err != nil {
		logger.Error("failed to fetch message metadata", log.ErrAttr(err))
		_ = msg.NakWithDelay(baseNakDelay)
		return
	}
	logger = logger.With(
		slog.Uint64("sequence_number", meta.Sequence.Stream),
		slog.Uint64("delivery_attempt", meta.NumDelivered),
	)

	var a action.Action
	if err := c.opts.unmarshaler(msg.Data(), &a); err != nil || a.Type == "" {
		// redelivery cannot fix a malformed message
		logger.Error("failed to decode action - skipping", log.ErrAttr(err))
		_ = msg.Ack()
		return
	}
	if c.opts.instanceID != "" && a.Meta[MetaOrigin] == c.opts.instanceID {
		logger.Debug("skipping own action", slog.String("action_type", a.Type))
		_ = msg.Ack()
		return
	}
	tagged := maps.Clone(a.Meta)
	if tagged == nil {
		tagged = action.Meta{}
	}
	tagged[MetaSource] = msg.Subject()
	a.Meta = tagged

	// a panicking dispatch is nak'd like any other failure
	innerCtx, cancel := context.WithCancel(ctx)
	g := errgroup.New()
	g.Go(func() error {
		defer cancel()
		c.dispatch(a)
		return nil
	})
	g.Go(func() error {
		c.reportProgress(innerCtx, msg)
		return nil
	})

	var ackErr error
	if err := g.Wait(); err != nil {
		delay := NakDelay(meta.NumDelivered)
		if ctx.Err() == nil {
			logger.Error("failed to dispatch action - will retry", log.ErrAttr(err),
				slog.String("action_type", a.Type), slog.Duration("delay", delay))
		}
		ackErr = msg.NakWithDelay(delay)
	} else {
		ackErr = msg.Ack()
	}
	if ackErr != nil && ctx.Err() == nil {
		logger.Warn("failed to ack/nak message", log.ErrAttr(ackErr))
	}
}

// reportProgress resets the server's ack timer until ctx is done.
func (c *Consumer) reportProgress(ctx context.Context, msg jetstream.Msg) {
	ticker := time.NewTicker(c.opts.inProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = msg.InProgress()
		}
	}
}

// NakDelay doubles the redelivery delay with every delivery, up to a minute.
func NakDelay(numDelivered uint64) time.Duration {
	if numDelivered <= 10 {
		if d := baseNakDelay << numDelivered; d < maxNakDelay {
			return d
		}
	}
	return maxNakDelay
}

func isRecoverable(err error) bool {
	switch {
	case errors.Is(err, jetstream.ErrConsumerLeadershipChanged),
		errors.Is(err, ErrNATSNotConnected),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrNoServers):
		return true
	default:
		// no sentinel exists for this one
		return strings.Contains(strings.ToLower(err.Error()), "nats: server shutdown")
	}
}

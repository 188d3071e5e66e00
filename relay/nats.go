// Package relay carries actions between processes over NATS JetStream.
//
// A Publisher installed as store middleware forwards dispatched actions to a
// subject; a Consumer reads them back and dispatches them into another
// store. Relayed actions are tagged with MetaSource so a store running both
// never publishes what it received. A publisher and consumer sharing an
// instance id (see WithInstanceID) also skip the actions they published
// themselves.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/retry"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	natsConfigPath = "nats"

	// MetaSource is the meta key set on relayed actions, holding the subject
	// they arrived on.
	MetaSource = "relay_source"

	// MetaOrigin is the meta key set on published actions, holding the
	// instance id of the publisher when one is configured.
	MetaOrigin = "relay_origin"
)

var (
	ErrNoSubject        = errors.New("must provide a subject")
	ErrNoStream         = errors.New("must provide a stream")
	ErrNATSNotConnected = errors.New("nats: status is not connected")
	ErrNoJetStream      = errors.New("nats: jetstream not supported")
)

type natsConfig struct {
	Address         string
	CredentialsPath string `koanf:"credentialspath"`
	UserJWT         string `koanf:"userjwt"`
	NKeySeed        string `koanf:"nkeyseed"`
}

// Connect opens a NATS connection described by the settings at the nats
// config path.
func Connect(cfg *config.Configuration, opts ...Option) (*nats.Conn, jetstream.JetStream, error) {
	options := parseOptions(opts)

	settings, err := config.Load(cfg, options.natsConfigPath, natsConfig{Address: nats.DefaultURL})
	if err != nil {
		return nil, nil, err
	}

	var natsOpts []nats.Option
	switch {
	case settings.CredentialsPath != "":
		natsOpts = append(natsOpts, nats.UserCredentials(settings.CredentialsPath))
	case settings.UserJWT != "" && settings.NKeySeed != "":
		natsOpts = append(natsOpts, nats.UserJWTAndSeed(settings.UserJWT, settings.NKeySeed))
	}

	nc, err := nats.Connect(settings.Address, natsOpts...)
	if err != nil {
		return nil, nil, stacktrace.Wrap(err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, stacktrace.Wrap(err)
	}
	return nc, js, nil
}

type (
	MarshalFn   func(v any) ([]byte, error)
	UnmarshalFn func(data []byte, v any) error
)

// Retrier retries publishing.
type Retrier interface {
	Try(ctx context.Context, f func(ctx context.Context) error) error
}

type options struct {
	logger             *slog.Logger
	marshaler          MarshalFn
	unmarshaler        UnmarshalFn
	retrier            Retrier
	publishTimeout     time.Duration
	inProgressInterval time.Duration
	nc                 *nats.Conn
	js                 jetstream.JetStream
	natsConfigPath     string
	filter             Filter
	instanceID         string
}

func parseOptions(opts []Option) options {
	options := options{
		logger:             log.NewNilLogger(),
		marshaler:          json.Marshal,
		unmarshaler:        json.Unmarshal,
		retrier:            retry.NewRetrier(retry.WithMaxAttempts(5)),
		publishTimeout:     5 * time.Second,
		inProgressInterval: defaultInProgressInterval,
		natsConfigPath:     natsConfigPath,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Option is an option func for NewPublisher and NewConsumer.
type Option func(options *options)

// WithLogger sets the logger to be used.
func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithDataSerialization replaces JSON as the wire format of actions.
func WithDataSerialization(marshaler MarshalFn, unmarshaler UnmarshalFn) Option {
	return func(options *options) {
		options.marshaler = marshaler
		options.unmarshaler = unmarshaler
	}
}

// WithRetrier sets the retry mechanism used when publishing.
func WithRetrier(retrier Retrier) Option {
	return func(options *options) {
		options.retrier = retrier
	}
}

// WithPublishTimeout bounds how long the publishing middleware may block a
// dispatch, retries included.
func WithPublishTimeout(d time.Duration) Option {
	return func(options *options) {
		options.publishTimeout = d
	}
}

// WithInProgressInterval sets how often a consumer tells the server a
// message is still being dispatched.
func WithInProgressInterval(d time.Duration) Option {
	return func(options *options) {
		options.inProgressInterval = d
	}
}

// WithNATSConnection uses nc instead of connecting from config. The caller
// keeps ownership of nc.
func WithNATSConnection(nc *nats.Conn) Option {
	return func(options *options) {
		options.nc = nc
		if js, err := jetstream.New(nc); err == nil {
			options.js = js
		}
	}
}

// WithNATSConfigPath sets the config path of the connection settings.
func WithNATSConfigPath(path string) Option {
	return func(options *options) {
		options.natsConfigPath = path
	}
}

// WithFilter sets which actions the publisher forwards.
func WithFilter(filter Filter) Option {
	return func(options *options) {
		options.filter = filter
	}
}

// WithInstanceID tags published actions with id under MetaOrigin and makes
// a Consumer acknowledge, without dispatching, actions carrying the same id.
// Give the Publisher and Consumer of one store the same id.
func WithInstanceID(id string) Option {
	return func(options *options) {
		options.instanceID = id
	}
}

// connection returns the injected connection or dials one from cfg.
// owned reports whether the caller must close it.
func connection(cfg *config.Configuration, options options, opts []Option) (nc *nats.Conn, js jetstream.JetStream, owned bool, err error) {
	if options.nc != nil {
		if options.js == nil {
			return nil, nil, false, stacktrace.Wrap(ErrNoJetStream)
		}
		return options.nc, options.js, false, nil
	}
	nc, js, err = Connect(cfg, opts...)
	if err != nil {
		return nil, nil, false, err
	}
	return nc, js, true, nil
}

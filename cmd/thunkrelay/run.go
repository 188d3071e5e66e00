package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/xid"

	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/http/actionapi"
	"github.com/zircuit-labs/zkr-go-thunk/http/echotask"
	"github.com/zircuit-labs/zkr-go-thunk/metrics"
	"github.com/zircuit-labs/zkr-go-thunk/relay"
	"github.com/zircuit-labs/zkr-go-thunk/runner"
	"github.com/zircuit-labs/zkr-go-thunk/singleton"
	"github.com/zircuit-labs/zkr-go-thunk/store"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const cfgPath = "thunkrelay"

type appConfig struct {
	Embedded  bool
	Singleton bool
	Stream    string
	Subjects  []string
	History   int
	CacheTTL  time.Duration `koanf:"cachettl"`
}

func run(cfg *config.Configuration, tm runner.Runner, logger *slog.Logger) error {
	settings, err := config.Load(cfg, cfgPath, appConfig{History: 100, CacheTTL: time.Second})
	if err != nil {
		return err
	}

	nc, js, err := connect(cfg, settings, tm, logger)
	if err != nil {
		return err
	}
	if settings.Stream != "" {
		if _, err := relay.EnsureStream(tm.Context(), js, settings.Stream, settings.Subjects...); err != nil {
			return err
		}
	}
	// identifies this instance to the leaser and to its own relay consumer
	instanceID := xid.New().String()
	if settings.Singleton {
		lease, err := acquire(tm, js, instanceID, logger)
		if err != nil || lease == nil {
			return err
		}
		tm.Run(lease)
	}

	relayOpts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithNATSConnection(nc),
		relay.WithInstanceID(instanceID),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	publisher, err := relay.NewPublisher(cfg, "publisher", relayOpts...)
	if err != nil {
		return err
	}

	s := store.New(Summary{},
		store.WithReducer[Summary, *deps](reduce),
		store.WithLogger[Summary, *deps](logger),
		store.WithMiddleware[Summary, *deps](
			metrics.Middleware[Summary](collector),
			relay.Middleware[Summary](publisher),
		),
		store.WithExtra[Summary, *deps](newDeps(logger)),
	)

	consumer, err := relay.NewConsumer(cfg, "consumer", s.Dispatch, relayOpts...)
	if err != nil {
		return err
	}

	server, err := echotask.NewServer(cfg, "http",
		echotask.WithLogger(logger),
		echotask.WithName("thunkrelay http"),
		echotask.WithRegistry(registry),
		echotask.WithHealthCheck(consumer),
		echotask.WithMemoryCache(64, settings.CacheTTL),
		echotask.WithRoutes(actionapi.New(s, settings.History)),
		echotask.WithRoutes(&routes{store: s, consumer: consumer}),
	)
	if err != nil {
		return err
	}

	tm.Run(consumer, server)
	return nil
}

// connect starts the embedded server when configured and returns a
// connection that is closed once every task has stopped.
func connect(cfg *config.Configuration, settings appConfig, tm runner.Runner, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if !settings.Embedded {
		nc, js, err := relay.Connect(cfg)
		if err != nil {
			return nil, nil, err
		}
		tm.Cleanup(nc.Close)
		return nc, js, nil
	}

	srv, err := relay.NewEmbeddedServer(cfg, "server")
	if err != nil {
		return nil, nil, err
	}
	nc, err := srv.NewConnection()
	if err != nil {
		srv.Close()
		return nil, nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		srv.Close()
		return nil, nil, stacktrace.Wrap(err)
	}
	logger.Info("embedded nats server started", slog.String("url", nc.ConnectedUrl()))

	// srv closes itself when its task stops
	tm.Cleanup(nc.Close)
	tm.RunTerminable(srv)
	return nc, js, nil
}

// acquire blocks until this instance is the only active one. It returns a
// nil lease when the service is stopped while waiting.
func acquire(tm runner.Runner, js jetstream.JetStream, id string, logger *slog.Logger) (*singleton.Lease, error) {
	leaser, err := singleton.NewLeaser(tm.Context(), js, id, singleton.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("waiting to become the active instance")
	lease, err := leaser.Acquire(tm.Context(), cfgPath)
	if err != nil {
		if errors.Is(err, tm.Context().Err()) {
			return nil, nil
		}
		return nil, err
	}
	return lease, nil
}

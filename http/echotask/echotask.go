// Package echotask runs an echo HTTP server as a task.
package echotask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zircuit-labs/zkr-go-thunk/calm/errgroup"
	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/http/echotask/cache"
	"github.com/zircuit-labs/zkr-go-thunk/http/echotask/healthcheck"
	"github.com/zircuit-labs/zkr-go-thunk/http/port"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	healthCheckRoute = "/healthcheck"
	metricsRoute     = "/metrics"
	shutdownTimeout  = 10 * time.Second
)

// RouteRegistrant is the part of echo needed to register routes.
type RouteRegistrant interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RouteRegistration registers routes.
type RouteRegistration interface {
	RegisterRoutes(RouteRegistrant) error
}

type serverConfig struct {
	Port       int
	NoGzip     bool `koanf:"nogzip"`
	Prometheus string
}

type options struct {
	name        string
	routes      []RouteRegistration
	middlewares []echo.MiddlewareFunc
	checkers    []healthcheck.Checker
	registry    *prometheus.Registry
	cleanup     func()
	logger      *slog.Logger
}

// Option is an option func for NewServer.
type Option func(options *options)

// WithLogger sets the logger to be used.
func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithName sets the name of the task.
func WithName(name string) Option {
	return func(options *options) {
		options.name = name
	}
}

// WithRoutes adds routes to be served.
func WithRoutes(routes RouteRegistration) Option {
	return func(options *options) {
		options.routes = append(options.routes, routes)
	}
}

// WithHealthCheck serves /healthcheck, healthy while every checker passes.
func WithHealthCheck(checkers ...healthcheck.Checker) Option {
	return func(options *options) {
		options.checkers = append(options.checkers, checkers...)
	}
}

// WithRegistry serves the metrics of registry on /metrics. HTTP metrics are
// added to it when the config names a prometheus subsystem.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(options *options) {
		options.registry = registry
	}
}

// WithCleanup sets a func called after the server shuts down.
func WithCleanup(f func()) Option {
	return func(options *options) {
		options.cleanup = f
	}
}

// WithMemoryCache caches successful GET responses in memory.
func WithMemoryCache(maxItems int, ttl time.Duration) Option {
	return func(options *options) {
		options.middlewares = append(options.middlewares, cache.Middleware(cache.NewMemory(maxItems, ttl)))
	}
}

// Server is an HTTP server built on echo that implements task.Task.
type Server struct {
	e       *echo.Echo
	name    string
	port    int
	cleanup func()
	logger  *slog.Logger
}

// NewServer creates a Server from the settings at cfgPath. A zero port
// picks a free one.
func NewServer(cfg *config.Configuration, cfgPath string, opts ...Option) (*Server, error) {
	settings, err := config.Load(cfg, cfgPath, serverConfig{})
	if err != nil {
		return nil, err
	}

	options := options{
		name:   "echo server",
		logger: log.NewNilLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	p := settings.Port
	if p == 0 {
		if p, err = port.AvailablePort(); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(Recover(options.logger))
	if !settings.NoGzip {
		e.Use(middleware.Gzip())
	}

	if options.registry != nil {
		if settings.Prometheus != "" {
			e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
				Subsystem:                 settings.Prometheus,
				Registerer:                options.registry,
				DoNotUseRequestPathFor404: true,
			}))
		}
		e.GET(metricsRoute, echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: options.registry,
		}))
	}
	if len(options.checkers) > 0 {
		e.GET(healthCheckRoute, healthcheck.New(options.checkers...).Handle)
	}

	api := e.Group("", options.middlewares...)
	for _, r := range options.routes {
		if err := r.RegisterRoutes(api); err != nil {
			return nil, err
		}
	}

	return &Server{
		e:       e,
		name:    options.name,
		port:    p,
		cleanup: options.cleanup,
		logger:  options.logger,
	}, nil
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	return s.port
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cleanup != nil {
		defer s.cleanup()
	}

	g := errgroup.New()
	g.Go(func() error {
		err := s.e.Start(fmt.Sprintf(":%d", s.port))
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return stacktrace.Wrap(err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Name returns the name of this task.
func (s *Server) Name() string {
	return fmt.Sprintf("%s on :%d", s.name, s.port)
}

// Package runner holds the boilerplate shared by the main functions of
// services: logging, configuration, signal handling and task management.
package runner

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/zircuit-labs/zkr-go-thunk/calm"
	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/task"
	"github.com/zircuit-labs/zkr-go-thunk/version"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	exitOK    = 0
	exitError = 1
	exitPanic = 2 // go standard exit code on panic
	cfgPath   = "runner"
)

type runnerConfig struct {
	LogLevel string
}

type options struct {
	writer     io.Writer
	configOpts []config.Option
	signals    bool
}

// Option is an option func for Run.
type Option func(options *options)

// WithLogWriter sets where logs are written (stdout by default).
func WithLogWriter(w io.Writer) Option {
	return func(options *options) {
		options.writer = w
	}
}

// WithConfigOptions sets options used to load the configuration.
func WithConfigOptions(opts ...config.Option) Option {
	return func(options *options) {
		options.configOpts = append(options.configOpts, opts...)
	}
}

// WithoutSignals skips stopping on OS signals.
func WithoutSignals() Option {
	return func(options *options) {
		options.signals = false
	}
}

// Runner limits task manager interface.
type Runner interface {
	Run(tasks ...task.Task)
	RunTerminable(tasks ...task.Task)
	Cleanup(f func())
	Context() context.Context
}

// Runnable is a func that takes arguments provided by Run.
type Runnable func(cfg *config.Configuration, tm Runner, logger *slog.Logger) error

// Run abstracts away common boilerplate from `main()` for standardized
// services. It exits the process once run and its tasks are done.
func Run(serviceName string, f fs.FS, run Runnable, opts ...Option) {
	os.Exit(Execute(serviceName, f, run, opts...)) //revive:disable:deep-exit // intentional
}

// Execute is Run without exiting: it returns the exit code.
func Execute(serviceName string, f fs.FS, run Runnable, opts ...Option) int {
	options := options{
		writer:  os.Stdout,
		signals: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger, err := log.NewLogger(
		log.WithServiceName(serviceName),
		log.WithWriter(options.writer),
	)
	if err != nil {
		fmt.Printf("failed to create logger: %s\n", err)
		return exitError
	}
	logger.Info("service starting",
		slog.String("version", version.Info.Version),
		slog.String("git_commit", version.Info.GitCommit),
	)

	// execute the core run logic protected from direct panics.
	// NOTE: goroutines spawned by `run` must be themselves protected.
	err = calm.Unpanic(func() error {
		return protectedRun(f, run, logger, options)
	})

	switch errclass.GetClass(err) {
	case errclass.Nil:
		logger.Info("service exited normally")
		return exitOK
	case errclass.Panic:
		logger.Error("service failed with panic", log.ErrAttr(err))
		return exitPanic
	default:
		logger.Error("service failed with error", log.ErrAttr(err))
		return exitError
	}
}

func protectedRun(f fs.FS, run Runnable, logger *slog.Logger, opts options) error {
	cfg, err := config.NewConfiguration(f, opts.configOpts...)
	if err != nil {
		return stacktrace.Wrap(err)
	}

	settings, err := config.Load(cfg, cfgPath, runnerConfig{})
	if err != nil {
		return err
	}
	if err := log.SetLogLevel(settings.LogLevel); err != nil {
		logger.Error("failed to set log level", log.ErrAttr(err))
	}

	tm := task.NewManager(task.WithLogger(logger))
	if opts.signals {
		tm.Run(task.NewSignalTask(logger))
	}

	// if the Runnable fails, stop any running tasks and terminate now
	if err := run(cfg, tm, logger); err != nil {
		_ = tm.Stop()
		return err
	}

	return tm.Wait()
}

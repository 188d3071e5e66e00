package task

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zircuit-labs/zkr-go-thunk/log"
)

// DefaultSignals stop a SignalTask.
var DefaultSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// SignalTask returns when the process receives one of its signals, which
// makes a Manager stop every other task.
type SignalTask struct {
	signals []os.Signal
	logger  *slog.Logger
}

// NewSignalTask creates a SignalTask for the given signals, or
// DefaultSignals when none are given.
func NewSignalTask(logger *slog.Logger, signals ...os.Signal) *SignalTask {
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	if logger == nil {
		logger = log.NewNilLogger()
	}
	return &SignalTask{signals: signals, logger: logger}
}

func (t *SignalTask) Name() string {
	return "os signal task"
}

func (t *SignalTask) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, t.signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		// logged at error level so unexpected terminations stand out
		t.logger.Error("os signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}
	return nil
}

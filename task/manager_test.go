package task_test

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/task"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
)

var errTest = errors.New("test error")

// blocking returns a task that waits for ctx and then returns err.
func blocking(name string, err error) task.Task {
	return task.Func(name, func(ctx context.Context) error {
		<-ctx.Done()
		return err
	})
}

func TestStopRunsCleanupInReverse(t *testing.T) {
	t.Parallel()

	m := task.NewManager(task.WithLogger(log.NewTestLogger(t)))
	var order []int
	m.Cleanup(func() { order = append(order, 1) })
	m.Cleanup(func() { order = append(order, 2) })

	m.Run(blocking("a", nil), blocking("b", nil))
	require.NoError(t, m.Stop())
	assert.Equal(t, []int{2, 1}, order)
	assert.Error(t, m.Context().Err())
}

func TestFailureStopsAll(t *testing.T) {
	t.Parallel()

	m := task.NewManager()
	m.Run(blocking("waits", nil))
	m.RunTerminable(task.Func("fails", func(context.Context) error {
		return errTest
	}))

	assert.ErrorIs(t, m.Wait(), errTest)
}

func TestTerminableDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	m := task.NewManager()
	var finished atomic.Bool
	done := make(chan struct{})
	m.RunTerminable(task.Func("short", func(context.Context) error {
		finished.Store(true)
		close(done)
		return nil
	}))
	m.Run(blocking("long", nil))

	<-done
	assert.NoError(t, m.Context().Err())
	require.NoError(t, m.Stop())
	assert.True(t, finished.Load())
}

func TestReturningTaskStopsAll(t *testing.T) {
	t.Parallel()

	m := task.NewManager()
	m.Run(blocking("long", nil))
	m.Run(task.Func("short", func(context.Context) error { return nil }))
	require.NoError(t, m.Wait())
}

func TestPanicIsError(t *testing.T) {
	t.Parallel()

	m := task.NewManager()
	m.Run(task.Func("panics", func(context.Context) error {
		panic("task panic")
	}))
	err := m.Wait()
	require.Error(t, err)
	assert.Equal(t, errclass.Panic, errclass.GetClass(err))
}

func TestSignalTask(t *testing.T) {
	t.Parallel()

	m := task.NewManager()
	m.Run(task.NewSignalTask(log.NewTestLogger(t), syscall.SIGUSR1))
	m.Run(blocking("service", nil))

	// the signal task stops with the manager as well
	require.NoError(t, m.Stop())
}

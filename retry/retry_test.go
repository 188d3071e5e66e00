package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/zkr-go-thunk/retry"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
)

var (
	errTest       = errors.New("this is a test error")
	errPersistent = errclass.WrapAs(errTest, errclass.Persistent)
	errTransient  = errclass.WrapAs(errTest, errclass.Transient)
)

// flaky returns its errors in order, then succeeds.
type flaky struct {
	calls       int
	errs        []error
	shouldPanic bool
}

func (f *flaky) call(context.Context) (int, error) {
	if f.shouldPanic {
		panic("this is a test panic")
	}
	f.calls++
	if f.calls <= len(f.errs) {
		return 0, f.errs[f.calls-1]
	}
	return f.calls, nil
}

func TestRetrySemantics(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		cancel      bool
		unknownAs   errclass.Class
		maxAttempts int
		errs        []error
		shouldPanic bool
		cause       retry.Cause
		attempts    int
	}{
		{name: "immediate success", unknownAs: errclass.Transient, maxAttempts: 3, cause: retry.Success, attempts: 1},
		{name: "panic", unknownAs: errclass.Transient, maxAttempts: 3, shouldPanic: true, cause: retry.PersistentErrorEncountered, attempts: 1},
		{name: "persistent", unknownAs: errclass.Transient, maxAttempts: 3, errs: []error{errPersistent}, cause: retry.PersistentErrorEncountered, attempts: 1},
		{name: "transient then success", unknownAs: errclass.Transient, maxAttempts: 3, errs: []error{errTransient, errTransient}, cause: retry.Success, attempts: 3},
		{name: "max attempts", unknownAs: errclass.Transient, maxAttempts: 2, errs: []error{errTransient, errTransient, errTransient}, cause: retry.MaxAttemptsReached, attempts: 2},
		{name: "unknown as persistent", unknownAs: errclass.Persistent, maxAttempts: 3, errs: []error{errTest}, cause: retry.PersistentErrorEncountered, attempts: 1},
		{name: "unknown as transient", unknownAs: errclass.Transient, maxAttempts: 3, errs: []error{errTest}, cause: retry.Success, attempts: 2},
		{name: "cancelled", cancel: true, unknownAs: errclass.Transient, maxAttempts: 3, cause: retry.ContextDone, attempts: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			if tc.cancel {
				cancel()
			}

			r := retry.NewRetrier(
				retry.WithBackoff(retry.Constant(0)),
				retry.WithMaxAttempts(tc.maxAttempts),
				retry.WithUnknownErrorsAs(tc.unknownAs),
			)
			f := &flaky{errs: tc.errs, shouldPanic: tc.shouldPanic}
			n, err := retry.Do(ctx, r, f.call)

			if tc.cause == retry.Success {
				require.NoError(t, err)
				assert.Equal(t, tc.attempts, n)
				return
			}

			require.Error(t, err)
			stats, ok := xerrors.Extract[retry.Stats](err)
			require.True(t, ok)
			assert.Equal(t, tc.cause, stats.Cause, stats.Cause.String())
			assert.Equal(t, tc.attempts, stats.Attempts)
			if tc.cancel {
				assert.ErrorIs(t, err, context.Canceled)
			}
		})
	}
}

func TestBackoffWithClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	r := retry.NewRetrier(
		retry.WithClock(clock),
		retry.WithBackoff(retry.Exponential(time.Second, 3*time.Second, retry.NoJitter)),
		retry.WithMaxAttempts(4),
	)

	done := make(chan error, 1)
	go func() {
		done <- r.Try(t.Context(), func(context.Context) error {
			return errTransient
		})
	}()

	// delays: 1s, 2s, then capped at 3s
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(d)
	}

	err := <-done
	require.ErrorIs(t, err, errTest)
	stats, ok := xerrors.Extract[retry.Stats](err)
	require.True(t, ok)
	assert.Equal(t, retry.MaxAttemptsReached, stats.Cause)
	assert.Equal(t, 4, stats.Attempts)
	assert.Equal(t, 6*time.Second, stats.Duration)
}

func TestJitter(t *testing.T) {
	t.Parallel()

	backoff := retry.Exponential(time.Second, time.Minute, nil)()
	for range 10 {
		d := backoff.Next()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Minute)
	}
	assert.Zero(t, retry.FullJitter(0))
	assert.Equal(t, time.Second, retry.NoJitter(time.Second))
	assert.Equal(t, time.Duration(0), retry.Constant(-time.Second)().Next())
}

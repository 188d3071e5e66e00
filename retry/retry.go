// Package retry calls functions repeatedly until they succeed, fail with a
// persistent error, or a limit is reached.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/zircuit-labs/zkr-go-thunk/calm"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

// Cause is the reason a retry loop stopped.
type Cause int

const (
	Success Cause = iota
	MaxAttemptsReached
	PersistentErrorEncountered
	ContextDone
)

func (c Cause) String() string {
	switch c {
	case Success:
		return "success"
	case MaxAttemptsReached:
		return "max attempts reached"
	case PersistentErrorEncountered:
		return "persistent error"
	case ContextDone:
		return "context done"
	default:
		return "unknown"
	}
}

type options struct {
	backoff        BackoffFactory
	maxAttempts    int
	treatUnknownAs errclass.Class
	clock          clockwork.Clock
}

// Option is an option func for NewRetrier.
type Option func(options *options)

// WithBackoff sets how long to wait between attempts.
func WithBackoff(backoff BackoffFactory) Option {
	return func(options *options) {
		options.backoff = backoff
	}
}

// WithMaxAttempts limits the number of attempts. Zero means no limit.
func WithMaxAttempts(maxAttempts int) Option {
	return func(options *options) {
		options.maxAttempts = maxAttempts
	}
}

// WithClock replaces the clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(options *options) {
		options.clock = clock
	}
}

// WithUnknownErrorsAs sets how errors without a class are treated:
// errclass.Transient (the default) retries them, errclass.Persistent stops.
func WithUnknownErrorsAs(class errclass.Class) Option {
	return func(options *options) {
		options.treatUnknownAs = class
	}
}

// Retrier holds retry settings and may be shared between goroutines.
type Retrier struct {
	opts options
}

// NewRetrier creates a Retrier.
func NewRetrier(opts ...Option) *Retrier {
	options := options{
		backoff:        Exponential(100*time.Millisecond, 5*time.Second, nil),
		clock:          clockwork.NewRealClock(),
		treatUnknownAs: errclass.Transient,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Retrier{opts: options}
}

// Stats describes how a retry loop ended. It is attached to every non-nil
// error returned by Try and Do; read it with xerrors.Extract[Stats].
type Stats struct {
	Attempts int
	Duration time.Duration
	Cause    Cause
}

// Try calls f until it returns nil or the loop stops.
func (r *Retrier) Try(ctx context.Context, f func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f(ctx)
	})
	return err
}

// Do calls f until it succeeds or the loop stops, returning the last result.
// Panics in f count as persistent failures.
func Do[R any](ctx context.Context, r *Retrier, f func(ctx context.Context) (R, error)) (R, error) {
	var (
		result R
		err    error
		cause  Cause
	)
	attempt := 0
	start := r.opts.clock.Now()
	backoff := r.opts.backoff()

	for {
		if ctx.Err() != nil {
			if err == nil {
				err = stacktrace.Wrap(ctx.Err())
			}
			cause = ContextDone
			break
		}
		if err != nil && r.opts.maxAttempts > 0 && attempt >= r.opts.maxAttempts {
			cause = MaxAttemptsReached
			break
		}

		attempt++
		result, err = calm.Call(func() (R, error) {
			return f(ctx)
		})

		class := errclass.GetClass(err)
		if class == errclass.Unknown {
			class = r.opts.treatUnknownAs
		}
		if class == errclass.Nil {
			return result, nil
		}
		if class == errclass.Persistent || class == errclass.Panic {
			cause = PersistentErrorEncountered
			break
		}

		r.wait(ctx, backoff.Next())
	}

	return result, xerrors.Extend(Stats{
		Attempts: attempt,
		Duration: r.opts.clock.Since(start),
		Cause:    cause,
	}, err)
}

func (r *Retrier) wait(ctx context.Context, d time.Duration) {
	timer := r.opts.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
	case <-ctx.Done():
	}
}

package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff produces the delay before each new attempt. A Backoff is used by a
// single Try call and may keep state between calls to Next.
type Backoff interface {
	Next() time.Duration
}

// BackoffFactory creates a fresh Backoff for every Try.
type BackoffFactory func() Backoff

// Jitter randomizes a delay.
type Jitter func(d time.Duration) time.Duration

// NoJitter leaves delays unchanged.
func NoJitter(d time.Duration) time.Duration {
	return d
}

// FullJitter picks a delay in [0, d).
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d)
}

type exponential struct {
	initial, max, current time.Duration
	jitter                Jitter
}

// Exponential doubles the delay after each attempt, starting from initial
// and capped at maxDelay. A nil jitter means FullJitter.
func Exponential(initial, maxDelay time.Duration, jitter Jitter) BackoffFactory {
	if jitter == nil {
		jitter = FullJitter
	}
	return func() Backoff {
		return &exponential{initial: initial, max: maxDelay, jitter: jitter}
	}
}

func (e *exponential) Next() time.Duration {
	if e.current == 0 {
		e.current = e.initial
	} else {
		e.current = min(e.current*2, e.max)
	}
	return min(e.jitter(e.current), e.max)
}

type constant time.Duration

// Constant waits the same delay before every attempt. Zero retries
// immediately.
func Constant(delay time.Duration) BackoffFactory {
	return func() Backoff {
		return constant(max(delay, 0))
	}
}

func (c constant) Next() time.Duration {
	return time.Duration(c)
}

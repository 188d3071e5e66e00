// Package singleton keeps a single instance of a service active at a time.
// Instances compete for a lease stored in a NATS key-value bucket; the
// holder refreshes it while running and everyone else waits for it to be
// released or to expire.
package singleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errcontext"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

const (
	BucketName      = "thunk_leases"
	BucketTTL       = 15 * time.Minute // validity must not exceed this
	ReleaseTimeout  = 100 * time.Millisecond
	defaultValidity = 5*time.Minute + 10*time.Second
	defaultRefresh  = time.Minute
)

var (
	ErrInvalidOption = errors.New("invalid option provided")
	ErrLeaseLost     = errors.New("lease was unexpectedly lost")
)

type options struct {
	validity time.Duration
	refresh  time.Duration
	logger   *slog.Logger
}

// Option is an option func for NewLeaser.
type Option func(options *options)

// WithValidity sets how long a lease lasts without being refreshed.
func WithValidity(d time.Duration) Option {
	return func(options *options) {
		options.validity = d
	}
}

// WithRefreshInterval sets how often a held lease is refreshed. It must be
// shorter than the validity.
func WithRefreshInterval(d time.Duration) Option {
	return func(options *options) {
		options.refresh = d
	}
}

// WithLogger sets the logger to be used.
func WithLogger(logger *slog.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// Leaser acquires leases on behalf of one instance.
type Leaser struct {
	kv     jetstream.KeyValue
	holder string
	opts   options
}

// NewLeaser creates a Leaser for the instance named holder, creating the
// bucket when needed.
func NewLeaser(ctx context.Context, js jetstream.JetStream, holder string, opts ...Option) (*Leaser, error) {
	options := options{
		validity: defaultValidity,
		refresh:  defaultRefresh,
		logger:   log.NewNilLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.validity < options.refresh || BucketTTL < options.validity {
		return nil, stacktrace.Wrap(ErrInvalidOption)
	}
	options.logger = options.logger.With(slog.String("holder", holder))

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: BucketName,
		TTL:    BucketTTL,
	})
	if err != nil {
		return nil, stacktrace.Wrap(err)
	}

	return &Leaser{kv: kv, holder: holder, opts: options}, nil
}

type record struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l *Leaser) record() ([]byte, error) {
	return json.Marshal(record{
		Holder:    l.holder,
		ExpiresAt: time.Now().Add(l.opts.validity).UTC(),
	})
}

// TryAcquire takes the lease on key if it is free. Otherwise it returns
// the name of the current holder.
func (l *Leaser) TryAcquire(ctx context.Context, key string) (*Lease, string, error) {
	for {
		lease, current, err := l.attempt(ctx, key)
		if err != nil || lease != nil {
			return lease, "", err
		}
		if current == nil {
			continue
		}
		return nil, current.Holder, nil
	}
}

// Acquire blocks until the lease on key is taken or ctx is done.
func (l *Leaser) Acquire(ctx context.Context, key string) (*Lease, error) {
	for {
		lease, current, err := l.attempt(ctx, key)
		if err != nil || lease != nil {
			return lease, err
		}
		if current == nil {
			continue
		}

		// wake up on expiry, or earlier if the holder releases
		watcher, err := l.kv.Watch(ctx, key, jetstream.MetaOnly(), jetstream.UpdatesOnly())
		if err != nil {
			return nil, stacktrace.Wrap(err)
		}
		err = wait(ctx, time.Until(current.ExpiresAt), watcher.Updates())
		_ = watcher.Stop()
		if err != nil {
			return nil, stacktrace.Wrap(err)
		}
	}
}

// attempt makes one try at key. It returns the lease when taken, or the
// current valid record. Both are nil when the caller should retry at once.
func (l *Leaser) attempt(ctx context.Context, key string) (*Lease, *record, error) {
	logger := l.opts.logger.With(slog.String("key", key))

	v, err := l.record()
	if err != nil {
		return nil, nil, stacktrace.Wrap(err)
	}
	rev, err := l.kv.Create(ctx, key, v)
	switch {
	case err == nil:
		logger.Info("lease acquired", slog.Uint64("rev", rev))
		return l.newLease(key, rev, logger), nil, nil
	case !errors.Is(err, jetstream.ErrKeyExists):
		return nil, nil, stacktrace.Wrap(err)
	}

	entry, err := l.kv.Get(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, nil, nil
	case err != nil:
		return nil, nil, stacktrace.Wrap(err)
	}

	var current record
	if err := json.Unmarshal(entry.Value(), &current); err != nil {
		logger.Warn("deleting unreadable lease", log.ErrAttr(err), slog.Uint64("rev", entry.Revision()))
		_ = l.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
		return nil, nil, nil
	}
	if current.ExpiresAt.Before(time.Now()) {
		logger.Info("deleting expired lease", slog.String("expired_holder", current.Holder))
		_ = l.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
		return nil, nil, nil
	}
	return nil, &current, nil
}

func wait(ctx context.Context, d time.Duration, changes <-chan jetstream.KeyValueEntry) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-changes:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lease is a held, one time use lease. It refreshes itself until released
// or lost; Done is closed in either case.
type Lease struct {
	leaser *Leaser
	key    string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	rev  uint64
	held bool
}

func (l *Leaser) newLease(key string, rev uint64, logger *slog.Logger) *Lease {
	lease := &Lease{
		leaser: l,
		key:    key,
		logger: logger,
		rev:    rev,
		held:   true,
	}
	lease.ctx, lease.cancel = context.WithCancelCause(context.Background())
	lease.wg.Go(lease.keepAlive)
	return lease
}

func (l *Lease) keepAlive() {
	ticker := time.NewTicker(l.leaser.opts.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.refresh(); err != nil {
				return
			}
		}
	}
}

func (l *Lease) refresh() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}

	v, err := l.leaser.record()
	if err != nil {
		return stacktrace.Wrap(err)
	}
	rev, err := l.leaser.kv.Update(l.ctx, l.key, v, l.rev)
	switch {
	case err == nil:
		l.logger.Debug("lease refreshed", slog.Uint64("rev", rev))
		l.rev = rev
		return nil
	case l.ctx.Err() != nil:
		// released meanwhile
		return nil
	default:
		l.logger.Error("lease refresh failed", log.ErrAttr(err), slog.Uint64("rev", l.rev))
		lost := errcontext.Add(ErrLeaseLost, slog.Uint64("rev", l.rev), slog.String("key", l.key))
		l.cancel(errors.Join(stacktrace.Wrap(lost), err))
		l.rev = 0
		l.held = false
		return stacktrace.Wrap(err)
	}
}

// Held reports whether the lease is still held.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Done is closed once the lease is released or lost.
func (l *Lease) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Release gives the lease up. Releasing twice, or after loss, does nothing.
func (l *Lease) Release() error {
	// wait outside the mutex, refresh takes it too
	defer l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}

	l.cancel(nil)
	rev := l.rev
	l.rev = 0
	l.held = false

	ctx, cancel := context.WithTimeout(context.Background(), ReleaseTimeout)
	defer cancel()
	if err := l.leaser.kv.Delete(ctx, l.key, jetstream.LastRevision(rev)); err != nil {
		l.logger.Warn("failed to release lease", log.ErrAttr(err), slog.Uint64("rev", rev))
		return stacktrace.Wrap(err)
	}
	l.logger.Info("lease released", slog.Uint64("rev", rev))
	return nil
}

// Run blocks until the lease is lost, released, or ctx is done, then
// releases it. Losing the lease is an error.
func (l *Lease) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-l.ctx.Done():
		if err := context.Cause(l.ctx); !errors.Is(err, context.Canceled) {
			return stacktrace.Wrap(err)
		}
	}
	return l.Release()
}

// Name returns the name of this task.
func (l *Lease) Name() string {
	return fmt.Sprintf("singleton-lease-%s", l.key)
}

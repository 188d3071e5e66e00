package singleton_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/zkr-go-thunk/calm/errgroup"
	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/relay"
	"github.com/zircuit-labs/zkr-go-thunk/singleton"
)

const (
	refreshInterval = 10 * time.Millisecond
	validity        = 100 * time.Millisecond
)

func connect(t *testing.T) (*nats.Conn, jetstream.JetStream) {
	t.Helper()
	cfg, err := config.NewConfigurationFromMap(map[string]any{
		"server.servername": "singleton_test",
		"server.storedir":   t.TempDir(),
	})
	require.NoError(t, err)

	srv, err := relay.NewEmbeddedServer(cfg, "server")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	nc, err := srv.NewConnection()
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return nc, js
}

func newLeaser(t *testing.T, js jetstream.JetStream) *singleton.Leaser {
	t.Helper()
	leaser, err := singleton.NewLeaser(t.Context(), js, xid.New().String(),
		singleton.WithLogger(log.NewTestLogger(t)),
		singleton.WithRefreshInterval(refreshInterval),
		singleton.WithValidity(validity),
	)
	require.NoError(t, err)
	return leaser
}

func TestInvalidOptions(t *testing.T) { //nolint:paralleltest // parallel exposes a data race inside the nats server KV code
	_, js := connect(t)

	_, err := singleton.NewLeaser(t.Context(), js, "a", singleton.WithValidity(time.Second), singleton.WithRefreshInterval(time.Minute))
	require.ErrorIs(t, err, singleton.ErrInvalidOption)

	_, err = singleton.NewLeaser(t.Context(), js, "a", singleton.WithValidity(time.Hour))
	require.ErrorIs(t, err, singleton.ErrInvalidOption)
}

func TestLeaseLost(t *testing.T) { //nolint:paralleltest // parallel exposes a data race inside the nats server KV code
	_, js := connect(t)
	leaser := newLeaser(t, js)

	lease, err := leaser.Acquire(t.Context(), t.Name())
	require.NoError(t, err)
	require.True(t, lease.Held())

	g := errgroup.New()
	g.Go(func() error {
		return lease.Run(t.Context())
	})

	// deleting the key changes its revision, so the next refresh fails
	kv, err := js.KeyValue(t.Context(), singleton.BucketName)
	require.NoError(t, err)
	require.NoError(t, kv.Delete(t.Context(), t.Name()))

	err = g.Wait()
	assert.ErrorIs(t, err, singleton.ErrLeaseLost)
	assert.False(t, lease.Held())
}

func TestLeaseLostConnection(t *testing.T) { //nolint:paralleltest // parallel exposes a data race inside the nats server KV code
	nc, js := connect(t)
	leaser := newLeaser(t, js)

	lease, err := leaser.Acquire(t.Context(), t.Name())
	require.NoError(t, err)

	nc.Close()

	select {
	case <-lease.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("lease was not lost")
	}
	assert.ErrorIs(t, lease.Run(t.Context()), singleton.ErrLeaseLost)
	assert.False(t, lease.Held())
}

func TestRunReleases(t *testing.T) { //nolint:paralleltest // parallel exposes a data race inside the nats server KV code
	_, js := connect(t)
	leaser := newLeaser(t, js)

	ctx, cancel := context.WithCancel(t.Context())
	lease, err := leaser.Acquire(ctx, t.Name())
	require.NoError(t, err)
	assert.Equal(t, "singleton-lease-"+t.Name(), lease.Name())

	g := errgroup.New()
	g.Go(func() error {
		return lease.Run(ctx)
	})

	// long enough for several refreshes
	time.Sleep(5 * refreshInterval)
	cancel()

	require.NoError(t, g.Wait())
	assert.False(t, lease.Held())

	// releasing again does nothing
	require.NoError(t, lease.Release())
}

func TestTryAcquire(t *testing.T) { //nolint:paralleltest // parallel exposes a data race inside the nats server KV code
	_, js := connect(t)
	a := newLeaser(t, js)
	b, err := singleton.NewLeaser(t.Context(), js, "instance-b",
		singleton.WithRefreshInterval(refreshInterval),
		singleton.WithValidity(validity),
	)
	require.NoError(t, err)

	leaseA, _, err := a.TryAcquire(t.Context(), t.Name())
	require.NoError(t, err)
	require.NotNil(t, leaseA)

	leaseB, holder, err := b.TryAcquire(t.Context(), t.Name())
	require.NoError(t, err)
	assert.Nil(t, leaseB)
	assert.NotEqual(t, "instance-b", holder)
	assert.NotEmpty(t, holder)

	require.NoError(t, leaseA.Release())

	leaseB, holder, err = b.TryAcquire(t.Context(), t.Name())
	require.NoError(t, err)
	require.NotNil(t, leaseB)
	assert.Empty(t, holder)
	require.NoError(t, leaseB.Release())
}

func TestMutualExclusion(t *testing.T) { //nolint:paralleltest // parallel exposes a data race inside the nats server KV code
	_, js := connect(t)

	const instances = 5
	var active, maxActive atomic.Int32

	g := errgroup.New()
	for range instances {
		leaser := newLeaser(t, js)
		g.Go(func() error {
			lease, err := leaser.Acquire(t.Context(), t.Name())
			if err != nil {
				return err
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * refreshInterval)
			active.Add(-1)
			return lease.Release()
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxActive.Load())
}

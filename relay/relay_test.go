package relay_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/calm/errgroup"
	"github.com/zircuit-labs/zkr-go-thunk/config"
	"github.com/zircuit-labs/zkr-go-thunk/relay"
	"github.com/zircuit-labs/zkr-go-thunk/store"
	"github.com/zircuit-labs/zkr-go-thunk/thunk"
)

const (
	testStream  = "THUNK"
	testSubject = "thunk.actions"
)

var errFake = errors.New("fake error")

type state struct{}

func newConfig(t *testing.T, durable string) *config.Configuration {
	t.Helper()
	cfg, err := config.NewConfigurationFromMap(map[string]any{
		"server.servername":       "relay_test_server",
		"server.storedir":         t.TempDir(),
		"publisher.subject":       testSubject,
		"publisher.lifecycleonly": true,
		"consumer.stream":         testStream,
		"consumer.subject":        testSubject,
		"consumer.durablequeue":   durable,
	})
	require.NoError(t, err)
	return cfg
}

// connect starts an in-process server with the test stream.
func connect(t *testing.T, cfg *config.Configuration) (*nats.Conn, jetstream.Stream) {
	t.Helper()

	srv, err := relay.NewEmbeddedServer(cfg, "server")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	nc, err := srv.NewConnection()
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.CreateStream(t.Context(), jetstream.StreamConfig{
		Name:     testStream,
		Subjects: []string{testSubject},
	})
	require.NoError(t, err)
	return nc, stream
}

// runConsumer runs c until the test ends.
func runConsumer(t *testing.T, c *relay.Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	g := errgroup.New()
	g.Go(func() error {
		return c.Run(ctx)
	})
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})
}

func TestRelayLifecycle(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, "lifecycle")
	nc, stream := connect(t, cfg)

	publisher, err := relay.NewPublisher(cfg, "publisher", relay.WithNATSConnection(nc))
	require.NoError(t, err)
	t.Cleanup(publisher.Close)
	assert.Equal(t, testSubject, publisher.Subject())

	local := store.New(state{}, store.WithMiddleware[state, any](relay.Middleware[state](publisher)))
	remote := store.New(state{}, store.WithRecording[state, any]())

	consumer, err := relay.NewConsumer(cfg, "consumer", remote.Dispatch, relay.WithNATSConnection(nc))
	require.NoError(t, err)
	assert.Contains(t, consumer.Name(), "lifecycle")
	require.NoError(t, consumer.HealthCheck(t.Context()))
	runConsumer(t, consumer)

	create := action.NewFactory("test")
	op := thunk.Bind(action.NewAsync[int, string](create, "op", nil),
		func(_ context.Context, n int, _ thunk.API[state, any]) (string, error) {
			if n == 2 {
				return "", errFake
			}
			return "ok", nil
		})

	_, err = op.Run(t.Context(), 1, local.API())
	require.NoError(t, err)
	_, err = op.Run(t.Context(), 2, local.API())
	require.ErrorIs(t, err, errFake)

	// not part of a lifecycle, so filtered out
	local.Dispatch(action.NewCreator[string](create, "title", nil).New("hello"))

	require.Eventually(t, func() bool {
		return len(remote.Actions()) == 4
	}, 10*time.Second, 20*time.Millisecond)

	actions := remote.Actions()
	types := make([]string, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
		assert.Equal(t, testSubject, a.Meta[relay.MetaSource])
	}
	assert.Equal(t, []string{"test/op_STARTED", "test/op_DONE", "test/op_STARTED", "test/op_FAILED"}, types)

	assert.True(t, action.IsSuccess(actions[1]))
	assert.Equal(t, map[string]any{"params": float64(1), "result": "ok"}, actions[1].Payload)
	assert.True(t, action.IsFailure(actions[3]))
	assert.Equal(t, map[string]any{"params": float64(2), "error": "fake error"}, actions[3].Payload)

	// relayed actions are never published again
	relayed := actions[0]
	local.Dispatch(relayed)
	info, err := stream.Info(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.State.Msgs)
}

func TestSkipsOwnActions(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, "origin")
	nc, stream := connect(t, cfg)

	own, err := relay.NewPublisher(cfg, "publisher", relay.WithNATSConnection(nc), relay.WithInstanceID("self"))
	require.NoError(t, err)
	other, err := relay.NewPublisher(cfg, "publisher", relay.WithNATSConnection(nc), relay.WithInstanceID("other"))
	require.NoError(t, err)

	remote := store.New(state{}, store.WithRecording[state, any]())
	consumer, err := relay.NewConsumer(cfg, "consumer", remote.Dispatch,
		relay.WithNATSConnection(nc),
		relay.WithInstanceID("self"),
	)
	require.NoError(t, err)
	runConsumer(t, consumer)

	require.NoError(t, own.Publish(t.Context(), action.Action{Type: "mine"}))
	require.NoError(t, other.Publish(t.Context(), action.Action{Type: "theirs", Meta: action.Meta{"k": "v"}}))

	require.Eventually(t, func() bool {
		return len(remote.Actions()) > 0
	}, 10*time.Second, 20*time.Millisecond)

	// delivery is in order, so "mine" was handled before "theirs"
	actions := remote.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "theirs", actions[0].Type)
	assert.Equal(t, "other", actions[0].Meta[relay.MetaOrigin])
	assert.Equal(t, "v", actions[0].Meta["k"])

	// skipping happens on the consumer side only
	info, err := stream.Info(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestDispatchPanicRedelivers(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, "panics")
	nc, _ := connect(t, cfg)

	publisher, err := relay.NewPublisher(cfg, "publisher", relay.WithNATSConnection(nc), relay.WithFilter(relay.All))
	require.NoError(t, err)

	var attempts atomic.Int32
	received := make(chan action.Action, 1)
	consumer, err := relay.NewConsumer(cfg, "consumer", func(a action.Action) any {
		if attempts.Add(1) == 1 {
			panic("first delivery fails")
		}
		received <- a
		return a
	}, relay.WithNATSConnection(nc))
	require.NoError(t, err)
	runConsumer(t, consumer)

	ping := action.Action{Type: "ping", Payload: "pong"}
	require.NoError(t, publisher.Publish(t.Context(), ping))

	select {
	case a := <-received:
		assert.Equal(t, "ping", a.Type)
		assert.Equal(t, "pong", a.Payload)
	case <-time.After(10 * time.Second):
		t.Fatal("action was not redelivered")
	}
	assert.Equal(t, int32(2), attempts.Load())
}

func TestMissingSettings(t *testing.T) {
	t.Parallel()

	cfg, err := config.NewConfigurationFromMap(map[string]any{})
	require.NoError(t, err)

	_, err = relay.NewPublisher(cfg, "publisher")
	require.ErrorIs(t, err, relay.ErrNoSubject)

	_, err = relay.NewConsumer(cfg, "consumer", func(a action.Action) any { return a })
	require.ErrorIs(t, err, relay.ErrNoStream)
}

func TestFilters(t *testing.T) {
	t.Parallel()

	op := action.NewAsync[int, int](action.NewFactory("f"), "op", nil)
	assert.True(t, relay.LifecycleOnly(op.Started.New(1)))
	assert.True(t, relay.LifecycleOnly(op.Failed.New(action.Failure[int]{Error: errFake})))
	assert.False(t, relay.LifecycleOnly(action.Action{Type: "f/plain"}))
	assert.True(t, relay.All(action.Action{Type: "f/plain"}))
}

func TestNakDelay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 200*time.Millisecond, relay.NakDelay(1))
	assert.Equal(t, 400*time.Millisecond, relay.NakDelay(2))
	assert.Equal(t, time.Minute, relay.NakDelay(10))
	assert.Equal(t, time.Minute, relay.NakDelay(1000))
}

func TestLast(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, "last")
	nc, _ := connect(t, cfg)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	// already created by connect, so this is an update
	_, err = relay.EnsureStream(t.Context(), js, testStream, testSubject)
	require.NoError(t, err)

	publisher, err := relay.NewPublisher(cfg, "publisher", relay.WithNATSConnection(nc), relay.WithFilter(relay.All))
	require.NoError(t, err)
	consumer, err := relay.NewConsumer(cfg, "consumer", func(a action.Action) any { return a }, relay.WithNATSConnection(nc))
	require.NoError(t, err)

	_, _, err = consumer.Last(t.Context())
	require.ErrorIs(t, err, relay.ErrNoMessages)

	require.NoError(t, publisher.Publish(t.Context(), action.Action{Type: "first"}))
	require.NoError(t, publisher.Publish(t.Context(), action.Action{Type: "second", Payload: "latest"}))

	last, meta, err := consumer.Last(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "second", last.Type)
	assert.Equal(t, "latest", last.Payload)
	assert.Equal(t, uint64(2), meta.Sequence.Stream)
}

package relay

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/stacktrace"
)

var ErrNoMessages = errors.New("no messages found")

// EnsureStream creates the stream name capturing subjects, or updates it
// when it already exists.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string, subjects ...string) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	if err != nil {
		return nil, stacktrace.Wrap(err)
	}
	return stream, nil
}

// Last returns the most recent action on the consumer's subject without
// affecting what Run delivers. It returns ErrNoMessages when the subject is
// empty.
func (c *Consumer) Last(ctx context.Context) (action.Action, *jetstream.MsgMetadata, error) {
	var a action.Action

	// an ordered consumer is ephemeral and needs no acks
	consumer, err := c.js.OrderedConsumer(ctx, c.config.Stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{c.config.Subject},
		DeliverPolicy:  jetstream.DeliverLastPolicy,
	})
	if err != nil {
		return a, nil, stacktrace.Wrap(err)
	}

	// NOTE: this is a non-blocking operation
	batch, err := consumer.FetchNoWait(1)
	if err != nil {
		return a, nil, stacktrace.Wrap(err)
	}

	// the channel is closed once the message, or lack thereof, is pushed
	msg, ok := <-batch.Messages()
	if !ok {
		return a, nil, stacktrace.Wrap(ErrNoMessages)
	}

	metadata, err := msg.Metadata()
	if err != nil {
		return a, nil, stacktrace.Wrap(err)
	}
	if err := c.opts.unmarshaler(msg.Data(), &a); err != nil {
		return a, nil, stacktrace.Wrap(err)
	}
	return a, metadata, nil
}

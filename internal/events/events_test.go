package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	skafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/easypay-reconciler/internal/model"
)

type fakeWriter struct {
	msgs   []skafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeChannel struct {
	key    string
	msg    amqp.Publishing
	err    error
	closed bool
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.key = key
	c.msg = msg
	return c.err
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func paidEvent() Event {
	return Event{
		Type: TypePaid,
		Reference: model.Reference{
			Identifier: "abc",
			Status:     model.ReferenceStatusPaid,
		},
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	require.NoError(t, p.Publish(context.Background(), "abc", paidEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "abc", string(w.msgs[0].Key))

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, TypePaid, got.Type)
	assert.Equal(t, "abc", got.Reference.Identifier)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writeErr := errors.New("broker down")
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: writeErr})

	err := p.Publish(context.Background(), "abc", paidEvent())
	assert.ErrorIs(t, err, writeErr)
}

func TestRabbitPublisher_Publish(t *testing.T) {
	chn := &fakeChannel{}
	p := NewRabbitPublisherWithChannel(chn, "easypay.events")

	require.NoError(t, p.Publish(context.Background(), "abc", paidEvent()))
	assert.Equal(t, "easypay.events", chn.key)
	assert.Equal(t, "abc", chn.msg.MessageId)
	assert.Equal(t, amqp.Persistent, chn.msg.DeliveryMode)
	assert.Equal(t, "application/json", chn.msg.ContentType)

	require.NoError(t, p.Close())
	assert.True(t, chn.closed)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "abc", paidEvent()))
	assert.NoError(t, p.Close())
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cards/internal/logging"
)

type ackRecord struct {
	acked   bool
	nacked  bool
	requeue bool
}

type fakeAcknowledger struct {
	mu   sync.Mutex
	acks map[uint64]*ackRecord
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{acks: make(map[uint64]*ackRecord)}
}

func (f *fakeAcknowledger) record(tag uint64) *ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.acks[tag]
	if !ok {
		r = &ackRecord{}
		f.acks[tag] = r
	}
	return r
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.record(tag).acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	r := f.record(tag)
	r.nacked = true
	r.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) get(tag uint64) ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.acks[tag]; ok {
		return *r
	}
	return ackRecord{}
}

func TestConsumerAcknowledgements(t *testing.T) {
	hs := newHarness(t)
	acker := newFakeAcknowledger()
	c := NewConsumer(nil, hs.handler, "cards", logging.Discard())
	ctx := context.Background()
	queues := DefaultQueues()

	link := []byte(`{"requestId":"r1","cardId":"` + hs.card.ID + `","accountId":"A2"}`)
	c.process(ctx, queues.LinkRequested, amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: link})
	assert.True(t, acker.get(1).acked)

	c.process(ctx, queues.LinkRequested, amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`nope`)})
	assert.Equal(t, ackRecord{nacked: true, requeue: false}, acker.get(2))

	hs.rec.err = errors.New("broker down")
	c.process(ctx, queues.LinkRequested, amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: link})
	assert.Equal(t, ackRecord{nacked: true, requeue: true}, acker.get(3))

	c.process(ctx, queues.LinkRequested, amqp.Delivery{Acknowledger: acker, DeliveryTag: 4, Body: link, Redelivered: true})
	assert.Equal(t, ackRecord{nacked: true, requeue: false}, acker.get(4))
}

type fakeConsumeChannel struct {
	mu      sync.Mutex
	streams map[string]chan amqp.Delivery
	qos     int
}

func (f *fakeConsumeChannel) Qos(prefetch, _ int, _ bool) error {
	f.qos = prefetch
	return nil
}

func (f *fakeConsumeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack not expected")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan amqp.Delivery, 1)
	f.streams[queue] = ch
	return ch, nil
}

func (f *fakeConsumeChannel) stream(queue string) chan amqp.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[queue]
}

func TestConsumerRunDispatchesUntilCancelled(t *testing.T) {
	hs := newHarness(t)
	acker := newFakeAcknowledger()
	ch := &fakeConsumeChannel{streams: make(map[string]chan amqp.Delivery)}
	c := NewConsumer(ch, hs.handler, "cards", logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	queue := DefaultQueues().LinkRequested
	require.Eventually(t, func() bool { return ch.stream(queue) != nil }, time.Second, 5*time.Millisecond)
	ch.stream(queue) <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  7,
		Body:         []byte(`{"requestId":"r1","cardId":"` + hs.card.ID + `","accountId":"A2"}`),
	}
	require.Eventually(t, func() bool { return acker.get(7).acked }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, defaultPrefetch, ch.qos)
}

package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestPublishCarriesRequestID(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "document-ingest")
	ctx := logger.WithRequestID(context.Background(), "req-1")

	require.NoError(t, p.Publish(ctx, Event{Key: "k", Value: map[string]int{"num": 1}}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, `{"num":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "req-1", requestID(w.msgs[0]))

	require.NoError(t, p.PublishBatch(context.Background(), []Event{{Key: "a", Value: 1}, {Key: "b", Value: 2}}))
	require.Len(t, w.msgs, 3)
	assert.Empty(t, requestID(w.msgs[2]))
	assert.Equal(t, "document-ingest", p.Topic())
}

func TestPublishErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(w, "t")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Key: "k", Value: 1}), "broker down")
	assert.Error(t, p.Publish(context.Background(), Event{Key: "k", Value: make(chan int)}))
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}

func TestConsumerRetriesTransientAndDropsPermanent(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Offset: 1, Value: []byte(`{"n":1}`), Headers: []kafka.Header{{Key: HeaderRequestID, Value: []byte("req-9")}}},
		{Offset: 2, Value: []byte(`not json`)},
	}}
	var (
		mu       sync.Mutex
		attempts int
		ids      []string
	)
	handler := func(ctx context.Context, _ []byte, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, logger.RequestID(ctx))
		if _, err := DecodeJSON[map[string]int](value); err != nil {
			return err
		}
		attempts++
		if attempts == 1 {
			return errors.New("busy")
		}
		return nil
	}
	c := newConsumer(r, "t", handler)
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(r.Committed()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2}, r.Committed())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"req-9", "req-9", ""}, ids)
}

func TestDecodeJSONPermanent(t *testing.T) {
	_, err := DecodeJSON[struct{ N int }]([]byte("{"))
	assert.ErrorIs(t, err, ErrPermanent)
	v, err := DecodeJSON[struct{ N int }]([]byte(`{"N":4}`))
	require.NoError(t, err)
	assert.Equal(t, 4, v.N)
}

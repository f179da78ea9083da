package taskqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs    chan kafka.Message
	fetched chan int64

	mu        sync.Mutex
	committed []int64
}

func newFakeReader(t *testing.T, msgs ...Message) *fakeReader {
	t.Helper()
	r := &fakeReader{
		msgs:    make(chan kafka.Message, len(msgs)),
		fetched: make(chan int64, len(msgs)),
	}
	for i, msg := range msgs {
		value, err := json.Marshal(msg)
		require.NoError(t, err)
		r.msgs <- kafka.Message{Offset: int64(i), Value: value}
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		r.fetched <- m.Offset
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaBroker_ShutdownBeforeETALeavesMessageUncommitted(t *testing.T) {
	reader := newFakeReader(t,
		Message{ID: "held", Task: "a", ETA: time.Now().Add(time.Hour)},
		Message{ID: "behind", Task: "a"},
	)
	b := newKafkaBroker(&fakeWriter{}, reader, 2, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ran := make(chan string, 2)
	go func() {
		done <- b.Consume(ctx, func(ctx context.Context, msg Message) error {
			ran <- msg.ID
			return nil
		})
	}()

	select {
	case <-reader.fetched:
	case <-time.After(time.Second):
		t.Fatal("message not fetched")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not return after shutdown")
	}
	assert.Empty(t, reader.commits())
	assert.Empty(t, ran)
	// the loop stayed on the held message
	assert.Len(t, reader.msgs, 1)
}

func TestKafkaBroker_CommitsDueMessageBeforeRunning(t *testing.T) {
	reader := newFakeReader(t, Message{ID: "due", Task: "a", GroupID: "g", ETA: time.Now().Add(-time.Second)})
	b := newKafkaBroker(&fakeWriter{}, reader, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan []int64, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Consume(ctx, func(ctx context.Context, msg Message) error {
			assert.Equal(t, "due", msg.ID)
			assert.Equal(t, "g", msg.GroupID)
			ran <- reader.commits()
			return nil
		})
	}()

	select {
	case commits := <-ran:
		assert.Equal(t, []int64{0}, commits)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestKafkaBroker_Publish(t *testing.T) {
	writer := &fakeWriter{}
	b := newKafkaBroker(writer, newFakeReader(t), 1, testLogger())

	require.NoError(t, b.Publish(context.Background(), Message{ID: "t1", Task: "a", GroupID: "g"}))
	require.NoError(t, b.Publish(context.Background(), Message{ID: "t2", Task: "a"}))

	require.Len(t, writer.msgs, 2)
	assert.Equal(t, "g", string(writer.msgs[0].Key))
	assert.Equal(t, "t2", string(writer.msgs[1].Key))

	var got Message
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &got))
	assert.Equal(t, "t1", got.ID)
}

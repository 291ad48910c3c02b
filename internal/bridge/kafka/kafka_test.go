package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/bridge"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func sample() models.BridgeMessage {
	return models.BridgeMessage{
		ID:           "msg-1",
		SourceLedger: "source",
		DestLedger:   "dest",
		Sender:       "alice",
		Receiver:     "bob",
		Amount:       "100018",
		Rate:         "50000000000",
		SentAt:       time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}
}

func TestTransportSend(t *testing.T) {
	w := &recordingWriter{}
	tr := &Transport{writer: w}

	require.NoError(t, tr.Send(context.Background(), sample()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "rebase.bridge.dest", w.msgs[0].Topic)
	assert.Equal(t, "msg-1", string(w.msgs[0].Key))

	var got models.BridgeMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, sample(), got)

	w.err = errors.New("broker down")
	assert.ErrorIs(t, tr.Send(context.Background(), sample()), w.err)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "rebase.bridge.l2", TopicFor("", "l2"))
	assert.Equal(t, "custom.l2", TopicFor("custom.", "l2"))
}

// fakeReader serves queued messages then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		km := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return km, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
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

type scriptedReceiver struct {
	mu       sync.Mutex
	errs     []error
	received []string
}

func (s *scriptedReceiver) LedgerID() string { return "dest" }

func (s *scriptedReceiver) Receive(ctx context.Context, msg models.BridgeMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg.ID)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return false, err
	}
	return true, nil
}

func (s *scriptedReceiver) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func TestRelay(t *testing.T) {
	good, err := encode("", sample())
	require.NoError(t, err)
	good.Offset = 1

	wrong := sample()
	wrong.ID = "msg-2"
	rejected, err := encode("", wrong)
	require.NoError(t, err)
	rejected.Offset = 2

	garbage := kafka.Message{Offset: 3, Value: []byte("{not json")}

	reader := &fakeReader{queue: []kafka.Message{good, rejected, garbage}}
	receiver := &scriptedReceiver{errs: []error{
		errors.New("store unavailable"),
		nil,
		bridge.ErrWrongDestination,
	}}
	relay := newRelay(reader, receiver, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	assert.Equal(t, []string{"msg-1", "msg-1", "msg-2"}, receiver.calls())
}

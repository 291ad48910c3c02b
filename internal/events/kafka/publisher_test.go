package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models/events"
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

func TestPublish(t *testing.T) {
	w := &recordingWriter{}
	p := newPublisher(w, "prod.", "source", nil)

	event := events.GlobalRateUpdated{
		LedgerID:   "source",
		Previous:   "50000000000",
		Current:    "40000000000",
		UpdatedBy:  "admin",
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), events.TopicGlobalRateUpdated, event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "prod.ledger.global_rate_updated", w.msgs[0].Topic)
	assert.Equal(t, "source", string(w.msgs[0].Key))

	var got events.GlobalRateUpdated
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, event, got)
}

func TestPublishErrors(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newPublisher(w, "", "source", nil)

	err := p.Publish(context.Background(), events.TopicIssued, events.Issued{})
	assert.ErrorIs(t, err, w.err)

	err = p.Publish(context.Background(), events.TopicIssued, make(chan int))
	assert.Error(t, err)
}

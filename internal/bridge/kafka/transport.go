// Package kafka relays bridge messages between ledger processes over Kafka.
// Each destination ledger reads its own topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

const DefaultTopicPrefix = "rebase.bridge."

// TopicFor names the topic a destination ledger consumes.
func TopicFor(prefix, ledgerID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + ledgerID
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Transport struct {
	writer messageWriter
	prefix string
}

func NewTransport(brokers []string, topicPrefix string) *Transport {
	return &Transport{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		prefix: topicPrefix,
	}
}

// Send writes msg keyed by its ID, so redeliveries of one message land on the
// same partition.
func (t *Transport) Send(ctx context.Context, msg models.BridgeMessage) error {
	km, err := encode(t.prefix, msg)
	if err != nil {
		return err
	}
	if err := t.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write bridge message %s: %w", msg.ID, err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.writer.Close()
}

func encode(prefix string, msg models.BridgeMessage) (kafka.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode bridge message: %w", err)
	}
	return kafka.Message{
		Topic: TopicFor(prefix, msg.DestLedger),
		Key:   []byte(msg.ID),
		Value: data,
	}, nil
}

func decode(km kafka.Message) (models.BridgeMessage, error) {
	var msg models.BridgeMessage
	if err := json.Unmarshal(km.Value, &msg); err != nil {
		return models.BridgeMessage{}, fmt.Errorf("decode bridge message at offset %d: %w", km.Offset, err)
	}
	return msg, nil
}

var _ interfaces.BridgeTransport = (*Transport)(nil)

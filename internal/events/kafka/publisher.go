package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes ledger events as JSON. The event topic is appended to
// topicPrefix, and the ledger ID is the message key so one ledger's events
// stay ordered.
type Publisher struct {
	writer      messageWriter
	topicPrefix string
	ledgerID    string
	logger      *zap.Logger
}

func NewPublisher(brokers []string, topicPrefix, ledgerID string, logger *zap.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}, topicPrefix, ledgerID, logger)
}

func newPublisher(w messageWriter, topicPrefix, ledgerID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		writer:      w,
		topicPrefix: topicPrefix,
		ledgerID:    ledgerID,
		logger:      logger.Named("kafka_publisher"),
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + topic,
		Key:   []byte(p.ledgerID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.Debug("event published", zap.String("topic", p.topicPrefix+topic))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)

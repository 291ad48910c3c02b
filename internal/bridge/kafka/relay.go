package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/bridge"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"go.uber.org/zap"
)

// Receiver applies a bridge message on the local ledger.
type Receiver interface {
	LedgerID() string
	Receive(ctx context.Context, msg models.BridgeMessage) (bool, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay consumes the local ledger's bridge topic and feeds each message to
// the receiver. Offsets are committed once a message is applied or found
// permanently invalid; retryable failures are retried with backoff.
type Relay struct {
	reader   messageReader
	receiver Receiver
	backoff  time.Duration
	logger   *zap.Logger
}

type RelayConfig struct {
	Brokers     []string
	GroupID     string
	TopicPrefix string
	Backoff     time.Duration
}

func NewRelay(cfg RelayConfig, receiver Receiver, logger *zap.Logger) *Relay {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   TopicFor(cfg.TopicPrefix, receiver.LedgerID()),
	})
	return newRelay(reader, receiver, cfg.Backoff, logger)
}

func newRelay(reader messageReader, receiver Receiver, backoff time.Duration, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Relay{
		reader:   reader,
		receiver: receiver,
		backoff:  backoff,
		logger:   logger.Named("bridge_relay"),
	}
}

// Run blocks until ctx is cancelled or the reader fails.
func (r *Relay) Run(ctx context.Context) error {
	for {
		km, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := r.handle(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := r.reader.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handle returns nil once the message may be committed.
func (r *Relay) handle(ctx context.Context, km kafka.Message) error {
	msg, err := decode(km)
	if err != nil {
		r.logger.Error("dropping undecodable bridge message", zap.Int64("offset", km.Offset), zap.Error(err))
		return nil
	}

	for {
		_, err := r.receiver.Receive(ctx, msg)
		switch {
		case err == nil:
			return nil
		case bridge.IsPermanent(err):
			r.logger.Error("dropping rejected bridge message", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		}

		r.logger.Warn("bridge message failed, retrying", zap.String("message_id", msg.ID), zap.Duration("backoff", r.backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff):
		}
	}
}

func (r *Relay) Close() error {
	return r.reader.Close()
}

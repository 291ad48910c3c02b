// Package bridge moves value between ledger instances. The source side redeems
// the sender's balance and captures the sender's rate, the destination side
// issues the same amount at that rate.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"go.uber.org/zap"
)

var (
	ErrWrongDestination = ledger.NewDomainError("WRONG_DESTINATION", "bridge message addressed to another ledger")
	ErrInvalidMessage   = ledger.NewDomainError("INVALID_BRIDGE_MESSAGE", "malformed bridge message")
)

// Adapter is the privileged ledger caller for cross-ledger transfers.
type Adapter struct {
	ledger    *ledger.Ledger
	identity  string
	transport interfaces.BridgeTransport
	dedup     interfaces.MessageDeduper
	ttl       time.Duration
	logger    *zap.Logger
}

type Option func(*Adapter)

// WithMessageTTL sets how long a received message ID is remembered. Zero,
// the default, remembers it forever.
func WithMessageTTL(ttl time.Duration) Option {
	return func(a *Adapter) { a.ttl = ttl }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func New(l *ledger.Ledger, identity string, transport interfaces.BridgeTransport, dedup interfaces.MessageDeduper, opts ...Option) *Adapter {
	a := &Adapter{
		ledger:    l,
		identity:  identity,
		transport: transport,
		dedup:     dedup,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("bridge").With(zap.String("ledger_id", l.ID()))
	return a
}

func (a *Adapter) LedgerID() string {
	return a.ledger.ID()
}

func (a *Adapter) Identity() string {
	return a.identity
}

// Send redeems amount (or the whole balance for ledger.Full) from sender and
// hands a message for receiver on destination to the transport. The message is
// sent only once the redeem is committed; if the transport refuses it, the
// redeemed amount is re-issued to sender at the captured rate.
func (a *Adapter) Send(ctx context.Context, sender, receiver, destination string, amount *uint256.Int) (models.BridgeMessage, error) {
	if receiver == "" {
		return models.BridgeMessage{}, fmt.Errorf("%w: empty receiver", ledger.ErrInvalidHolder)
	}
	if destination == "" {
		return models.BridgeMessage{}, fmt.Errorf("%w: empty destination", ErrWrongDestination)
	}

	var msg models.BridgeMessage
	err := a.ledger.Update(ctx, func(tx *ledger.Tx) error {
		rate, err := tx.UserRate(sender)
		if err != nil {
			return err
		}
		redeemed, err := tx.Redeem(a.identity, sender, amount)
		if err != nil {
			return err
		}
		if redeemed.IsZero() {
			return fmt.Errorf("%w: nothing to bridge", ledger.ErrInvalidAmount)
		}

		msg = models.BridgeMessage{
			ID:           uuid.NewString(),
			SourceLedger: a.ledger.ID(),
			DestLedger:   destination,
			Sender:       sender,
			Receiver:     receiver,
			Amount:       redeemed.Dec(),
			Rate:         rate.Dec(),
			SentAt:       tx.Now(),
		}
		out := msg
		tx.OnCommit(ledger.Effect{
			Run: func(ctx context.Context) error {
				if err := a.transport.Send(ctx, out); err != nil {
					return fmt.Errorf("send bridge message: %w", err)
				}
				return nil
			},
			Undo: func(tx *ledger.Tx) error {
				return tx.IssueWithRate(a.identity, sender, redeemed, rate)
			},
		})
		return nil
	})
	if err != nil {
		a.logger.Warn("bridge send failed", zap.String("sender", sender), zap.String("destination", destination), zap.Error(err))
		return models.BridgeMessage{}, err
	}

	a.logger.Info("bridge message sent",
		zap.String("message_id", msg.ID),
		zap.String("sender", sender),
		zap.String("receiver", receiver),
		zap.String("destination", destination),
		zap.String("amount", msg.Amount),
		zap.String("rate", msg.Rate),
	)
	return msg, nil
}

// Receive applies msg on this ledger: the receiver is credited the amount at
// the rate captured on the source ledger. It returns false without error when
// the message was already applied or is being applied by another receiver.
//
// The message ID is claimed before the issue, so concurrent deliveries agree
// on a single winner. A failed issue releases the claim so the message can be
// retried.
func (a *Adapter) Receive(ctx context.Context, msg models.BridgeMessage) (bool, error) {
	if msg.DestLedger != a.ledger.ID() {
		return false, fmt.Errorf("%w: message %s is for %q", ErrWrongDestination, msg.ID, msg.DestLedger)
	}
	amount, rate, err := decode(msg)
	if err != nil {
		return false, err
	}

	claimed, err := a.dedup.MarkProcessed(ctx, msg.ID, a.ttl)
	if err != nil {
		return false, err
	}
	if !claimed {
		a.logger.Info("duplicate bridge message ignored", zap.String("message_id", msg.ID))
		return false, nil
	}

	err = a.ledger.Update(ctx, func(tx *ledger.Tx) error {
		return tx.IssueWithRate(a.identity, msg.Receiver, amount, rate)
	})
	if err != nil {
		a.logger.Warn("bridge receive failed", zap.String("message_id", msg.ID), zap.Error(err))
		if releaseErr := a.dedup.Release(ctx, msg.ID); releaseErr != nil {
			a.logger.Error("failed to release bridge message claim", zap.String("message_id", msg.ID), zap.Error(releaseErr))
			return false, errors.Join(err, releaseErr)
		}
		return false, err
	}

	a.logger.Info("bridge message applied",
		zap.String("message_id", msg.ID),
		zap.String("source", msg.SourceLedger),
		zap.String("receiver", msg.Receiver),
		zap.String("amount", msg.Amount),
		zap.String("rate", msg.Rate),
	)
	return true, nil
}

func decode(msg models.BridgeMessage) (*uint256.Int, *uint256.Int, error) {
	if msg.ID == "" {
		return nil, nil, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	amount, err := uint256.FromDecimal(msg.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidMessage, msg.Amount, err)
	}
	if amount.IsZero() || ledger.IsFull(amount) {
		return nil, nil, fmt.Errorf("%w: amount %q", ErrInvalidMessage, msg.Amount)
	}
	rate, err := uint256.FromDecimal(msg.Rate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: rate %q: %v", ErrInvalidMessage, msg.Rate, err)
	}
	return amount, rate, nil
}

// IsPermanent reports whether retrying Receive with the same message can never
// succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrWrongDestination) ||
		errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ledger.ErrInvalidHolder) ||
		errors.Is(err, ledger.ErrUnauthorized) ||
		errors.Is(err, ledger.ErrArithmeticOverflow)
}

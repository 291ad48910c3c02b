package interfaces

import (
	"context"
	"time"

	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

// BridgeTransport relays bridge messages to the destination ledger. Delivery
// is eventual; a nil error only means the message was accepted for relay.
type BridgeTransport interface {
	Send(ctx context.Context, msg models.BridgeMessage) error
}

// MessageDeduper remembers which bridge messages were already applied.
type MessageDeduper interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	// MarkProcessed atomically claims id. It returns false if id was already
	// marked, in which case the caller must not apply the message.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// Release drops the mark on id after a claimed message failed to apply.
	Release(ctx context.Context, id string) error
}

package bridge

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"go.uber.org/zap"
)

// MemoryTransport queues messages between adapters in one process. Nothing is
// delivered until Flush, which makes delivery order and loss easy to control.
type MemoryTransport struct {
	mu     sync.Mutex
	routes map[string]*Adapter
	queue  []models.BridgeMessage
	logger *zap.Logger
}

func NewMemoryTransport(logger *zap.Logger) *MemoryTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryTransport{
		routes: make(map[string]*Adapter),
		logger: logger.Named("bridge_transport"),
	}
}

// Register routes messages addressed to a's ledger to a.
func (t *MemoryTransport) Register(a *Adapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[a.LedgerID()] = a
}

func (t *MemoryTransport) Send(ctx context.Context, msg models.BridgeMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, msg)
	return nil
}

// Pending returns a copy of the undelivered messages.
func (t *MemoryTransport) Pending() []models.BridgeMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := make([]models.BridgeMessage, len(t.queue))
	copy(copied, t.queue)
	return copied
}

// Drop discards every queued message.
func (t *MemoryTransport) Drop() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.queue)
	t.queue = nil
	return n
}

// Flush delivers queued messages in order. Messages without a route, or
// that fail with a retryable error, stay queued. It returns how many were
// applied.
func (t *MemoryTransport) Flush(ctx context.Context) (int, error) {
	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	var (
		applied int
		keep    []models.BridgeMessage
		lastErr error
	)
	for _, msg := range queue {
		t.mu.Lock()
		dest, ok := t.routes[msg.DestLedger]
		t.mu.Unlock()
		if !ok {
			keep = append(keep, msg)
			continue
		}

		ok, err := dest.Receive(ctx, msg)
		switch {
		case err != nil && IsPermanent(err):
			t.logger.Warn("bridge message rejected", zap.String("message_id", msg.ID), zap.Error(err))
			lastErr = err
		case err != nil:
			keep = append(keep, msg)
			lastErr = err
		case ok:
			applied++
		}
	}

	if len(keep) > 0 {
		t.mu.Lock()
		t.queue = append(keep, t.queue...)
		t.mu.Unlock()
	}
	return applied, lastErr
}

var _ interfaces.BridgeTransport = (*MemoryTransport)(nil)

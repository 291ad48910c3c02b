// Package dedup remembers which bridge messages were already applied so a
// replayed message is not issued twice.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/sheikh-saqib/rebase-ledger-system/internal/clock"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
)

type entry struct {
	expiresAt time.Time // zero means the mark never expires
}

func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryDeduper keeps processed message IDs in a map. It suits a single
// process and tests.
type MemoryDeduper struct {
	mu        sync.RWMutex
	entries   map[string]entry
	clock     interfaces.Clock
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryDeduper creates the deduper. A nil clock means the system clock.
// When sweepEvery is positive a background goroutine drops expired marks
// until Close is called.
func NewMemoryDeduper(c interfaces.Clock, sweepEvery time.Duration) *MemoryDeduper {
	if c == nil {
		c = clock.System{}
	}
	d := &MemoryDeduper{
		entries:  make(map[string]entry),
		clock:    c,
		stopChan: make(chan struct{}),
	}
	if sweepEvery > 0 {
		d.wg.Add(1)
		go d.sweepLoop(sweepEvery)
	}
	return d
}

// MarkProcessed marks id with a TTL, zero for no expiry.
// Returns true if id was newly marked, false if it was already processed.
func (d *MemoryDeduper) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if e, ok := d.entries[id]; ok && e.live(now) {
		return false, nil
	}

	var e entry
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	d.entries[id] = e
	return true, nil
}

func (d *MemoryDeduper) IsProcessed(ctx context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	return ok && e.live(d.clock.Now()), nil
}

func (d *MemoryDeduper) Release(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
	return nil
}

// Sweep removes expired marks and returns how many were dropped.
func (d *MemoryDeduper) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	dropped := 0
	for id, e := range d.entries {
		if !e.live(now) {
			delete(d.entries, id)
			dropped++
		}
	}
	return dropped
}

func (d *MemoryDeduper) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *MemoryDeduper) sweepLoop(every time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Sweep()
		case <-d.stopChan:
			return
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (d *MemoryDeduper) Close() error {
	d.closeOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
	return nil
}

var _ interfaces.MessageDeduper = (*MemoryDeduper)(nil)

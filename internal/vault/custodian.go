package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
)

var (
	ErrInsufficientCollateral = ledger.NewDomainError("INSUFFICIENT_COLLATERAL", "depositor does not hold enough collateral")
	ErrInsufficientReserves   = ledger.NewDomainError("INSUFFICIENT_RESERVES", "vault reserves cannot cover the payout")
	ErrPayoutRejected         = ledger.NewDomainError("PAYOUT_REJECTED", "payout rejected by recipient")
)

// MemoryCustodian keeps collateral in memory: a wallet per outside party and
// the vault's reserves. Payouts can be made to fail for testing rollbacks.
type MemoryCustodian struct {
	mu          sync.Mutex
	wallets     map[string]uint256.Int
	reserves    uint256.Int
	failPayouts bool
}

func NewMemoryCustodian() *MemoryCustodian {
	return &MemoryCustodian{wallets: make(map[string]uint256.Int)}
}

// Fund credits collateral to party's wallet outside the vault.
func (c *MemoryCustodian) Fund(party string, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.wallets[party]
	w.Add(&w, amount)
	c.wallets[party] = w
}

// Collect moves collateral from a wallet into the reserves.
func (c *MemoryCustodian) Collect(ctx context.Context, from string, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.wallets[from]
	if w.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientCollateral, from, w.Dec(), amount.Dec())
	}
	w.Sub(&w, amount)
	c.wallets[from] = w
	c.reserves.Add(&c.reserves, amount)
	return nil
}

// Payout moves collateral from the reserves to a wallet.
func (c *MemoryCustodian) Payout(ctx context.Context, to string, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failPayouts {
		return ErrPayoutRejected
	}
	if c.reserves.Lt(amount) {
		return fmt.Errorf("%w: reserves %s, payout %s", ErrInsufficientReserves, c.reserves.Dec(), amount.Dec())
	}
	c.reserves.Sub(&c.reserves, amount)
	w := c.wallets[to]
	w.Add(&w, amount)
	c.wallets[to] = w
	return nil
}

// SetFailPayouts makes every following payout fail until reset.
func (c *MemoryCustodian) SetFailPayouts(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPayouts = fail
}

func (c *MemoryCustodian) Reserves() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(uint256.Int).Set(&c.reserves)
}

func (c *MemoryCustodian) WalletOf(party string) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.wallets[party]
	return &w
}

var (
	_ interfaces.Custodian = (*MemoryCustodian)(nil)
	_ Funder               = (*MemoryCustodian)(nil)
	_ ReserveReporter      = (*MemoryCustodian)(nil)
)

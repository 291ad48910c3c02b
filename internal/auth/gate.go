// Package auth implements the capability table that guards privileged ledger
// operations.
package auth

import (
	"fmt"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"go.uber.org/zap"
)

var ErrUnknownCapability = ledger.NewDomainError("UNKNOWN_CAPABILITY", "unknown capability")

// Gate maps holder identities to granted capabilities. Only the owner may grant
// or revoke, and the owner always holds the rate-admin capability.
type Gate struct {
	mu     sync.RWMutex
	owner  string
	grants map[string]map[models.Capability]struct{}
	logger *zap.Logger
}

// NewGate creates a gate administered by owner.
func NewGate(owner string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		owner:  owner,
		grants: make(map[string]map[models.Capability]struct{}),
		logger: logger.Named("auth"),
	}
}

func (g *Gate) Owner() string {
	return g.owner
}

// IsAuthorized reports whether caller holds capability.
func (g *Gate) IsAuthorized(caller string, capability models.Capability) bool {
	if caller == "" {
		return false
	}
	if caller == g.owner && capability == models.CapabilityRateAdmin {
		return true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.grants[caller][capability]
	return ok
}

// Grant gives account the capability. caller must be the owner.
func (g *Gate) Grant(caller, account string, capability models.Capability) error {
	if err := g.checkOwner(caller, capability); err != nil {
		return err
	}
	if account == "" {
		return ledger.ErrInvalidHolder
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grants[account] == nil {
		g.grants[account] = make(map[models.Capability]struct{})
	}
	g.grants[account][capability] = struct{}{}

	g.logger.Info("capability granted", zap.String("account", account), zap.String("capability", string(capability)))
	return nil
}

// Revoke removes the capability from account. caller must be the owner.
func (g *Gate) Revoke(caller, account string, capability models.Capability) error {
	if err := g.checkOwner(caller, capability); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants[account], capability)
	if len(g.grants[account]) == 0 {
		delete(g.grants, account)
	}

	g.logger.Info("capability revoked", zap.String("account", account), zap.String("capability", string(capability)))
	return nil
}

// Capabilities lists what account was granted, sorted.
func (g *Gate) Capabilities(account string) []models.Capability {
	g.mu.RLock()
	defer g.mu.RUnlock()

	caps := make([]models.Capability, 0, len(g.grants[account]))
	for c := range g.grants[account] {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

func (g *Gate) checkOwner(caller string, capability models.Capability) error {
	if caller == "" || caller != g.owner {
		return fmt.Errorf("%w: only the owner manages capabilities", ledger.ErrUnauthorized)
	}
	if !capability.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}
	return nil
}

var _ interfaces.Authorizer = (*Gate)(nil)

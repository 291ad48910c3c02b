package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sort"
	"sync" // standard Go package for concurrency primitives like Mutex

	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces" // interface AccountStore
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"                // domain models: Account, LedgerEntry
)

// MemoryAccountStore is an in-memory implementation of interfaces.AccountStore.
// One store backs exactly one ledger instance.
type MemoryAccountStore struct {
	mu       sync.RWMutex              // protects everything below
	accounts map[string]models.Account // one record per holder
	global   *models.GlobalState       // nil until the ledger is initialized
	entries  []models.LedgerEntry      // append-only journal
}

// NewMemoryAccountStore creates and returns a new MemoryAccountStore instance
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]models.Account),
		entries:  make([]models.LedgerEntry, 0),
	}
}

// GetAccount returns the holder's record, or a dormant account if the holder is unknown.
func (m *MemoryAccountStore) GetAccount(ctx context.Context, holder string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acct, ok := m.accounts[holder]; ok {
		return acct, nil // value copy, callers cannot reach the stored record
	}
	return models.NewAccount(holder), nil
}

func (m *MemoryAccountStore) GetGlobalState(ctx context.Context) (models.GlobalState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.global == nil {
		return models.GlobalState{}, false, nil
	}
	return *m.global, true, nil
}

// ListAccounts returns every stored account sorted by holder.
func (m *MemoryAccountStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]models.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Holder < accounts[j].Holder })
	return accounts, nil
}

// GetLedgerEntries returns a copy of all journal entries stored in memory.
func (m *MemoryAccountStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// return a copy so external code can't modify internal state
	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied, nil
}

func (m *MemoryAccountStore) GetEntriesByHolder(ctx context.Context, holder string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.Holder == holder {
			result = append(result, e)
		}
	}
	return result, nil
}

// Commit applies the batch under a single lock, so readers see either none or all of it.
func (m *MemoryAccountStore) Commit(ctx context.Context, batch models.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acct := range batch.Accounts {
		m.accounts[acct.Holder] = acct
	}
	if batch.Global != nil {
		global := *batch.Global
		m.global = &global
	}
	m.entries = append(m.entries, batch.Entries...)
	return nil
}

// Compile-time check: ensure MemoryAccountStore implements AccountStore interface
var _ interfaces.AccountStore = (*MemoryAccountStore)(nil)

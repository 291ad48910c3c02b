package interfaces

import (
	"context"

	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

// AccountStore persists one ledger instance: a record per holder, the global
// record and the append-only journal.
type AccountStore interface {
	// GetAccount returns the holder's account, or a dormant zero account when
	// the holder has never been referenced.
	GetAccount(ctx context.Context, holder string) (models.Account, error)
	// GetGlobalState reports false when the ledger was never initialized.
	GetGlobalState(ctx context.Context) (models.GlobalState, bool, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
	GetEntriesByHolder(ctx context.Context, holder string) ([]models.LedgerEntry, error)
	// Commit applies the batch atomically.
	Commit(ctx context.Context, batch models.Batch) error
}

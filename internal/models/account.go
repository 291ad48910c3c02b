package models

import (
	"time"

	"github.com/holiman/uint256"
)

// Account is a single holder's record in the rebase ledger.
// The zero value is a dormant account.
type Account struct {
	Holder        string      // holder identity, the key of the record
	Principal     uint256.Int // materialized balance, changed only by issue/redeem/transfer and accrual
	Rate          uint256.Int // per-second interest rate snapshot, precision scaled
	LastAccrualAt time.Time   // last time accrued interest was folded into Principal
}

// NewAccount returns a dormant account for holder.
func NewAccount(holder string) Account {
	return Account{Holder: holder}
}

// IsDormant reports whether the account holds no principal. A dormant account's
// rate is stale and gets overwritten on the next issue or incoming transfer.
func (a *Account) IsDormant() bool {
	return a.Principal.IsZero()
}

// GlobalState is the ledger-wide record. It is created once when the ledger is
// first initialized and persists for the ledger's lifetime.
type GlobalState struct {
	LedgerID        string
	CurrentRate     uint256.Int // rate handed to newly active holders, never increases
	PrecisionFactor uint256.Int // fixed-point scale shared by rates and the growth factor
	UpdatedAt       time.Time
}

// Batch is the set of changes produced by one ledger operation. Stores apply a
// batch all-or-nothing.
type Batch struct {
	Accounts []Account
	Global   *GlobalState
	Entries  []LedgerEntry
}

// IsEmpty reports whether the batch carries no change at all.
func (b Batch) IsEmpty() bool {
	return len(b.Accounts) == 0 && b.Global == nil && len(b.Entries) == 0
}

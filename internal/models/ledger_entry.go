package models

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// EntryKind classifies a journal entry.
type EntryKind string

const (
	EntryIssue       EntryKind = "issue"
	EntryRedeem      EntryKind = "redeem"
	EntryTransferIn  EntryKind = "transfer_in"
	EntryTransferOut EntryKind = "transfer_out"
	EntryInterest    EntryKind = "interest"
	EntryRateUpdate  EntryKind = "rate_update"
)

// LedgerEntry represents a single append-only journal record.
// Every principal movement and every rate update writes one.
type LedgerEntry struct {
	ID          string      // unique identifier
	OperationID string      // groups the entries written by one ledger operation
	Holder      string      // account the entry belongs to; empty for global rate updates
	Kind        EntryKind   // what happened
	Amount      uint256.Int // principal moved, always unsigned; see Delta
	Rate        uint256.Int // holder rate after the entry, or the new global rate
	CreatedAt   time.Time   // timestamp
}

// Delta returns the signed effect of the entry on the holder's principal.
// Summing the deltas of every entry of a holder yields its principal.
func (e LedgerEntry) Delta() decimal.Decimal {
	amount := decimal.NewFromBigInt(e.Amount.ToBig(), 0)
	switch e.Kind {
	case EntryIssue, EntryTransferIn, EntryInterest:
		return amount
	case EntryRedeem, EntryTransferOut:
		return amount.Neg()
	default:
		return decimal.Zero
	}
}

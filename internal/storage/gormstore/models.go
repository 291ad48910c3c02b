package gormstore

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"github.com/shopspring/decimal"
)

// GlobalStateModel is the persistence shape of models.GlobalState.
type GlobalStateModel struct {
	LedgerID        string          `gorm:"primaryKey;size:64"`
	CurrentRate     decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	PrecisionFactor decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	UpdatedAt       time.Time       `gorm:"not null;autoUpdateTime:false"`
}

func (GlobalStateModel) TableName() string { return "ledger_global_state" }

// AccountModel is the persistence shape of models.Account.
type AccountModel struct {
	LedgerID      string          `gorm:"primaryKey;size:64"`
	Holder        string          `gorm:"primaryKey;size:255"`
	Principal     decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	Rate          decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	LastAccrualAt *time.Time
}

func (AccountModel) TableName() string { return "ledger_accounts" }

// EntryModel is the persistence shape of models.LedgerEntry. Seq keeps
// journal order.
type EntryModel struct {
	Seq         uint64          `gorm:"primaryKey;autoIncrement"`
	EntryID     string          `gorm:"column:entry_id;size:64;not null;uniqueIndex"`
	LedgerID    string          `gorm:"size:64;not null;index:idx_entries_holder,priority:1"`
	OperationID string          `gorm:"size:64;not null"`
	Holder      string          `gorm:"size:255;not null;index:idx_entries_holder,priority:2"`
	Kind        string          `gorm:"size:32;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	Rate        decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime:false"`
}

func (EntryModel) TableName() string { return "ledger_entries" }

func toDecimal(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

func fromDecimal(dst *uint256.Int, d decimal.Decimal) error {
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("invalid stored amount %s", d.String())
	}
	if overflow := dst.SetFromBig(d.BigInt()); overflow {
		return fmt.Errorf("stored amount %s exceeds 256 bits", d.String())
	}
	return nil
}

// FromDomainAccount populates the model from a domain account.
func (m *AccountModel) FromDomainAccount(ledgerID string, a models.Account) {
	m.LedgerID = ledgerID
	m.Holder = a.Holder
	m.Principal = toDecimal(&a.Principal)
	m.Rate = toDecimal(&a.Rate)
	m.LastAccrualAt = nil
	if !a.LastAccrualAt.IsZero() {
		t := a.LastAccrualAt
		m.LastAccrualAt = &t
	}
}

// ToDomain converts the model back to a domain account.
func (m *AccountModel) ToDomain() (models.Account, error) {
	acct := models.NewAccount(m.Holder)
	if err := fromDecimal(&acct.Principal, m.Principal); err != nil {
		return models.Account{}, err
	}
	if err := fromDecimal(&acct.Rate, m.Rate); err != nil {
		return models.Account{}, err
	}
	if m.LastAccrualAt != nil {
		acct.LastAccrualAt = m.LastAccrualAt.UTC()
	}
	return acct, nil
}

func (m *GlobalStateModel) FromDomainGlobalState(ledgerID string, g models.GlobalState) {
	m.LedgerID = ledgerID
	m.CurrentRate = toDecimal(&g.CurrentRate)
	m.PrecisionFactor = toDecimal(&g.PrecisionFactor)
	m.UpdatedAt = g.UpdatedAt
}

func (m *GlobalStateModel) ToDomain() (models.GlobalState, error) {
	g := models.GlobalState{LedgerID: m.LedgerID, UpdatedAt: m.UpdatedAt.UTC()}
	if err := fromDecimal(&g.CurrentRate, m.CurrentRate); err != nil {
		return models.GlobalState{}, err
	}
	if err := fromDecimal(&g.PrecisionFactor, m.PrecisionFactor); err != nil {
		return models.GlobalState{}, err
	}
	return g, nil
}

func (m *EntryModel) FromDomainEntry(ledgerID string, e models.LedgerEntry) {
	m.EntryID = e.ID
	m.LedgerID = ledgerID
	m.OperationID = e.OperationID
	m.Holder = e.Holder
	m.Kind = string(e.Kind)
	m.Amount = toDecimal(&e.Amount)
	m.Rate = toDecimal(&e.Rate)
	m.CreatedAt = e.CreatedAt
}

func (m *EntryModel) ToDomain() (models.LedgerEntry, error) {
	e := models.LedgerEntry{
		ID:          m.EntryID,
		OperationID: m.OperationID,
		Holder:      m.Holder,
		Kind:        models.EntryKind(m.Kind),
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if err := fromDecimal(&e.Amount, m.Amount); err != nil {
		return models.LedgerEntry{}, err
	}
	if err := fromDecimal(&e.Rate, m.Rate); err != nil {
		return models.LedgerEntry{}, err
	}
	return e, nil
}

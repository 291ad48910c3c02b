package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

// fungible is plain principal accounting: amounts are created, destroyed and
// moved, nothing grows with time. The accrual layer in Tx wraps it.
type fungible interface {
	principalOf(holder string) (*uint256.Int, error)
	mint(holder string, amount *uint256.Int, kind models.EntryKind) error
	burn(holder string, amount *uint256.Int) error
	move(from, to string, amount *uint256.Int) error
}

// principalBook stages account changes for one operation. Accounts are loaded
// from the store on first reference and written back only if touched.
type principalBook struct {
	ctx   context.Context
	store interfaces.AccountStore
	opID  string
	now   time.Time

	accounts map[string]*models.Account
	order    []string // load order, keeps the commit deterministic
	dirty    map[string]bool
	entries  []models.LedgerEntry
}

func newPrincipalBook(ctx context.Context, store interfaces.AccountStore, opID string, now time.Time) *principalBook {
	return &principalBook{
		ctx:      ctx,
		store:    store,
		opID:     opID,
		now:      now,
		accounts: make(map[string]*models.Account),
		dirty:    make(map[string]bool),
	}
}

// account returns the staged record for holder, loading it if needed.
func (b *principalBook) account(holder string) (*models.Account, error) {
	if acct, ok := b.accounts[holder]; ok {
		return acct, nil
	}

	acct, err := b.store.GetAccount(b.ctx, holder)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", holder, err)
	}
	acct.Holder = holder

	b.accounts[holder] = &acct
	b.order = append(b.order, holder)
	return &acct, nil
}

func (b *principalBook) touch(holder string) {
	b.dirty[holder] = true
}

func (b *principalBook) principalOf(holder string) (*uint256.Int, error) {
	acct, err := b.account(holder)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(&acct.Principal), nil
}

func (b *principalBook) mint(holder string, amount *uint256.Int, kind models.EntryKind) error {
	acct, err := b.account(holder)
	if err != nil {
		return err
	}

	sum, overflow := new(uint256.Int).AddOverflow(&acct.Principal, amount)
	if overflow {
		return ErrArithmeticOverflow
	}
	acct.Principal = *sum
	b.touch(holder)
	b.record(holder, kind, amount, &acct.Rate)
	return nil
}

func (b *principalBook) burn(holder string, amount *uint256.Int) error {
	acct, err := b.account(holder)
	if err != nil {
		return err
	}

	if acct.Principal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, %s requested", ErrInsufficientBalance, holder, acct.Principal.Dec(), amount.Dec())
	}
	acct.Principal.Sub(&acct.Principal, amount)
	b.touch(holder)
	b.record(holder, models.EntryRedeem, amount, &acct.Rate)
	return nil
}

func (b *principalBook) move(from, to string, amount *uint256.Int) error {
	src, err := b.account(from)
	if err != nil {
		return err
	}
	dst, err := b.account(to)
	if err != nil {
		return err
	}

	if src.Principal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, %s requested", ErrInsufficientBalance, from, src.Principal.Dec(), amount.Dec())
	}
	// A self transfer moves nothing.
	if from == to {
		return nil
	}

	sum, overflow := new(uint256.Int).AddOverflow(&dst.Principal, amount)
	if overflow {
		return ErrArithmeticOverflow
	}
	src.Principal.Sub(&src.Principal, amount)
	dst.Principal = *sum

	b.touch(from)
	b.touch(to)
	b.record(from, models.EntryTransferOut, amount, &src.Rate)
	b.record(to, models.EntryTransferIn, amount, &dst.Rate)
	return nil
}

// record appends a journal entry. Zero-amount principal movements are not journaled.
func (b *principalBook) record(holder string, kind models.EntryKind, amount, rate *uint256.Int) {
	if amount.IsZero() && kind != models.EntryRateUpdate {
		return
	}
	b.entries = append(b.entries, models.LedgerEntry{
		ID:          uuid.New().String(),
		OperationID: b.opID,
		Holder:      holder,
		Kind:        kind,
		Amount:      *amount,
		Rate:        *rate,
		CreatedAt:   b.now,
	})
}

// changedAccounts returns copies of every touched account in load order.
func (b *principalBook) changedAccounts() []models.Account {
	var changed []models.Account
	for _, holder := range b.order {
		if b.dirty[holder] {
			changed = append(changed, *b.accounts[holder])
		}
	}
	return changed
}

var _ fungible = (*principalBook)(nil)

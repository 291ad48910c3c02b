package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models/events"
)

// Tx is one unit of work on the ledger. Every mutating method accrues pending
// interest for the holders it touches before changing their principal. Nothing
// a Tx does is visible until Ledger.Update commits it, and a failing Update
// discards all of it.
type Tx struct {
	ledger *Ledger
	opID   string
	now    time.Time

	global      models.GlobalState
	globalDirty bool

	book    *principalBook
	events  []pendingEvent
	effects []Effect
}

// Effect is a side effect outside the ledger that belongs to a unit of work,
// such as moving collateral or relaying a bridge message.
//
// Run is called only after the unit of work is committed, with the writer
// lock still held. If Run fails, Undo is applied and committed as a
// compensating unit of work before any other writer gets in, and Run's error
// is returned from Update. Effects run in registration order; the first
// failure stops the rest.
type Effect struct {
	Run  func(ctx context.Context) error
	Undo func(tx *Tx) error
}

// OnCommit registers an effect for the current unit of work.
func (tx *Tx) OnCommit(effect Effect) {
	tx.effects = append(tx.effects, effect)
}

type pendingEvent struct {
	topic string
	event any
}

// OperationID identifies the operation in journal entries and events.
func (tx *Tx) OperationID() string {
	return tx.opID
}

// Now is the single timestamp the whole operation is evaluated at.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Issue adds amount to holder's principal. A dormant holder first gets the
// current global rate. Issue does not accept the Full sentinel.
func (tx *Tx) Issue(caller, holder string, amount *uint256.Int) error {
	return tx.issue(caller, holder, amount, nil)
}

// IssueWithRate is Issue with the holder's rate forced to rate instead of the
// global one. Bridges use it to carry a holder's rate across ledgers.
func (tx *Tx) IssueWithRate(caller, holder string, amount, rate *uint256.Int) error {
	if rate == nil {
		return fmt.Errorf("%w: missing rate", ErrInvalidAmount)
	}
	return tx.issue(caller, holder, amount, rate)
}

func (tx *Tx) issue(caller, holder string, amount, forcedRate *uint256.Int) error {
	if err := tx.authorize(caller, models.CapabilityIssueRedeem); err != nil {
		return err
	}
	if err := validHolder(holder); err != nil {
		return err
	}
	if amount == nil || IsFull(amount) {
		return fmt.Errorf("%w: issue needs an explicit amount", ErrInvalidAmount)
	}

	acct, err := tx.accrue(holder)
	if err != nil {
		return err
	}

	switch {
	case forcedRate != nil:
		acct.Rate = *forcedRate
	case acct.IsDormant():
		acct.Rate = tx.global.CurrentRate
	}

	if err := tx.book.mint(holder, amount, models.EntryIssue); err != nil {
		return err
	}

	tx.emit(events.TopicIssued, events.Issued{
		LedgerID:    tx.ledger.id,
		OperationID: tx.opID,
		Holder:      holder,
		Amount:      amount.Dec(),
		Rate:        acct.Rate.Dec(),
		OccurredAt:  tx.now,
	})
	return nil
}

// Redeem removes amount from holder's principal and returns what was removed.
// Full redeems the whole derived balance. The holder keeps its rate even when
// the balance reaches zero; the next issue overwrites it.
func (tx *Tx) Redeem(caller, holder string, amount *uint256.Int) (*uint256.Int, error) {
	if err := tx.authorize(caller, models.CapabilityIssueRedeem); err != nil {
		return nil, err
	}
	if err := validHolder(holder); err != nil {
		return nil, err
	}
	if amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidAmount)
	}

	acct, err := tx.accrue(holder)
	if err != nil {
		return nil, err
	}

	redeemed := resolve(amount, &acct.Principal)
	if err := tx.book.burn(holder, redeemed); err != nil {
		return nil, err
	}

	tx.emit(events.TopicRedeemed, events.Redeemed{
		LedgerID:    tx.ledger.id,
		OperationID: tx.opID,
		Holder:      holder,
		Amount:      redeemed.Dec(),
		OccurredAt:  tx.now,
	})
	return redeemed, nil
}

// Transfer moves principal from one holder to another and returns the amount
// moved. Only from itself may transfer. Both sides accrue before anything
// moves, so the sender keeps interest already earned and the receiver's clock
// restarts at now. A receiver with no balance gets the current global rate; a
// receiver with a balance keeps its own.
func (tx *Tx) Transfer(caller, from, to string, amount *uint256.Int) (*uint256.Int, error) {
	if err := validHolder(from); err != nil {
		return nil, err
	}
	if err := validHolder(to); err != nil {
		return nil, err
	}
	if caller != from {
		return nil, fmt.Errorf("%w: %s cannot transfer on behalf of %s", ErrUnauthorized, caller, from)
	}
	if amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidAmount)
	}

	src, err := tx.accrue(from)
	if err != nil {
		return nil, err
	}
	dst, err := tx.accrue(to)
	if err != nil {
		return nil, err
	}

	moved := resolve(amount, &src.Principal)
	if from != to && dst.IsDormant() {
		dst.Rate = tx.global.CurrentRate
	}
	if err := tx.book.move(from, to, moved); err != nil {
		return nil, err
	}

	tx.emit(events.TopicTransferred, events.Transferred{
		LedgerID:    tx.ledger.id,
		OperationID: tx.opID,
		From:        from,
		To:          to,
		Amount:      moved.Dec(),
		OccurredAt:  tx.now,
	})
	return moved, nil
}

// SetGlobalRate lowers (or keeps) the global rate. Raising it is rejected,
// which is what guarantees earlier holders a rate at least as good as later ones.
func (tx *Tx) SetGlobalRate(caller string, rate *uint256.Int) error {
	if err := tx.authorize(caller, models.CapabilityRateAdmin); err != nil {
		return err
	}
	if rate == nil {
		return fmt.Errorf("%w: missing rate", ErrInvalidAmount)
	}
	if rate.Gt(&tx.global.CurrentRate) {
		return &RateIncreaseRejectedError{Current: tx.global.CurrentRate, Attempted: *rate}
	}

	previous := tx.global.CurrentRate
	tx.global.CurrentRate = *rate
	tx.global.UpdatedAt = tx.now
	tx.globalDirty = true
	tx.book.record("", models.EntryRateUpdate, new(uint256.Int), rate)

	tx.emit(events.TopicGlobalRateUpdated, events.GlobalRateUpdated{
		LedgerID:   tx.ledger.id,
		Previous:   previous.Dec(),
		Current:    rate.Dec(),
		UpdatedBy:  caller,
		OccurredAt: tx.now,
	})
	return nil
}

// BalanceOf returns holder's derived balance as staged in this Tx.
func (tx *Tx) BalanceOf(holder string) (*uint256.Int, error) {
	acct, err := tx.book.account(holder)
	if err != nil {
		return nil, err
	}
	return derivedBalance(acct, &tx.global.PrecisionFactor, tx.now)
}

// PrincipalBalanceOf returns holder's principal as staged in this Tx.
func (tx *Tx) PrincipalBalanceOf(holder string) (*uint256.Int, error) {
	return tx.book.principalOf(holder)
}

// UserRate returns holder's rate as staged in this Tx.
func (tx *Tx) UserRate(holder string) (*uint256.Int, error) {
	acct, err := tx.book.account(holder)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(&acct.Rate), nil
}

// GlobalRate returns the global rate as staged in this Tx.
func (tx *Tx) GlobalRate() *uint256.Int {
	return new(uint256.Int).Set(&tx.global.CurrentRate)
}

// accrue folds holder's pending interest into principal and restarts its
// accrual clock at now.
func (tx *Tx) accrue(holder string) (*models.Account, error) {
	acct, err := tx.book.account(holder)
	if err != nil {
		return nil, err
	}

	balance, err := derivedBalance(acct, &tx.global.PrecisionFactor, tx.now)
	if err != nil {
		return nil, err
	}
	if balance.Gt(&acct.Principal) {
		interest := new(uint256.Int).Sub(balance, &acct.Principal)
		if err := tx.book.mint(holder, interest, models.EntryInterest); err != nil {
			return nil, err
		}
		tx.emit(events.TopicInterestAccrued, events.InterestAccrued{
			LedgerID:    tx.ledger.id,
			OperationID: tx.opID,
			Holder:      holder,
			Interest:    interest.Dec(),
			OccurredAt:  tx.now,
		})
	}

	acct.LastAccrualAt = tx.now
	tx.book.touch(holder)
	return acct, nil
}

func (tx *Tx) authorize(caller string, capability models.Capability) error {
	if !tx.ledger.gate.IsAuthorized(caller, capability) {
		return fmt.Errorf("%w: %q lacks %s", ErrUnauthorized, caller, capability)
	}
	return nil
}

func (tx *Tx) emit(topic string, event any) {
	tx.events = append(tx.events, pendingEvent{topic: topic, event: event})
}

func (tx *Tx) batch() models.Batch {
	batch := models.Batch{
		Accounts: tx.book.changedAccounts(),
		Entries:  tx.book.entries,
	}
	if tx.globalDirty {
		global := tx.global
		batch.Global = &global
	}
	return batch
}

// resolve turns the Full sentinel into the holder's balance. It is called right
// after accrual, when principal and derived balance coincide.
func resolve(amount, balance *uint256.Int) *uint256.Int {
	if IsFull(amount) {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int).Set(amount)
}

func validHolder(holder string) error {
	if strings.TrimSpace(holder) == "" {
		return ErrInvalidHolder
	}
	return nil
}

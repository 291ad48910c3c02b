package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/clock"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"go.uber.org/zap"
)

// Ledger is the interest-accruing balance ledger. Each holder's balance grows
// linearly at the rate it was given when it became active; the global rate
// handed to new holders can only go down.
//
// Writes are serialized: Update holds a single writer lock for the whole unit
// of work. Reads go to the store and see the latest committed state.
type Ledger struct {
	id        string
	store     interfaces.AccountStore   // persistence for accounts, global state and journal
	gate      interfaces.Authorizer     // capability checks for privileged operations
	clock     interfaces.Clock          // source of "now"
	publisher interfaces.EventPublisher // observers, optional
	logger    *zap.Logger

	precision uint256.Int // fixed at initialization
	mu        sync.Mutex  // single writer
}

// Config holds the values used when a ledger is initialized for the first
// time. An already initialized store keeps its persisted values.
type Config struct {
	ID              string
	InitialRate     *uint256.Int // defaults to DefaultInitialRate
	PrecisionFactor *uint256.Int // defaults to DefaultPrecisionFactor
}

type Option func(*Ledger)

func WithClock(c interfaces.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New opens the ledger backed by store, initializing the global state on first use.
func New(ctx context.Context, cfg Config, store interfaces.AccountStore, gate interfaces.Authorizer, opts ...Option) (*Ledger, error) {
	if cfg.ID == "" {
		return nil, errors.New("ledger id is required")
	}
	if store == nil || gate == nil {
		return nil, errors.New("ledger needs a store and an authorizer")
	}

	l := &Ledger{
		id:     cfg.ID,
		store:  store,
		gate:   gate,
		clock:  clock.System{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("ledger_id", l.id))

	global, found, err := store.GetGlobalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}
	if !found {
		global = models.GlobalState{
			LedgerID:        l.id,
			CurrentRate:     *DefaultInitialRate(),
			PrecisionFactor: *DefaultPrecisionFactor(),
			UpdatedAt:       l.clock.Now(),
		}
		if cfg.InitialRate != nil {
			global.CurrentRate = *cfg.InitialRate
		}
		if cfg.PrecisionFactor != nil {
			global.PrecisionFactor = *cfg.PrecisionFactor
		}
		if global.PrecisionFactor.IsZero() {
			return nil, errors.New("precision factor must be positive")
		}
		if err := store.Commit(ctx, models.Batch{Global: &global}); err != nil {
			return nil, fmt.Errorf("initialize global state: %w", err)
		}
		l.logger.Info("ledger initialized",
			zap.String("rate", global.CurrentRate.Dec()),
			zap.String("precision", global.PrecisionFactor.Dec()),
		)
	}
	l.precision = global.PrecisionFactor

	return l, nil
}

// ID returns the ledger instance identity.
func (l *Ledger) ID() string {
	return l.id
}

// PrecisionFactor returns the fixed-point scale of rates.
func (l *Ledger) PrecisionFactor() *uint256.Int {
	return new(uint256.Int).Set(&l.precision)
}

// Update runs fn as one atomic unit of work. If fn returns an error, or the
// commit fails, none of fn's changes are applied. Events raised by fn are
// published after the commit. fn must not call mutating Ledger methods.
//
// Effects registered with Tx.OnCommit run only after a successful commit and
// before the writer lock is released. See Effect.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.apply(ctx, fn)
	if err != nil {
		return err
	}

	for _, effect := range tx.effects {
		if err := effect.Run(ctx); err != nil {
			return l.compensate(ctx, tx.opID, effect, err)
		}
	}
	return nil
}

// apply runs fn on a fresh Tx and commits it. Callers hold l.mu.
func (l *Ledger) apply(ctx context.Context, fn func(tx *Tx) error) (*Tx, error) {
	global, found, err := l.store.GetGlobalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}
	if !found {
		return nil, errors.New("ledger is not initialized")
	}

	opID := uuid.New().String()
	now := l.clock.Now()
	tx := &Tx{
		ledger: l,
		opID:   opID,
		now:    now,
		global: global,
		book:   newPrincipalBook(ctx, l.store, opID, now),
	}

	if err := fn(tx); err != nil {
		l.logger.Debug("operation rolled back", zap.String("operation_id", opID), zap.Error(err))
		return nil, err
	}

	batch := tx.batch()
	if !batch.IsEmpty() {
		if err := l.store.Commit(ctx, batch); err != nil {
			return nil, fmt.Errorf("commit operation %s: %w", opID, err)
		}
		l.logger.Debug("operation committed",
			zap.String("operation_id", opID),
			zap.Int("accounts", len(batch.Accounts)),
			zap.Int("entries", len(batch.Entries)),
		)
	}

	l.publish(ctx, tx.events)
	return tx, nil
}

// compensate commits effect.Undo after effect.Run failed with runErr. The
// returned error always wraps runErr.
func (l *Ledger) compensate(ctx context.Context, opID string, effect Effect, runErr error) error {
	l.logger.Warn("effect failed, compensating",
		zap.String("operation_id", opID),
		zap.Error(runErr),
	)
	if effect.Undo == nil {
		return runErr
	}

	undo, err := l.apply(ctx, effect.Undo)
	if err != nil {
		l.logger.Error("compensation failed, manual reconciliation needed",
			zap.String("operation_id", opID),
			zap.Error(err),
		)
		return errors.Join(runErr, fmt.Errorf("compensate operation %s: %w", opID, err))
	}
	if len(undo.effects) > 0 {
		l.logger.Warn("effects registered by a compensation are ignored", zap.String("operation_id", opID))
	}
	l.logger.Info("operation compensated",
		zap.String("operation_id", opID),
		zap.String("compensation_id", undo.opID),
	)
	return runErr
}

// publish notifies observers. The operation is already committed, so a
// publishing failure is logged and not returned.
func (l *Ledger) publish(ctx context.Context, pending []pendingEvent) {
	if l.publisher == nil {
		return
	}
	for _, p := range pending {
		if err := l.publisher.Publish(ctx, p.topic, p.event); err != nil {
			l.logger.Warn("failed to publish ledger event", zap.String("topic", p.topic), zap.Error(err))
		}
	}
}

func (l *Ledger) Issue(ctx context.Context, caller, holder string, amount *uint256.Int) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.Issue(caller, holder, amount)
	})
}

func (l *Ledger) IssueWithRate(ctx context.Context, caller, holder string, amount, rate *uint256.Int) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.IssueWithRate(caller, holder, amount, rate)
	})
}

func (l *Ledger) Redeem(ctx context.Context, caller, holder string, amount *uint256.Int) (*uint256.Int, error) {
	var redeemed *uint256.Int
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		redeemed, err = tx.Redeem(caller, holder, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

func (l *Ledger) Transfer(ctx context.Context, caller, from, to string, amount *uint256.Int) (*uint256.Int, error) {
	var moved *uint256.Int
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		moved, err = tx.Transfer(caller, from, to, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (l *Ledger) SetGlobalRate(ctx context.Context, caller string, rate *uint256.Int) error {
	err := l.Update(ctx, func(tx *Tx) error {
		return tx.SetGlobalRate(caller, rate)
	})
	if err != nil {
		if errors.Is(err, ErrRateIncreaseRejected) {
			l.logger.Warn("global rate increase rejected", zap.String("caller", caller), zap.Error(err))
		}
		return err
	}
	l.logger.Info("global rate updated", zap.String("rate", rate.Dec()), zap.String("caller", caller))
	return nil
}

// BalanceOf returns holder's derived balance at the current time. It never
// mutates state; interest is locked in only by a mutating operation.
func (l *Ledger) BalanceOf(ctx context.Context, holder string) (*uint256.Int, error) {
	acct, err := l.store.GetAccount(ctx, holder)
	if err != nil {
		return nil, err
	}
	return derivedBalance(&acct, &l.precision, l.clock.Now())
}

// PrincipalBalanceOf returns holder's principal, excluding interest accrued
// since the last operation that touched the holder.
func (l *Ledger) PrincipalBalanceOf(ctx context.Context, holder string) (*uint256.Int, error) {
	acct, err := l.store.GetAccount(ctx, holder)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(&acct.Principal), nil
}

func (l *Ledger) UserRate(ctx context.Context, holder string) (*uint256.Int, error) {
	acct, err := l.store.GetAccount(ctx, holder)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(&acct.Rate), nil
}

func (l *Ledger) GlobalRate(ctx context.Context) (*uint256.Int, error) {
	global, found, err := l.store.GetGlobalState(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("ledger is not initialized")
	}
	return new(uint256.Int).Set(&global.CurrentRate), nil
}

// Account returns holder's stored record.
func (l *Ledger) Account(ctx context.Context, holder string) (models.Account, error) {
	return l.store.GetAccount(ctx, holder)
}

func (l *Ledger) Accounts(ctx context.Context) ([]models.Account, error) {
	return l.store.ListAccounts(ctx)
}

// TotalPrincipal sums every holder's principal.
func (l *Ledger) TotalPrincipal(ctx context.Context) (*uint256.Int, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	total := new(uint256.Int)
	for i := range accounts {
		if _, overflow := total.AddOverflow(total, &accounts[i].Principal); overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	return total, nil
}

func (l *Ledger) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	return l.store.GetLedgerEntries(ctx)
}

func (l *Ledger) EntriesByHolder(ctx context.Context, holder string) ([]models.LedgerEntry, error) {
	return l.store.GetEntriesByHolder(ctx, holder)
}

// Package vault turns collateral deposits into ledger balances and ledger
// redemptions back into collateral.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"go.uber.org/zap"
)

var (
	ErrPayoutFailed       = ledger.NewDomainError("PAYOUT_FAILED", "collateral payout failed")
	ErrFundingUnsupported = ledger.NewDomainError("FUNDING_UNSUPPORTED", "custodian cannot credit wallets")
)

// PayoutFailedError reports a payout that failed after the ledger redeem was
// committed. The burned amount is re-issued to the holder.
type PayoutFailedError struct {
	Holder string
	Amount uint256.Int
	Err    error
}

func (e *PayoutFailedError) Error() string {
	return fmt.Sprintf("payout of %s to %s failed: %v", e.Amount.Dec(), e.Holder, e.Err)
}

func (e *PayoutFailedError) Is(target error) bool {
	return target == ErrPayoutFailed
}

func (e *PayoutFailedError) Unwrap() error {
	return e.Err
}

// Funder is implemented by custodians that can credit outside wallets, such as
// the in-memory custodian.
type Funder interface {
	Fund(party string, amount *uint256.Int)
	WalletOf(party string) *uint256.Int
}

// ReserveReporter is implemented by custodians that can report their reserves.
type ReserveReporter interface {
	Reserves() *uint256.Int
}

// Vault is the privileged ledger caller for deposits and redemptions. A ledger
// change and its collateral movement either both take effect or neither does:
// collateral is refunded when a deposit does not commit, and a redemption is
// re-issued when its payout fails.
type Vault struct {
	ledger    *ledger.Ledger
	custodian interfaces.Custodian
	identity  string // the vault's caller identity on the ledger
	logger    *zap.Logger
}

func New(l *ledger.Ledger, custodian interfaces.Custodian, identity string, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		ledger:    l,
		custodian: custodian,
		identity:  identity,
		logger:    logger.Named("vault"),
	}
}

func (v *Vault) Identity() string {
	return v.identity
}

// Deposit takes amount of collateral from depositor and issues the same amount
// on the ledger at the depositor's rate. If the issue does not commit, the
// collateral is refunded.
func (v *Vault) Deposit(ctx context.Context, depositor string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || ledger.IsFull(amount) {
		return fmt.Errorf("%w: deposit needs a positive amount", ledger.ErrInvalidAmount)
	}

	if err := v.custodian.Collect(ctx, depositor, amount); err != nil {
		v.logger.Warn("deposit failed", zap.String("depositor", depositor), zap.String("amount", amount.Dec()), zap.Error(err))
		return fmt.Errorf("collect collateral: %w", err)
	}

	err := v.ledger.Update(ctx, func(tx *ledger.Tx) error {
		return tx.Issue(v.identity, depositor, amount)
	})
	if err != nil {
		v.logger.Warn("deposit failed, refunding collateral", zap.String("depositor", depositor), zap.String("amount", amount.Dec()), zap.Error(err))
		if refundErr := v.custodian.Payout(ctx, depositor, amount); refundErr != nil {
			v.logger.Error("collateral refund failed", zap.String("depositor", depositor), zap.String("amount", amount.Dec()), zap.Error(refundErr))
			return errors.Join(err, fmt.Errorf("refund collateral: %w", refundErr))
		}
		return err
	}

	v.logger.Info("deposit", zap.String("depositor", depositor), zap.String("amount", amount.Dec()))
	return nil
}

// Redeem burns amount (or the whole balance for ledger.Full) and pays the same
// amount of collateral to holder. The payout happens once the burn is
// committed; a failed payout re-issues the burned amount at the holder's rate.
func (v *Vault) Redeem(ctx context.Context, holder string, amount *uint256.Int) (*uint256.Int, error) {
	var redeemed *uint256.Int

	err := v.ledger.Update(ctx, func(tx *ledger.Tx) error {
		rate, err := tx.UserRate(holder)
		if err != nil {
			return err
		}
		redeemed, err = tx.Redeem(v.identity, holder, amount)
		if err != nil {
			return err
		}

		paid := new(uint256.Int).Set(redeemed)
		tx.OnCommit(ledger.Effect{
			Run: func(ctx context.Context) error {
				if err := v.custodian.Payout(ctx, holder, paid); err != nil {
					return &PayoutFailedError{Holder: holder, Amount: *paid, Err: err}
				}
				return nil
			},
			Undo: func(tx *ledger.Tx) error {
				return tx.IssueWithRate(v.identity, holder, paid, rate)
			},
		})
		return nil
	})
	if err != nil {
		v.logger.Warn("redeem failed", zap.String("holder", holder), zap.Error(err))
		return nil, err
	}

	v.logger.Info("redeem", zap.String("holder", holder), zap.String("amount", redeemed.Dec()))
	return redeemed, nil
}

// FundRewards adds collateral to the reserves without issuing anything. Interest
// paid out on redemption is backed by these rewards.
func (v *Vault) FundRewards(ctx context.Context, from string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || ledger.IsFull(amount) {
		return fmt.Errorf("%w: rewards need a positive amount", ledger.ErrInvalidAmount)
	}
	if err := v.custodian.Collect(ctx, from, amount); err != nil {
		return fmt.Errorf("collect rewards: %w", err)
	}
	v.logger.Info("rewards funded", zap.String("from", from), zap.String("amount", amount.Dec()))
	return nil
}

// Reserves reports the custodian's reserves when it can tell.
func (v *Vault) Reserves() (*uint256.Int, bool) {
	r, ok := v.custodian.(ReserveReporter)
	if !ok {
		return nil, false
	}
	return r.Reserves(), true
}

// FundWallet credits collateral to party's outside wallet and returns the new
// wallet balance. Only custodians implementing Funder support it.
func (v *Vault) FundWallet(ctx context.Context, party string, amount *uint256.Int) (*uint256.Int, error) {
	if party == "" {
		return nil, fmt.Errorf("%w: empty party", ledger.ErrInvalidHolder)
	}
	if amount == nil || amount.IsZero() || ledger.IsFull(amount) {
		return nil, fmt.Errorf("%w: funding needs a positive amount", ledger.ErrInvalidAmount)
	}
	f, ok := v.custodian.(Funder)
	if !ok {
		return nil, ErrFundingUnsupported
	}

	f.Fund(party, amount)
	wallet := f.WalletOf(party)
	v.logger.Info("wallet funded", zap.String("party", party), zap.String("amount", amount.Dec()), zap.String("wallet", wallet.Dec()))
	return wallet, nil
}

package ledger

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

// Interest is simple, not compounding: the growth factor adds rate*elapsed on
// top of the precision factor, and elapsed counts from the last accrual only.
// Every mutating operation folds the pending interest into principal first, so
// the next period starts from the new principal.

// elapsedSeconds returns whole seconds between since and now. A clock that
// stepped backwards yields zero rather than negative interest.
func elapsedSeconds(since, now time.Time) uint64 {
	if since.IsZero() {
		return 0
	}
	d := now.Unix() - since.Unix()
	if d <= 0 {
		return 0
	}
	return uint64(d)
}

// growthFactor returns precision + rate*elapsed.
func growthFactor(precision, rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	interest, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(elapsed))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	factor, overflow := new(uint256.Int).AddOverflow(precision, interest)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return factor, nil
}

// derivedBalance computes principal * growthFactor / precision at now.
// The product is taken with a 512-bit intermediate so only the result has to
// fit in 256 bits.
func derivedBalance(acct *models.Account, precision *uint256.Int, now time.Time) (*uint256.Int, error) {
	if acct.Principal.IsZero() {
		return new(uint256.Int), nil
	}

	factor, err := growthFactor(precision, &acct.Rate, elapsedSeconds(acct.LastAccrualAt, now))
	if err != nil {
		return nil, err
	}

	balance, overflow := new(uint256.Int).MulDivOverflow(&acct.Principal, factor, precision)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return balance, nil
}

package ledger

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const secondsPerYear = 365 * 24 * 60 * 60

var (
	// full is the largest uint256. Passed as an amount to Redeem or Transfer it
	// means "the entire current balance", so a full withdrawal leaves no dust
	// behind from interest accrued between reading the balance and submitting
	// the operation.
	full = new(uint256.Int).SetAllOne()

	defaultPrecisionFactor = uint256.NewInt(1_000_000_000_000_000_000)
	// 5e10 per second at 1e18 precision, roughly 0.16% a year.
	defaultInitialRate = uint256.NewInt(50_000_000_000)
)

// Full returns the "entire balance" sentinel.
func Full() *uint256.Int {
	return new(uint256.Int).Set(full)
}

// IsFull reports whether amount is the "entire balance" sentinel.
func IsFull(amount *uint256.Int) bool {
	return amount != nil && amount.Eq(full)
}

// DefaultPrecisionFactor returns the 1e18 fixed-point scale.
func DefaultPrecisionFactor() *uint256.Int {
	return new(uint256.Int).Set(defaultPrecisionFactor)
}

// DefaultInitialRate returns the global rate a new ledger starts with when none is configured.
func DefaultInitialRate() *uint256.Int {
	return new(uint256.Int).Set(defaultInitialRate)
}

// ParseAmount parses a base-10 amount. "max" and "full" select the Full sentinel.
func ParseAmount(s string) (*uint256.Int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max", "full":
		return Full(), nil
	case "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return amount, nil
}

// FormatAmount renders amount in base 10.
func FormatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

// RateFromAnnualPercent converts a simple annual percentage into the
// per-second precision-scaled rate the ledger works with, truncating.
func RateFromAnnualPercent(apr decimal.Decimal, precision *uint256.Int) (*uint256.Int, error) {
	if apr.IsNegative() {
		return nil, fmt.Errorf("%w: negative annual rate %s", ErrInvalidAmount, apr)
	}
	scaled := apr.
		Mul(decimal.NewFromBigInt(precision.ToBig(), 0)).
		Div(decimal.NewFromInt(100 * secondsPerYear)).
		Truncate(0)
	rate, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return rate, nil
}

// AnnualPercent is the inverse of RateFromAnnualPercent, for display.
func AnnualPercent(rate, precision *uint256.Int) decimal.Decimal {
	if precision.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(rate.ToBig(), 0).
		Mul(decimal.NewFromInt(100 * secondsPerYear)).
		DivRound(decimal.NewFromBigInt(precision.ToBig(), 0), 6)
}

package interfaces

import (
	"context"

	"github.com/holiman/uint256"
)

// Custodian moves collateral in and out of the vault.
type Custodian interface {
	Collect(ctx context.Context, from string, amount *uint256.Int) error
	Payout(ctx context.Context, to string, amount *uint256.Int) error
}

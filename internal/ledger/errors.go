package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// DomainError is a ledger rule violation. Code is stable and meant for callers
// that translate errors, Message is for humans.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

var (
	ErrUnauthorized         = NewDomainError("UNAUTHORIZED", "caller lacks the required capability")
	ErrRateIncreaseRejected = NewDomainError("RATE_INCREASE_REJECTED", "global rate can only decrease")
	ErrInsufficientBalance  = NewDomainError("INSUFFICIENT_BALANCE", "insufficient balance")
	ErrInvalidAmount        = NewDomainError("INVALID_AMOUNT", "invalid amount")
	ErrInvalidHolder        = NewDomainError("INVALID_HOLDER", "holder identity must not be empty")
	ErrArithmeticOverflow   = NewDomainError("ARITHMETIC_OVERFLOW", "amount exceeds 256 bits")
)

// RateIncreaseRejectedError is returned by SetGlobalRate when the new rate is
// above the current one. It matches ErrRateIncreaseRejected with errors.Is.
type RateIncreaseRejectedError struct {
	Current   uint256.Int
	Attempted uint256.Int
}

func (e *RateIncreaseRejectedError) Error() string {
	return fmt.Sprintf("global rate can only decrease: current %s, attempted %s", e.Current.Dec(), e.Attempted.Dec())
}

func (e *RateIncreaseRejectedError) Is(target error) bool {
	return target == ErrRateIncreaseRejected
}

func (e *RateIncreaseRejectedError) Unwrap() error {
	return ErrRateIncreaseRejected
}

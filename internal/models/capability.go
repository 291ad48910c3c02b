package models

// Capability names a privilege checked by the authorization gate.
type Capability string

const (
	// CapabilityIssueRedeem allows issuing and redeeming ledger balances.
	CapabilityIssueRedeem Capability = "ledger/issue-redeem"
	// CapabilityRateAdmin allows lowering the global interest rate.
	CapabilityRateAdmin Capability = "ledger/rate-admin"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityIssueRedeem, CapabilityRateAdmin:
		return true
	}
	return false
}

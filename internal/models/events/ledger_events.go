package events

import "time"

// Topics ledger events are published on.
const (
	TopicGlobalRateUpdated = "ledger.global_rate_updated"
	TopicIssued            = "ledger.issued"
	TopicRedeemed          = "ledger.redeemed"
	TopicTransferred       = "ledger.transferred"
	TopicInterestAccrued   = "ledger.interest_accrued"
)

type GlobalRateUpdated struct {
	LedgerID   string    `json:"ledger_id"`
	Previous   string    `json:"previous"`
	Current    string    `json:"current"`
	UpdatedBy  string    `json:"updated_by"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Issued struct {
	LedgerID    string    `json:"ledger_id"`
	OperationID string    `json:"operation_id"`
	Holder      string    `json:"holder"`
	Amount      string    `json:"amount"`
	Rate        string    `json:"rate"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Redeemed struct {
	LedgerID    string    `json:"ledger_id"`
	OperationID string    `json:"operation_id"`
	Holder      string    `json:"holder"`
	Amount      string    `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Transferred struct {
	LedgerID    string    `json:"ledger_id"`
	OperationID string    `json:"operation_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      string    `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// InterestAccrued is emitted when pending interest is folded into principal.
type InterestAccrued struct {
	LedgerID    string    `json:"ledger_id"`
	OperationID string    `json:"operation_id"`
	Holder      string    `json:"holder"`
	Interest    string    `json:"interest"`
	OccurredAt  time.Time `json:"occurred_at"`
}

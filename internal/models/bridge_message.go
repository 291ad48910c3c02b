package models

import "time"

// BridgeMessage carries value redeemed on a source ledger to a destination
// ledger. Amount and Rate are base-10 strings so the payload survives any
// transport unchanged.
type BridgeMessage struct {
	ID           string    `json:"id"`
	SourceLedger string    `json:"source_ledger"`
	DestLedger   string    `json:"dest_ledger"`
	Sender       string    `json:"sender"`
	Receiver     string    `json:"receiver"`
	Amount       string    `json:"amount"`
	Rate         string    `json:"rate"`
	SentAt       time.Time `json:"sent_at"`
}

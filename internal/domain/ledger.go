package domain

import "time"

type TransactionKind string

const (
	TransactionCharge TransactionKind = "charge"
	TransactionRefund TransactionKind = "refund"
)

// CreditTransaction is an append-only ledger entry. Debits are negative.
type CreditTransaction struct {
	ID             string
	UserRef        string
	PipelineID     string
	JobRef         string
	Amount         int64
	Kind           TransactionKind
	IdempotencyKey string
	CreatedAt      time.Time
}

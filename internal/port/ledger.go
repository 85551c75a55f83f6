package port

import (
	"context"

	"github.com/bnema/sketchmotion/internal/domain"
)

type LedgerStore interface {
	// Charge records tx and debits the balance unless a transaction with the
	// same idempotency key exists, in which case that one is returned.
	Charge(ctx context.Context, tx domain.CreditTransaction) (*domain.CreditTransaction, bool, error)
	// Refund credits back the charge stored under chargeKey exactly once.
	// It returns nil when no charge exists.
	Refund(ctx context.Context, chargeKey string, refundKey func(chargeID string) string) (*domain.CreditTransaction, bool, error)
	Balance(ctx context.Context, userRef string) (int64, error)
	Deposit(ctx context.Context, userRef string, amount int64) error
	// OpenAccount creates the user's balance with initial credits. It reports
	// false and changes nothing when the account already exists.
	OpenAccount(ctx context.Context, userRef string, initial int64) (bool, error)
	Transactions(ctx context.Context, pipelineID string) ([]domain.CreditTransaction, error)
}

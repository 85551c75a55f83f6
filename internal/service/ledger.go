package service

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/port"
)

// RefundKey derives the idempotency key of the refund for a charge.
func RefundKey(chargeID string) string {
	sum := blake2b.Sum256([]byte("refund:" + chargeID))
	return hex.EncodeToString(sum[:])
}

// CreditLedger bills a pipeline at most once and refunds it at most once,
// however many times a stage is retried or a pipeline is finalized.
type CreditLedger struct {
	store   port.LedgerStore
	welcome int64
}

func NewCreditLedger(store port.LedgerStore) *CreditLedger {
	return &CreditLedger{store: store}
}

// ChargeIfUnbilled debits amount for the pipeline unless it was already
// charged. The boolean reports whether this call wrote the charge.
func (l *CreditLedger) ChargeIfUnbilled(ctx context.Context, pipelineID, userRef, jobRef string, amount int64) (*domain.CreditTransaction, bool, error) {
	if amount <= 0 {
		return nil, false, nil
	}
	tx, created, err := l.store.Charge(ctx, domain.CreditTransaction{
		UserRef:        userRef,
		PipelineID:     pipelineID,
		JobRef:         jobRef,
		Amount:         -amount,
		Kind:           domain.TransactionCharge,
		IdempotencyKey: pipelineID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("charge pipeline %s: %w", pipelineID, err)
	}
	if created {
		metrics.CreditTransactionsTotal.WithLabelValues(string(domain.TransactionCharge)).Inc()
		logger.Info.Printf("charged %d credits to %s for pipeline %s", amount, logger.SanitizeForLog(userRef), pipelineID)
	}
	return tx, created, nil
}

// RefundIfBilled credits back the pipeline's charge exactly once. Pipelines
// that were never charged are left alone.
func (l *CreditLedger) RefundIfBilled(ctx context.Context, pipelineID string) (*domain.CreditTransaction, bool, error) {
	tx, created, err := l.store.Refund(ctx, pipelineID, RefundKey)
	if err != nil {
		return nil, false, fmt.Errorf("refund pipeline %s: %w", pipelineID, err)
	}
	if created {
		metrics.CreditTransactionsTotal.WithLabelValues(string(domain.TransactionRefund)).Inc()
		logger.Info.Printf("refunded %d credits to %s for pipeline %s", tx.Amount, logger.SanitizeForLog(tx.UserRef), pipelineID)
	}
	return tx, created, nil
}

// CanAfford reports whether the user's balance covers amount.
func (l *CreditLedger) CanAfford(ctx context.Context, userRef string, amount int64) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	balance, err := l.store.Balance(ctx, userRef)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

func (l *CreditLedger) Balance(ctx context.Context, userRef string) (int64, error) {
	return l.store.Balance(ctx, userRef)
}

// WithWelcomeCredits grants amount to every user on their first submission.
func (l *CreditLedger) WithWelcomeCredits(amount int64) *CreditLedger {
	l.welcome = amount
	return l
}

// EnsureAccount opens the user's account with the welcome credits if it does
// not exist yet.
func (l *CreditLedger) EnsureAccount(ctx context.Context, userRef string) error {
	if l.welcome <= 0 {
		return nil
	}
	opened, err := l.store.OpenAccount(ctx, userRef, l.welcome)
	if err != nil {
		return err
	}
	if opened {
		metrics.CreditTransactionsTotal.WithLabelValues("welcome").Inc()
		logger.Info.Printf("opened account %s with %d credits", logger.SanitizeForLog(userRef), l.welcome)
	}
	return nil
}

func (l *CreditLedger) Deposit(ctx context.Context, userRef string, amount int64) error {
	return l.store.Deposit(ctx, userRef, amount)
}

func (l *CreditLedger) Transactions(ctx context.Context, pipelineID string) ([]domain.CreditTransaction, error) {
	return l.store.Transactions(ctx, pipelineID)
}

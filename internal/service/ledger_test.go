package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bnema/sketchmotion/internal/adapter/storage/sqlite"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, balance int64) *CreditLedger {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	l := NewCreditLedger(sqlite.NewLedger(store))
	require.NoError(t, l.Deposit(context.Background(), "user-1", balance))
	return l
}

func TestRefundKey(t *testing.T) {
	a := RefundKey("charge-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, RefundKey("charge-1"))
	assert.NotEqual(t, a, RefundKey("charge-2"))
	assert.NotEqual(t, "charge-1", a)
}

func TestCreditLedger_ChargeAndRefund(t *testing.T) {
	l := newTestLedger(t, 50)
	ctx := context.Background()

	tx, created, err := l.ChargeIfUnbilled(ctx, "pipe-1", "user-1", "job-1", 20)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(-20), tx.Amount)
	assert.Equal(t, "pipe-1", tx.IdempotencyKey)

	// A retried stage charges under the same key.
	again, created, err := l.ChargeIfUnbilled(ctx, "pipe-1", "user-1", "job-2", 20)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tx.ID, again.ID)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)

	refund, created, err := l.RefundIfBilled(ctx, "pipe-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RefundKey(tx.ID), refund.IdempotencyKey)

	_, created, err = l.RefundIfBilled(ctx, "pipe-1")
	require.NoError(t, err)
	assert.False(t, created)

	balance, err = l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestCreditLedger_FreeStagesAreNotCharged(t *testing.T) {
	l := newTestLedger(t, 0)
	ctx := context.Background()

	tx, created, err := l.ChargeIfUnbilled(ctx, "pipe-1", "user-1", "job-1", 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, tx)

	txs, err := l.Transactions(ctx, "pipe-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCreditLedger_InsufficientCredits(t *testing.T) {
	l := newTestLedger(t, 3)

	_, _, err := l.ChargeIfUnbilled(context.Background(), "pipe-1", "user-1", "job-1", 4)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	ok, err := l.CanAfford(context.Background(), "user-1", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.CanAfford(context.Background(), "user-1", 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreditLedger_ConcurrentRefundsCreditOnce(t *testing.T) {
	l := newTestLedger(t, 40)
	ctx := context.Background()
	_, _, err := l.ChargeIfUnbilled(ctx, "pipe-1", "user-1", "job-1", 15)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := l.RefundIfBilled(ctx, "pipe-1"); err != nil {
				t.Errorf("refund: %v", err)
			}
		}()
	}
	wg.Wait()

	txs, err := l.Transactions(ctx, "pipe-1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestCreditLedger_WelcomeCredits(t *testing.T) {
	l := newTestLedger(t, 0).WithWelcomeCredits(10)
	ctx := context.Background()

	require.NoError(t, l.EnsureAccount(ctx, "newcomer"))
	require.NoError(t, l.EnsureAccount(ctx, "newcomer"))
	balance, err := l.Balance(ctx, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	// existing accounts are never topped up
	require.NoError(t, l.EnsureAccount(ctx, "user-1"))
	balance, err = l.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

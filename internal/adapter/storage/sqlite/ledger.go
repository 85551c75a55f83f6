package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/google/uuid"
)

const txColumns = `id, user_ref, pipeline_id, job_ref, amount, kind, idempotency_key, created_at`

type Ledger struct {
	store *Store
}

func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Charge(ctx context.Context, charge domain.CreditTransaction) (*domain.CreditTransaction, bool, error) {
	var (
		result  *domain.CreditTransaction
		created bool
	)
	err := l.store.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := txByKey(ctx, tx, charge.IdempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		balance, err := balanceOf(ctx, tx, charge.UserRef)
		if err != nil {
			return err
		}
		if balance+charge.Amount < 0 {
			return fmt.Errorf("%w: balance %d, cost %d", domain.ErrInsufficientCredits, balance, -charge.Amount)
		}

		charge.Kind = domain.TransactionCharge
		if err := insertTx(ctx, tx, &charge); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, charge.UserRef, charge.Amount); err != nil {
			return err
		}
		result = &charge
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (l *Ledger) Refund(ctx context.Context, chargeKey string, refundKey func(chargeID string) string) (*domain.CreditTransaction, bool, error) {
	var (
		result  *domain.CreditTransaction
		created bool
	)
	err := l.store.withTx(ctx, func(tx *sql.Tx) error {
		charge, err := txByKey(ctx, tx, chargeKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}

		key := refundKey(charge.ID)
		existing, err := txByKey(ctx, tx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		refund := domain.CreditTransaction{
			UserRef:        charge.UserRef,
			PipelineID:     charge.PipelineID,
			JobRef:         charge.JobRef,
			Amount:         -charge.Amount,
			Kind:           domain.TransactionRefund,
			IdempotencyKey: key,
		}
		if err := insertTx(ctx, tx, &refund); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, refund.UserRef, refund.Amount); err != nil {
			return err
		}
		result = &refund
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (l *Ledger) Balance(ctx context.Context, userRef string) (int64, error) {
	var balance int64
	err := l.store.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE user_ref = ?`, userRef).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (l *Ledger) Deposit(ctx context.Context, userRef string, amount int64) error {
	return l.store.withTx(ctx, func(tx *sql.Tx) error {
		return adjustBalance(ctx, tx, userRef, amount)
	})
}

func (l *Ledger) OpenAccount(ctx context.Context, userRef string, initial int64) (bool, error) {
	res, err := l.store.db.ExecContext(ctx,
		`INSERT INTO credit_balances (user_ref, balance) VALUES (?, ?) ON CONFLICT (user_ref) DO NOTHING`,
		userRef, initial)
	if err != nil {
		return false, fmt.Errorf("open account for %s: %w", userRef, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Ledger) Transactions(ctx context.Context, pipelineID string) ([]domain.CreditTransaction, error) {
	rows, err := l.store.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE pipeline_id = ? ORDER BY created_at, rowid`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var result []domain.CreditTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func txByKey(ctx context.Context, tx *sql.Tx, key string) (*domain.CreditTransaction, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+txColumns+` FROM credit_transactions WHERE idempotency_key = ?`, key)
	t, err := scanTx(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func insertTx(ctx context.Context, tx *sql.Tx, t *domain.CreditTransaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserRef, t.PipelineID, t.JobRef, t.Amount, string(t.Kind), t.IdempotencyKey, toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

func balanceOf(ctx context.Context, tx *sql.Tx, userRef string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_balances WHERE user_ref = ?`, userRef).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func adjustBalance(ctx context.Context, tx *sql.Tx, userRef string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (user_ref, balance) VALUES (?, ?)
		ON CONFLICT (user_ref) DO UPDATE SET balance = balance + excluded.balance`,
		userRef, delta)
	if err != nil {
		return fmt.Errorf("adjust balance for %s: %w", userRef, err)
	}
	return nil
}

func scanTx(row rowScanner) (*domain.CreditTransaction, error) {
	var (
		t       domain.CreditTransaction
		kind    string
		created int64
	)
	if err := row.Scan(&t.ID, &t.UserRef, &t.PipelineID, &t.JobRef, &t.Amount, &kind, &t.IdempotencyKey, &created); err != nil {
		return nil, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

var _ port.LedgerStore = (*Ledger)(nil)

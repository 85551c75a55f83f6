package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
)

const pipelineColumns = `id, owner_ref, user_ref, kind, priority, input_ref, stages, output,
	credit_cost, max_attempts, status, outcome, reason, result_ref, diagnostics_ref,
	deadline_at, created_at, updated_at`

type PipelineStore struct {
	store *Store
}

func NewPipelineStore(store *Store) *PipelineStore {
	return &PipelineStore{store: store}
}

func (s *PipelineStore) Create(ctx context.Context, p *domain.PipelineRequest) error {
	stages, err := json.Marshal(p.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	output, err := json.Marshal(p.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerRef, p.UserRef, string(p.Kind), string(p.Priority), p.InputRef,
		string(stages), string(output), p.CreditCost, p.MaxAttempts,
		string(p.Status), string(p.Outcome), p.Reason, p.ResultRef, p.DiagnosticsRef,
		toMillis(p.DeadlineAt), toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

func (s *PipelineStore) Get(ctx context.Context, id string) (*domain.PipelineRequest, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PipelineStore) Finish(ctx context.Context, p *domain.PipelineRequest) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE pipelines
		SET status = ?, outcome = ?, reason = ?, result_ref = ?, diagnostics_ref = ?, updated_at = ?
		WHERE id = ? AND status = 'in_progress'`,
		string(p.Status), string(p.Outcome), p.Reason, p.ResultRef, p.DiagnosticsRef, toMillis(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("finish pipeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, p.ID); err != nil {
		return err
	}
	return domain.ErrPipelineClosed
}

func (s *PipelineStore) ListExpired(ctx context.Context, now time.Time) ([]*domain.PipelineRequest, error) {
	return s.list(ctx, `status = 'in_progress' AND deadline_at < ?`, toMillis(now))
}

func (s *PipelineStore) ListFinishedBefore(ctx context.Context, before time.Time) ([]*domain.PipelineRequest, error) {
	return s.list(ctx, `status != 'in_progress' AND updated_at < ?`, toMillis(before))
}

func (s *PipelineStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	return err
}

func (s *PipelineStore) list(ctx context.Context, where string, args ...any) ([]*domain.PipelineRequest, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var result []*domain.PipelineRequest
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPipeline(row rowScanner) (*domain.PipelineRequest, error) {
	var (
		p                               domain.PipelineRequest
		kind, priority, status, outcome string
		stages, output                  string
		deadline, created, updated      int64
	)
	err := row.Scan(
		&p.ID, &p.OwnerRef, &p.UserRef, &kind, &priority, &p.InputRef, &stages, &output,
		&p.CreditCost, &p.MaxAttempts, &status, &outcome, &p.Reason, &p.ResultRef, &p.DiagnosticsRef,
		&deadline, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stages), &p.Stages); err != nil {
		return nil, fmt.Errorf("decode stages for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(output), &p.Output); err != nil {
		return nil, fmt.Errorf("decode output for %s: %w", p.ID, err)
	}
	p.Kind = domain.PipelineKind(kind)
	p.Priority = domain.Priority(priority)
	p.Status = domain.PipelineStatus(status)
	p.Outcome = domain.Outcome(outcome)
	p.DeadlineAt = fromMillis(deadline)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

var _ port.PipelineStore = (*PipelineStore)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
)

const jobColumns = `id, pipeline_id, stage_index, kind, owner_ref, priority, status,
	attempt_count, max_attempts, dispatch_count, error_class, error_message, error_detail,
	progress, assigned_resource_id, last_resource_id, input_ref, params, result_ref,
	available_at, created_at, updated_at`

type JobQueue struct {
	store *Store
	now   func() time.Time
}

func NewJobQueue(store *Store) *JobQueue {
	return &JobQueue{
		store: store,
		now:   time.Now,
	}
}

// WithClock replaces the clock used for updated_at and event timestamps.
func (q *JobQueue) WithClock(now func() time.Time) *JobQueue {
	q.now = now
	return q
}

func (q *JobQueue) Create(ctx context.Context, job *domain.Job) (bool, error) {
	params := string(job.Params)
	if params == "" {
		params = "{}"
	}
	res, err := q.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.PipelineID, job.StageIndex, string(job.Kind), job.OwnerRef, string(job.Priority),
		string(job.Status), job.AttemptCount, job.MaxAttempts, job.DispatchCount, "", "", "", 0,
		job.LastResourceID, job.InputRef, params, job.ResultRef,
		toMillis(job.AvailableAt), toMillis(job.CreatedAt), toMillis(job.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (q *JobQueue) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := q.store.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (q *JobQueue) ListByPipeline(ctx context.Context, pipelineID string) ([]*domain.Job, error) {
	rows, err := q.store.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE pipeline_id = ? ORDER BY stage_index`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListPending returns up to limit dispatchable jobs of one tier in FIFO
// order.
func (q *JobQueue) ListPending(ctx context.Context, priority domain.Priority, now time.Time, limit int) ([]*domain.Job, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := q.store.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND priority = ? AND available_at <= ?
		ORDER BY available_at, created_at, rowid
		LIMIT ?`, string(priority), toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (q *JobQueue) Claim(ctx context.Context, jobID, resourceID string) (*domain.Job, error) {
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		from, err := currentStatus(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if from != domain.JobStatusPending {
			return domain.ErrAlreadyClaimed
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'running', assigned_resource_id = ?, dispatch_count = dispatch_count + 1,
				progress = 0, updated_at = ?
			WHERE id = ? AND status = 'pending'`,
			resourceID, toMillis(q.now()), jobID)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return domain.ErrAlreadyClaimed
		}
		return q.recordEvent(ctx, tx, jobID, from, domain.JobStatusRunning, "claimed by "+resourceID)
	})
	if err != nil {
		return nil, err
	}
	return q.Get(ctx, jobID)
}

func (q *JobQueue) Complete(ctx context.Context, jobID, resultRef string) error {
	return q.transition(ctx, jobID, domain.JobStatusSucceeded, "completed", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'succeeded', result_ref = ?, error_class = '', error_message = '', error_detail = '',
				progress = 100,
				last_resource_id = COALESCE(assigned_resource_id, last_resource_id),
				assigned_resource_id = NULL, updated_at = ?
			WHERE id = ?`,
			resultRef, toMillis(q.now()), jobID)
		return err
	})
}

// SetProgress records the completion percentage of a running job. Progress
// only moves forward within one dispatch.
func (q *JobQueue) SetProgress(ctx context.Context, jobID string, percent int) (bool, error) {
	percent = max(0, min(percent, 100))
	res, err := q.store.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status = 'running' AND progress < ?`,
		percent, toMillis(q.now()), jobID, percent)
	if err != nil {
		return false, fmt.Errorf("set progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (q *JobQueue) Retry(ctx context.Context, jobID string, jobErr domain.JobError, attemptCount int, availableAt time.Time) error {
	return q.transition(ctx, jobID, domain.JobStatusRetryableFailure, string(jobErr.Class), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'retryable_failure', error_class = ?, error_message = ?, error_detail = ?,
				attempt_count = ?, available_at = ?, last_resource_id = COALESCE(assigned_resource_id, last_resource_id),
				assigned_resource_id = NULL, updated_at = ?
			WHERE id = ?`,
			string(jobErr.Class), jobErr.Message, jobErr.Detail, attemptCount, toMillis(availableAt), toMillis(q.now()), jobID)
		return err
	})
}

func (q *JobQueue) Fail(ctx context.Context, jobID string, jobErr domain.JobError, attemptCount int) error {
	return q.transition(ctx, jobID, domain.JobStatusFailed, jobErr.Message, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed', error_class = ?, error_message = ?, error_detail = ?, attempt_count = ?,
				last_resource_id = COALESCE(assigned_resource_id, last_resource_id),
				assigned_resource_id = NULL, updated_at = ?
			WHERE id = ?`,
			string(jobErr.Class), jobErr.Message, jobErr.Detail, attemptCount, toMillis(q.now()), jobID)
		return err
	})
}

// CancelPending fails every job of the pipeline that has not started. Jobs
// waiting for a retry pass through pending first.
func (q *JobQueue) CancelPending(ctx context.Context, pipelineID, reason string) (int, error) {
	var count int
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		waiting, err := idsWithStatus(ctx, tx, `pipeline_id = ? AND status IN ('pending', 'retryable_failure')`, pipelineID)
		if err != nil {
			return err
		}
		now := toMillis(q.now())
		for _, w := range waiting {
			if w.status == domain.JobStatusRetryableFailure {
				if err := q.recordEvent(ctx, tx, w.id, w.status, domain.JobStatusPending, reason); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'failed', error_class = ?, error_message = ?, assigned_resource_id = NULL, updated_at = ?
				WHERE id = ?`,
				string(domain.FailurePermanent), reason, now, w.id); err != nil {
				return fmt.Errorf("cancel job %s: %w", w.id, err)
			}
			if err := q.recordEvent(ctx, tx, w.id, domain.JobStatusPending, domain.JobStatusFailed, reason); err != nil {
				return err
			}
		}
		count = len(waiting)
		return nil
	})
	return count, err
}

func (q *JobQueue) PromoteDueRetries(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		due, err := idsWithStatus(ctx, tx, `status = 'retryable_failure' AND available_at <= ?`, toMillis(now))
		if err != nil {
			return err
		}
		for _, d := range due {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = 'pending', updated_at = ? WHERE id = ?`,
				toMillis(q.now()), d.id); err != nil {
				return fmt.Errorf("promote job %s: %w", d.id, err)
			}
			if err := q.recordEvent(ctx, tx, d.id, d.status, domain.JobStatusPending, "retry due"); err != nil {
				return err
			}
		}
		count = len(due)
		return nil
	})
	return count, err
}

// ResetStalled returns jobs left running by a previous process to the retry
// queue without charging an attempt.
func (q *JobQueue) ResetStalled(ctx context.Context) (int, error) {
	var count int
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		stalled, err := idsWithStatus(ctx, tx, `status = 'running'`)
		if err != nil {
			return err
		}
		now := toMillis(q.now())
		for _, s := range stalled {
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'retryable_failure', error_class = ?, error_message = 'interrupted by restart',
					available_at = ?, last_resource_id = COALESCE(assigned_resource_id, last_resource_id),
					assigned_resource_id = NULL, updated_at = ?
				WHERE id = ?`,
				string(domain.FailureTransientInfra), now, now, s.id); err != nil {
				return fmt.Errorf("reset job %s: %w", s.id, err)
			}
			if err := q.recordEvent(ctx, tx, s.id, s.status, domain.JobStatusRetryableFailure, "interrupted by restart"); err != nil {
				return err
			}
		}
		count = len(stalled)
		return nil
	})
	return count, err
}

func (q *JobQueue) Events(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	rows, err := q.store.db.QueryContext(ctx, `
		SELECT id, job_id, from_status, to_status, reason, at
		FROM job_events WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []domain.JobEvent
	for rows.Next() {
		var (
			ev       domain.JobEvent
			from, to string
			at       int64
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &from, &to, &ev.Reason, &at); err != nil {
			return nil, err
		}
		ev.From = domain.JobStatus(from)
		ev.To = domain.JobStatus(to)
		ev.At = fromMillis(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// transition checks the state machine, applies update and logs the change in
// one transaction.
func (q *JobQueue) transition(ctx context.Context, jobID string, to domain.JobStatus, reason string, update func(tx *sql.Tx) error) error {
	return q.store.withTx(ctx, func(tx *sql.Tx) error {
		from, err := currentStatus(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
		}
		if err := update(tx); err != nil {
			return fmt.Errorf("update job %s: %w", jobID, err)
		}
		return q.recordEvent(ctx, tx, jobID, from, to, reason)
	})
}

func (q *JobQueue) recordEvent(ctx context.Context, tx *sql.Tx, jobID string, from, to domain.JobStatus, reason string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, from_status, to_status, reason, at) VALUES (?, ?, ?, ?, ?)`,
		jobID, string(from), string(to), reason, toMillis(q.now()))
	if err != nil {
		return fmt.Errorf("record job event: %w", err)
	}
	return nil
}

func currentStatus(ctx context.Context, tx *sql.Tx, jobID string) (domain.JobStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return domain.JobStatus(status), nil
}

type jobRef struct {
	id     string
	status domain.JobStatus
}

func idsWithStatus(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]jobRef, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, status FROM jobs WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var refs []jobRef
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		refs = append(refs, jobRef{id: id, status: domain.JobStatus(status)})
	}
	return refs, rows.Err()
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                           domain.Job
		kind, priority, status        string
		errClass, errMsg, errDetail   string
		params                        string
		assigned                      sql.NullString
		availableAt, created, updated int64
	)
	err := row.Scan(
		&job.ID, &job.PipelineID, &job.StageIndex, &kind, &job.OwnerRef, &priority, &status,
		&job.AttemptCount, &job.MaxAttempts, &job.DispatchCount, &errClass, &errMsg, &errDetail,
		&job.Progress, &assigned, &job.LastResourceID, &job.InputRef, &params, &job.ResultRef,
		&availableAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Priority = domain.Priority(priority)
	job.Status = domain.JobStatus(status)
	job.AssignedResourceID = assigned.String
	job.Params = []byte(strings.TrimSpace(params))
	if errClass != "" || errMsg != "" {
		job.LastError = &domain.JobError{Class: domain.FailureClass(errClass), Message: errMsg, Detail: errDetail}
	}
	job.AvailableAt = fromMillis(availableAt)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	return &job, nil
}

var _ port.JobStore = (*JobQueue)(nil)

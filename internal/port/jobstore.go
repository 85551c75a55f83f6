package port

import (
	"context"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
)

type JobStore interface {
	// Create inserts a job unless its (pipeline, stage) slot is taken.
	Create(ctx context.Context, job *domain.Job) (bool, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	ListByPipeline(ctx context.Context, pipelineID string) ([]*domain.Job, error)
	// ListPending returns up to limit dispatchable jobs of a tier, oldest
	// first.
	ListPending(ctx context.Context, priority domain.Priority, now time.Time, limit int) ([]*domain.Job, error)
	Claim(ctx context.Context, jobID, resourceID string) (*domain.Job, error)
	Complete(ctx context.Context, jobID, resultRef string) error
	// SetProgress raises the progress of a running job; false when the job
	// is not running or already further along.
	SetProgress(ctx context.Context, jobID string, percent int) (bool, error)
	Retry(ctx context.Context, jobID string, jobErr domain.JobError, attemptCount int, availableAt time.Time) error
	Fail(ctx context.Context, jobID string, jobErr domain.JobError, attemptCount int) error
	CancelPending(ctx context.Context, pipelineID, reason string) (int, error)
	PromoteDueRetries(ctx context.Context, now time.Time) (int, error)
	ResetStalled(ctx context.Context) (int, error)
	Events(ctx context.Context, jobID string) ([]domain.JobEvent, error)
}

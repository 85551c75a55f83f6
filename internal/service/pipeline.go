package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/port"
)

type SubmitRequest struct {
	OwnerRef string
	UserRef  string
	Kind     domain.PipelineKind
	Priority domain.Priority
	InputRef string
	Stages   []domain.StageSpec
	Output   domain.OutputSpec
	// CreditCost overrides the price computed from the output spec.
	CreditCost int64
}

// PipelineView is what callers may see of a pipeline. Attempt counts and
// resource assignments stay internal.
type PipelineView struct {
	ID        string                `json:"id"`
	Kind      domain.PipelineKind   `json:"kind"`
	Status    domain.PipelineStatus `json:"status"`
	Outcome   domain.Outcome        `json:"outcome,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	ResultRef string                `json:"result_ref,omitempty"`
	Progress  int                   `json:"progress"`
	Jobs      []JobView             `json:"jobs"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type JobView struct {
	Stage    int              `json:"stage"`
	Kind     domain.JobKind   `json:"kind"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress,omitempty"`
}

type PipelineService struct {
	pipelines   port.PipelineStore
	jobs        port.JobStore
	artifacts   port.ArtifactStore
	scheduler   *Scheduler
	assembler   *Assembler
	ledger      *CreditLedger
	deadline    time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewPipelineService(
	pipelines port.PipelineStore,
	jobs port.JobStore,
	artifacts port.ArtifactStore,
	scheduler *Scheduler,
	assembler *Assembler,
	ledger *CreditLedger,
	deadline time.Duration,
	maxAttempts int,
) *PipelineService {
	return &PipelineService{
		pipelines:   pipelines,
		jobs:        jobs,
		artifacts:   artifacts,
		scheduler:   scheduler,
		assembler:   assembler,
		ledger:      ledger,
		deadline:    deadline,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (s *PipelineService) Submit(ctx context.Context, req SubmitRequest) (*domain.PipelineRequest, error) {
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityDefault
		if req.Kind == domain.PipelineKindRenderExport {
			priority = domain.PriorityHigh
		}
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.PipelineKindCustom
	}

	p := domain.NewPipelineRequest(req.OwnerRef, req.UserRef, kind, priority, req.Stages, s.now(), s.deadline)
	p.InputRef = req.InputRef
	p.Output = req.Output
	p.MaxAttempts = s.maxAttempts
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if req.UserRef == "" {
		return nil, fmt.Errorf("%w: missing user", domain.ErrInvalidPipeline)
	}

	switch {
	case req.CreditCost < 0:
		return nil, fmt.Errorf("%w: negative credit cost", domain.ErrInvalidPipeline)
	case req.CreditCost > 0:
		p.CreditCost = req.CreditCost
	case p.HasRender():
		p.CreditCost = domain.CreditCost(p.Output.DurationSeconds, p.Output.Quality)
	}

	if err := s.ledger.EnsureAccount(ctx, p.UserRef); err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	ok, err := s.ledger.CanAfford(ctx, p.UserRef, p.CreditCost)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: pipeline costs %d", domain.ErrInsufficientCredits, p.CreditCost)
	}

	if err := s.pipelines.Create(ctx, p); err != nil {
		logger.Error.Printf("failed to save pipeline %s: %v", p.ID, err)
		return nil, fmt.Errorf("failed to save pipeline: %w", err)
	}
	metrics.PipelinesSubmittedTotal.WithLabelValues(string(p.Kind)).Inc()
	logger.Info.Printf("pipeline submitted: id=%s, kind=%s, stages=%d, cost=%d", p.ID, p.Kind, len(p.Stages), p.CreditCost)

	if err := s.scheduler.Advance(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("enqueue first stages: %w", err)
	}
	return p, nil
}

func (s *PipelineService) Get(ctx context.Context, id string) (*domain.PipelineRequest, error) {
	return s.pipelines.Get(ctx, id)
}

func (s *PipelineService) Status(ctx context.Context, id string) (*PipelineView, error) {
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &PipelineView{
		ID:        p.ID,
		Kind:      p.Kind,
		Status:    p.Status,
		Outcome:   p.Outcome,
		Progress:  p.Progress(jobs),
		Jobs:      make([]JobView, 0, len(jobs)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	switch p.Status {
	case domain.PipelineStatusFailed:
		view.Reason = p.Reason
	case domain.PipelineStatusSucceeded:
		view.ResultRef = p.ResultRef
		view.Progress = 100
	}
	for _, j := range jobs {
		jv := JobView{Stage: j.StageIndex, Kind: j.Kind, Status: j.Status}
		switch j.Status {
		case domain.JobStatusRunning:
			jv.Progress = j.Progress
		case domain.JobStatusSucceeded:
			jv.Progress = 100
		}
		view.Jobs = append(view.Jobs, jv)
	}
	return view, nil
}

// Cancel fails every job that has not started and closes the pipeline with a
// refund. Running jobs finish on their own and their results are dropped.
func (s *PipelineService) Cancel(ctx context.Context, id string) (*domain.PipelineRequest, error) {
	p, err := s.pipelines.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PipelineStatusInProgress {
		return p, domain.ErrPipelineClosed
	}

	n, err := s.jobs.CancelPending(ctx, id, domain.ReasonCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel jobs: %w", err)
	}
	p, err = s.assembler.Abort(ctx, id, domain.OutcomeCancelled, domain.ReasonCancelled)
	if err != nil {
		return p, err
	}
	logger.Info.Printf("pipeline %s cancelled (%d jobs never ran)", id, n)
	return p, nil
}

// Cleanup removes finished pipelines older than retention together with
// their artifacts.
func (s *PipelineService) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	old, err := s.pipelines.ListFinishedBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}

	var removed int
	var errs []error
	for _, p := range old {
		jobs, err := s.jobs.ListByPipeline(ctx, p.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		if err := s.artifacts.Remove(p.ID, ids); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.pipelines.Delete(ctx, p.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info.Printf("cleaned up %d finished pipelines", removed)
	}
	return removed, errors.Join(errs...)
}

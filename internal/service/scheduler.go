package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/backoff"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/port"
)

type SchedulerConfig struct {
	// Workers per priority lane.
	Workers             map[domain.Priority]int
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	// RetryBackoff spaces content failure retries by attempt count.
	RetryBackoff backoff.Backoff
}

// Scheduler moves jobs from pending to a terminal status. Each priority lane
// has its own workers; the job store's claim is the only point where they
// synchronize.
type Scheduler struct {
	jobs      port.JobStore
	pipelines port.PipelineStore
	health    *HealthTracker
	executor  *StageExecutor
	ledger    *CreditLedger
	assembler *Assembler
	artifacts port.ArtifactStore
	events    EventPublisher
	cfg       SchedulerConfig
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewScheduler(
	jobs port.JobStore,
	pipelines port.PipelineStore,
	health *HealthTracker,
	executor *StageExecutor,
	ledger *CreditLedger,
	assembler *Assembler,
	artifacts port.ArtifactStore,
	events EventPublisher,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Second
	}
	s := &Scheduler{
		jobs:      jobs,
		pipelines: pipelines,
		health:    health,
		executor:  executor,
		ledger:    ledger,
		assembler: assembler,
		artifacts: artifacts,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
	}
	executor.OnProgress(s.recordProgress)
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	s.assembler.now = now
	return s
}

func (s *Scheduler) Start(ctx context.Context) {
	// Reset any jobs left running by a previous process
	if n, err := s.jobs.ResetStalled(ctx); err != nil {
		logger.Error.Printf("failed to reset stalled jobs: %v", err)
	} else if n > 0 {
		logger.Warn.Printf("reset %d stalled jobs", n)
	}

	total := 0
	for _, priority := range domain.Priorities {
		for i := range s.cfg.Workers[priority] {
			s.wg.Add(1)
			go s.runWorker(ctx, priority, i)
			total++
		}
	}

	s.wg.Add(1)
	go s.runMaintenance(ctx)
	logger.Info.Printf("started %d workers", total)
}

// Wait blocks until every worker has returned after ctx was cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, priority domain.Priority, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			logger.Info.Printf("%s worker %d shutting down", priority, id)
			return
		default:
		}

		dispatched, err := s.DispatchOnce(ctx, priority)
		if err != nil {
			logger.Error.Printf("%s worker %d: dispatch failed: %v", priority, id, err)
			sleepCtx(ctx, 2*time.Second)
			continue
		}
		if !dispatched {
			// Nothing runnable, wait before polling again
			sleepCtx(ctx, s.cfg.PollInterval)
		}
	}
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logger.Error.Printf("maintenance tick failed: %v", err)
			}
		}
	}
}

// Tick promotes due retries, force-fails pipelines past their deadline and
// probes blacklisted resources.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	if _, err := s.jobs.PromoteDueRetries(ctx, now); err != nil {
		return fmt.Errorf("promote retries: %w", err)
	}

	expired, err := s.pipelines.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired pipelines: %w", err)
	}
	for _, p := range expired {
		if _, err := s.jobs.CancelPending(ctx, p.ID, domain.ReasonDeadlineExceeded); err != nil {
			return fmt.Errorf("cancel jobs of %s: %w", p.ID, err)
		}
		_, err := s.assembler.Abort(ctx, p.ID, domain.OutcomeDeadlineExceeded, "pipeline deadline exceeded")
		if err != nil && !errors.Is(err, domain.ErrPipelineClosed) {
			return err
		}
		logger.Warn.Printf("pipeline %s exceeded its deadline", p.ID)
	}

	s.health.ProbeBlacklisted(ctx)
	return nil
}

// dispatchBatch bounds how far past the head of a lane one dispatch pass
// looks for a job that fits a free resource.
const dispatchBatch = 16

// DispatchOnce runs the oldest dispatchable job of a lane that can be placed
// on a resource. Jobs that fit nowhere stay pending without blocking younger
// jobs behind them. It reports false when there was nothing it could run.
func (s *Scheduler) DispatchOnce(ctx context.Context, priority domain.Priority) (bool, error) {
	pending, err := s.jobs.ListPending(ctx, priority, s.now(), dispatchBatch)
	if err != nil {
		return false, fmt.Errorf("list pending: %w", err)
	}

	for _, job := range pending {
		memoryMB := s.executor.MemoryMB(job.Kind)
		res, ok := s.pickResource(ctx, job, memoryMB)
		if !ok {
			logger.Debug.Printf("job %s (kind=%s) does not fit any resource, skipping", job.ID, job.Kind)
			continue
		}

		claimed, err := s.jobs.Claim(ctx, job.ID, res.ID)
		if err != nil {
			s.health.Release(ctx, res.ID, memoryMB)
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				continue
			}
			return false, fmt.Errorf("claim job %s: %w", job.ID, err)
		}

		s.dispatch(ctx, claimed, res, memoryMB)
		return true, nil
	}
	return false, nil
}

func (s *Scheduler) dispatch(ctx context.Context, job *domain.Job, res domain.Resource, memoryMB int) {
	defer s.health.Release(context.WithoutCancel(ctx), res.ID, memoryMB)

	metrics.JobsDispatchedTotal.WithLabelValues(string(job.Priority), string(job.Kind)).Inc()
	logger.Info.Printf("dispatching job %s (kind=%s, pipeline=%s, stage=%d) on %s",
		job.ID, job.Kind, job.PipelineID, job.StageIndex, res.ID)
	s.publishJob(job, domain.JobStatusRunning, "")

	s.run(ctx, job, res)
}

// pickResource leases the first eligible resource, preferring one other than
// the job's previous resource.
func (s *Scheduler) pickResource(ctx context.Context, job *domain.Job, memoryMB int) (domain.Resource, bool) {
	eligible := s.health.ListEligible(ctx, memoryMB)
	if len(eligible) > 1 && job.LastResourceID != "" {
		for i, r := range eligible {
			if r.ID != job.LastResourceID {
				eligible[0], eligible[i] = eligible[i], eligible[0]
				break
			}
		}
	}
	for _, r := range eligible {
		if err := s.health.Acquire(ctx, r.ID, memoryMB); err == nil {
			return r, true
		}
	}
	return domain.Resource{}, false
}

func (s *Scheduler) run(ctx context.Context, job *domain.Job, res domain.Resource) {
	// Settlement must land even when shutdown cancels the execution.
	bg := context.WithoutCancel(ctx)

	p, err := s.pipelines.Get(bg, job.PipelineID)
	if err != nil {
		s.retry(bg, job, domain.InfraFailure("load pipeline", err))
		return
	}
	if p.Status != domain.PipelineStatusInProgress {
		s.discard(bg, job, p)
		return
	}

	if s.executor.Billable(job.Kind) && p.CreditCost > 0 {
		_, _, err := s.ledger.ChargeIfUnbilled(bg, p.ID, p.UserRef, job.ID, p.CreditCost)
		switch {
		case errors.Is(err, domain.ErrInsufficientCredits):
			metrics.JobResultsTotal.WithLabelValues(string(job.Kind), string(domain.FailurePermanent)).Inc()
			s.fail(bg, job, domain.PermanentFailure("insufficient credits", err).WithPublic("insufficient credits").JobError(), job.AttemptCount)
			return
		case err != nil:
			logger.Error.Printf("ledger unavailable for job %s: %v", job.ID, err)
			s.retry(bg, job, domain.InfraFailure("ledger unavailable", err))
			return
		}
		// A cancel may have refunded between the status check and the charge.
		if current, err := s.pipelines.Get(bg, p.ID); err == nil && current.Status != domain.PipelineStatusInProgress {
			if _, _, err := s.ledger.RefundIfBilled(bg, p.ID); err != nil {
				logger.Error.Printf("refund after late charge failed for %s: %v", p.ID, err)
			}
			s.discard(bg, job, current)
			return
		}
	}

	result, execErr := s.executor.Execute(ctx, job, res)
	s.settle(bg, job, res, p, result, execErr)
}

// settle applies the outcome of one execution.
func (s *Scheduler) settle(ctx context.Context, job *domain.Job, res domain.Resource, p *domain.PipelineRequest, result *StageResult, execErr error) {
	if execErr == nil {
		ref, err := s.artifacts.Promote(job.ID, result.Attempt)
		if err != nil {
			logger.Error.Printf("promote artifact of job %s: %v", job.ID, err)
			s.retry(ctx, job, domain.InfraFailure("promote artifact", err))
			return
		}
		if err := s.complete(ctx, job.ID, ref); err != nil {
			logger.Error.Printf("complete job %s: %v", job.ID, err)
			s.retry(ctx, job, domain.InfraFailure("record completion", err))
			return
		}
		s.health.RecordSuccess(ctx, res.ID)
		metrics.JobResultsTotal.WithLabelValues(string(job.Kind), "succeeded").Inc()
		logger.Info.Printf("job %s succeeded", job.ID)
		s.publishJob(job, domain.JobStatusSucceeded, "")
		s.advanceLogged(ctx, job.PipelineID)
		return
	}

	failure := domain.Classify(execErr)
	metrics.JobResultsTotal.WithLabelValues(string(job.Kind), string(failure.Class)).Inc()
	s.health.RecordFailure(ctx, res.ID, failure.Class)
	jobErr := failure.JobError()
	logger.Warn.Printf("job %s failed on %s: %s", job.ID, res.ID, logger.SanitizeForLog(jobErr.Detail))

	switch failure.Class {
	case domain.FailureTransientInfra:
		if p.Expired(s.now()) {
			s.fail(ctx, job, domain.JobError{
				Class:   failure.Class,
				Message: domain.ReasonDeadlineExceeded,
				Detail:  jobErr.Detail,
			}, job.AttemptCount)
			return
		}
		// Infrastructure faults do not consume the attempt budget.
		s.retry(ctx, job, failure)
	case domain.FailureTransientContent:
		attempts := job.AttemptCount + 1
		if attempts >= job.MaxAttempts {
			s.fail(ctx, job, jobErr, attempts)
			return
		}
		availableAt := s.now().Add(s.cfg.RetryBackoff.Duration(attempts))
		if err := s.jobs.Retry(ctx, job.ID, jobErr, attempts, availableAt); err != nil {
			logger.Error.Printf("retry job %s: %v", job.ID, err)
			return
		}
		s.publishJob(job, domain.JobStatusRetryableFailure, jobErr.Message)
	default:
		s.fail(ctx, job, jobErr, job.AttemptCount)
	}
}

// completeAttempts bounds how often a finished job's completion is written
// before the job is requeued instead.
const completeAttempts = 3

func (s *Scheduler) complete(ctx context.Context, jobID, ref string) error {
	var err error
	for attempt := range completeAttempts {
		if attempt > 0 {
			sleepCtx(ctx, time.Duration(attempt)*10*time.Millisecond)
		}
		if err = s.jobs.Complete(ctx, jobID, ref); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		logger.Warn.Printf("complete job %s (attempt %d): %v", jobID, attempt+1, err)
	}
	return err
}

// retry requeues a job immediately without charging an attempt.
func (s *Scheduler) retry(ctx context.Context, job *domain.Job, failure *domain.StageFailure) {
	jobErr := failure.JobError()
	if err := s.jobs.Retry(ctx, job.ID, jobErr, job.AttemptCount, s.now()); err != nil {
		logger.Error.Printf("retry job %s: %v", job.ID, err)
		return
	}
	s.publishJob(job, domain.JobStatusRetryableFailure, jobErr.Message)
}

func (s *Scheduler) fail(ctx context.Context, job *domain.Job, jobErr domain.JobError, attempts int) {
	if err := s.jobs.Fail(ctx, job.ID, jobErr, attempts); err != nil {
		logger.Error.Printf("fail job %s: %v", job.ID, err)
		return
	}
	s.publishJob(job, domain.JobStatusFailed, jobErr.Message)
	s.advanceLogged(ctx, job.PipelineID)
}

// discard fails a job claimed after its pipeline was closed.
func (s *Scheduler) discard(ctx context.Context, job *domain.Job, p *domain.PipelineRequest) {
	reason := domain.ReasonCancelled
	if p.Outcome == domain.OutcomeDeadlineExceeded {
		reason = domain.ReasonDeadlineExceeded
	}
	if err := s.jobs.Fail(ctx, job.ID, domain.JobError{Class: domain.FailurePermanent, Message: reason}, job.AttemptCount); err != nil {
		logger.Error.Printf("discard job %s: %v", job.ID, err)
	}
}

// Advance creates the jobs of every stage whose dependencies succeeded and
// hands the pipeline to the assembler once nothing is left to run.
func (s *Scheduler) Advance(ctx context.Context, pipelineID string) error {
	p, err := s.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return err
	}
	if p.Status != domain.PipelineStatusInProgress {
		return nil
	}

	jobs, err := s.jobs.ListByPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if p.Aggregate(jobs) == domain.PipelineStatusFailed {
		if _, err := s.jobs.CancelPending(ctx, pipelineID, domain.ReasonUpstreamFailed); err != nil {
			return fmt.Errorf("cancel siblings: %w", err)
		}
	} else if ready := p.ReadyStages(jobs); len(ready) > 0 {
		now := s.now()
		for _, idx := range ready {
			st := p.Stages[idx]
			job := domain.NewJob(p.ID, idx, st.Kind, p.OwnerRef, p.Priority, p.MaxAttempts, now)
			job.InputRef = p.StageInput(idx, jobs)
			if len(st.Params) > 0 {
				job.Params = st.Params
			}
			created, err := s.jobs.Create(ctx, job)
			if err != nil {
				return fmt.Errorf("create stage %d: %w", idx, err)
			}
			if created {
				logger.Debug.Printf("pipeline %s: stage %d (%s) ready", p.ID, idx, st.Kind)
				s.publishJob(job, domain.JobStatusPending, "")
			}
		}
		return nil
	}

	jobs, err = s.jobs.ListByPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if domain.AllJobsTerminal(jobs) {
		_, err := s.assembler.Finalize(ctx, pipelineID)
		return err
	}
	return nil
}

func (s *Scheduler) advanceLogged(ctx context.Context, pipelineID string) {
	if err := s.Advance(ctx, pipelineID); err != nil {
		logger.Error.Printf("advance pipeline %s: %v", pipelineID, err)
	}
}

// recordProgress stores the progress a backend reported for a running job
// and tells subscribers when it moved.
func (s *Scheduler) recordProgress(job *domain.Job, percent int) {
	moved, err := s.jobs.SetProgress(context.Background(), job.ID, percent)
	if err != nil {
		logger.Warn.Printf("record progress of job %s: %v", job.ID, err)
		return
	}
	if !moved || s.events == nil {
		return
	}
	s.events.Publish(job.PipelineID, Event{
		Type:       "progress",
		PipelineID: job.PipelineID,
		Stage:      job.StageIndex,
		Kind:       string(job.Kind),
		Status:     string(domain.JobStatusRunning),
		Progress:   max(0, min(percent, 100)),
		At:         s.now(),
	})
}

func (s *Scheduler) publishJob(job *domain.Job, status domain.JobStatus, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(job.PipelineID, Event{
		Type:       "job",
		PipelineID: job.PipelineID,
		Stage:      job.StageIndex,
		Kind:       string(job.Kind),
		Status:     string(status),
		Message:    message,
		At:         s.now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/validation"
)

const maxReasonLength = 200

// Assembler closes pipelines. It is the only writer of terminal pipeline
// state and runs one finalization at a time.
type Assembler struct {
	mu        sync.Mutex
	pipelines port.PipelineStore
	jobs      port.JobStore
	artifacts port.ArtifactStore
	encoder   port.Encoder
	ledger    *CreditLedger
	events    EventPublisher
	now       func() time.Time
}

func NewAssembler(
	pipelines port.PipelineStore,
	jobs port.JobStore,
	artifacts port.ArtifactStore,
	encoder port.Encoder,
	ledger *CreditLedger,
	events EventPublisher,
) *Assembler {
	return &Assembler{
		pipelines: pipelines,
		jobs:      jobs,
		artifacts: artifacts,
		encoder:   encoder,
		ledger:    ledger,
		events:    events,
		now:       time.Now,
	}
}

// Finalize closes the pipeline once every created job is terminal and the
// aggregate status is decided. It returns the pipeline as stored afterwards;
// pipelines that are not ready or already closed are returned untouched.
func (a *Assembler) Finalize(ctx context.Context, pipelineID string) (*domain.PipelineRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PipelineStatusInProgress {
		return p, nil
	}

	jobs, err := a.jobs.ListByPipeline(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if !domain.AllJobsTerminal(jobs) {
		return p, nil
	}

	switch p.Aggregate(jobs) {
	case domain.PipelineStatusSucceeded:
		return a.assemble(ctx, p, jobs)
	case domain.PipelineStatusFailed:
		outcome, reason := domain.OutcomeStageFailed, "stage failed"
		if last := domain.LastFailedJob(jobs); last != nil && last.LastError != nil {
			reason = last.LastError.Message
			switch reason {
			case domain.ReasonCancelled:
				outcome = domain.OutcomeCancelled
			case domain.ReasonDeadlineExceeded:
				outcome = domain.OutcomeDeadlineExceeded
			}
		}
		return a.fail(ctx, p, jobs, outcome, reason)
	default:
		return p, nil
	}
}

// Abort force-fails an in-progress pipeline, for cancellation and expired
// deadlines. Jobs still running are left to finish; their results are
// ignored.
func (a *Assembler) Abort(ctx context.Context, pipelineID string, outcome domain.Outcome, reason string) (*domain.PipelineRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, err := a.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PipelineStatusInProgress {
		return p, domain.ErrPipelineClosed
	}
	jobs, err := a.jobs.ListByPipeline(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return a.fail(ctx, p, jobs, outcome, reason)
}

func (a *Assembler) assemble(ctx context.Context, p *domain.PipelineRequest, jobs []*domain.Job) (*domain.PipelineRequest, error) {
	if !p.HasRender() {
		var last *domain.Job
		for _, j := range jobs {
			if last == nil || j.StageIndex > last.StageIndex {
				last = j
			}
		}
		p.ResultRef = last.ResultRef
		return a.succeed(ctx, p)
	}

	renders := p.RenderJobs(jobs)
	if p.IsPreview() {
		p.ResultRef = renders[0].ResultRef
		logger.Info.Printf("pipeline %s rendered a preview frame", p.ID)
		return a.succeed(ctx, p)
	}
	inputs := make([]string, 0, len(renders))
	for _, j := range renders {
		inputs = append(inputs, j.ResultRef)
	}

	dir, err := a.artifacts.ExportDir(p.ID)
	if err != nil {
		return a.fail(ctx, p, jobs, domain.OutcomeAssemblyFailed, "export directory unavailable")
	}

	name := validation.SanitizeFilename(p.Output.Name, "export")
	out, err := a.encoder.Assemble(ctx, inputs, dir, name, p.Output)
	if err != nil {
		logger.Error.Printf("assembly failed for pipeline %s: %v", p.ID, err)
		return a.fail(ctx, p, jobs, domain.OutcomeAssemblyFailed, "assembly failed")
	}

	if p.Output.Format != domain.FormatPNGSequence {
		probe, err := a.encoder.Probe(ctx, out)
		if err != nil {
			logger.Error.Printf("probe failed for export %s: %v", out, err)
			return a.fail(ctx, p, jobs, domain.OutcomeAssemblyFailed, "export could not be verified")
		}
		w, h := probe.Dimensions()
		logger.Info.Printf("pipeline %s exported %dx%d@%.2ffps %s (%s, %s)",
			p.ID, w, h, probe.FrameRate(), p.Output.Format,
			domain.FormatDuration(probe.DurationSeconds()), domain.FormatSize(probe.SizeBytes()))
	}

	p.ResultRef = out
	return a.succeed(ctx, p)
}

func (a *Assembler) succeed(ctx context.Context, p *domain.PipelineRequest) (*domain.PipelineRequest, error) {
	p.Status = domain.PipelineStatusSucceeded
	p.Outcome = domain.OutcomeSucceeded
	p.Reason = ""
	return a.finish(ctx, p)
}

// fail records diagnostics, closes the pipeline and refunds it.
func (a *Assembler) fail(ctx context.Context, p *domain.PipelineRequest, jobs []*domain.Job, outcome domain.Outcome, reason string) (*domain.PipelineRequest, error) {
	if ref, err := a.artifacts.WriteDiagnostics(p.ID, jobs); err != nil {
		logger.Warn.Printf("failed to write diagnostics for pipeline %s: %v", p.ID, err)
	} else {
		p.DiagnosticsRef = ref
	}

	p.Status = domain.PipelineStatusFailed
	p.Outcome = outcome
	p.Reason = publicReason(reason)
	p.ResultRef = ""

	finished, err := a.finish(ctx, p)
	if err != nil {
		return nil, err
	}
	if finished.Status == domain.PipelineStatusFailed {
		if _, _, err := a.ledger.RefundIfBilled(ctx, p.ID); err != nil {
			return finished, err
		}
	}
	return finished, nil
}

func (a *Assembler) finish(ctx context.Context, p *domain.PipelineRequest) (*domain.PipelineRequest, error) {
	p.UpdatedAt = a.now()
	if err := a.pipelines.Finish(ctx, p); err != nil {
		if errors.Is(err, domain.ErrPipelineClosed) {
			return a.pipelines.Get(ctx, p.ID)
		}
		return nil, fmt.Errorf("finish pipeline %s: %w", p.ID, err)
	}

	metrics.PipelinesFinishedTotal.WithLabelValues(string(p.Outcome)).Inc()
	logger.Info.Printf("pipeline %s finished: status=%s outcome=%s", p.ID, p.Status, p.Outcome)
	if a.events != nil {
		a.events.Publish(p.ID, Event{
			Type:       "pipeline",
			PipelineID: p.ID,
			Status:     string(p.Status),
			Message:    p.Reason,
			At:         p.UpdatedAt,
		})
	}
	return p, nil
}

// publicReason strips control characters and bounds the length of a reason
// shown to users.
func publicReason(reason string) string {
	reason = logger.SanitizeForLog(reason)
	if len(reason) > maxReasonLength {
		reason = validation.TruncateUTF8(reason, maxReasonLength)
	}
	return reason
}

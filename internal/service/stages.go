package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/validation"
)

type stageHandler struct {
	memoryMB int
	timeout  time.Duration
	billable bool
	// input is the accepted category of a local input file, empty when the
	// stage consumes another stage's output.
	input    validation.Category
	validate func(params map[string]any) error
}

func requireOneOf(keys ...string) func(map[string]any) error {
	return func(params map[string]any) error {
		for _, k := range keys {
			if v, ok := params[k]; ok && v != nil && v != "" {
				return nil
			}
		}
		return fmt.Errorf("missing parameter %s", strings.Join(keys, " or "))
	}
}

// previewFrame accepts an optional frame index for single-frame renders.
func previewFrame(params map[string]any) error {
	v, ok := params["frame"]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) {
		return errors.New("frame must be a non-negative integer")
	}
	return nil
}

func defaultStageTable() map[domain.JobKind]stageHandler {
	return map[domain.JobKind]stageHandler{
		domain.JobKindDetectPose: {
			memoryMB: 2048,
			timeout:  2 * time.Minute,
			input:    validation.CategoryImage,
		},
		domain.JobKindRemoveBackground: {
			memoryMB: 2048,
			timeout:  2 * time.Minute,
			input:    validation.CategoryImage,
		},
		domain.JobKindSynthesizeMotion: {
			memoryMB: 8192,
			timeout:  10 * time.Minute,
			billable: true,
			validate: requireOneOf("prompt", "preset"),
		},
		domain.JobKindSynthesizeVoice: {
			memoryMB: 4096,
			timeout:  5 * time.Minute,
			billable: true,
			validate: requireOneOf("text"),
		},
		domain.JobKindLipsync: {
			memoryMB: 6144,
			timeout:  10 * time.Minute,
			billable: true,
			validate: requireOneOf("audio_ref"),
		},
		domain.JobKindRender: {
			memoryMB: 10240,
			timeout:  30 * time.Minute,
			billable: true,
			validate: previewFrame,
		},
	}
}

// StageResult is a successful execution staged under Dir, waiting to be
// promoted.
type StageResult struct {
	Dir      string
	Attempt  int
	Artifact domain.Artifact
}

// StageExecutor runs one job on one resource, picking the backend by the
// resource's capacity class. Every error it returns is a *domain.StageFailure.
type StageExecutor struct {
	artifacts port.ArtifactStore
	backends  map[domain.CapacityClass]port.StageBackend
	table     map[domain.JobKind]stageHandler
	progress  func(job *domain.Job, percent int)
}

func NewStageExecutor(artifacts port.ArtifactStore, backends map[domain.CapacityClass]port.StageBackend) *StageExecutor {
	return &StageExecutor{
		artifacts: artifacts,
		backends:  backends,
		table:     defaultStageTable(),
	}
}

// SetTimeout overrides the wall-clock limit of a stage kind.
func (e *StageExecutor) SetTimeout(kind domain.JobKind, timeout time.Duration) {
	if h, ok := e.table[kind]; ok && timeout > 0 {
		h.timeout = timeout
		e.table[kind] = h
	}
}

// OnProgress registers the sink for progress reported by backends.
func (e *StageExecutor) OnProgress(fn func(job *domain.Job, percent int)) {
	e.progress = fn
}

// MemoryMB returns the memory estimate a stage kind needs on a resource.
func (e *StageExecutor) MemoryMB(kind domain.JobKind) int {
	return e.table[kind].memoryMB
}

func (e *StageExecutor) Billable(kind domain.JobKind) bool {
	return e.table[kind].billable
}

func (e *StageExecutor) Execute(ctx context.Context, job *domain.Job, res domain.Resource) (*StageResult, error) {
	h, ok := e.table[job.Kind]
	if !ok {
		return nil, domain.PermanentFailure(fmt.Sprintf("unknown stage kind %q", job.Kind), nil).
			WithPublic("unknown stage kind")
	}
	if err := checkParams(h, job.Params); err != nil {
		return nil, domain.PermanentFailure("invalid parameters", err).
			WithPublic("invalid parameters: " + err.Error())
	}
	if err := checkInput(h, job.InputRef); err != nil {
		return nil, domain.PermanentFailure("invalid input", err).WithPublic("invalid input")
	}

	backend, ok := e.backends[res.Class]
	if !ok {
		return nil, domain.InfraFailure(fmt.Sprintf("no backend for %s resources", res.Class), nil)
	}

	dir, err := e.artifacts.StagingDir(job.ID, job.AttemptCount)
	if err != nil {
		return nil, domain.InfraFailure("prepare staging dir", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	out, err := backend.Run(runCtx, port.StageCall{
		JobID:      job.ID,
		Kind:       job.Kind,
		InputRef:   job.InputRef,
		Params:     job.Params,
		OutputDir:  dir,
		ResourceID: res.ID,
		Progress: func(percent int) {
			if e.progress != nil {
				e.progress(job, percent)
			}
		},
	})
	metrics.StageDurationSeconds.WithLabelValues(string(job.Kind), string(res.Class)).Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, domain.InfraFailure("interrupted", ctx.Err())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			msg := fmt.Sprintf("stage timed out after %s", h.timeout)
			return nil, domain.InfraFailure(msg, err).WithPublic(msg)
		}
		failure := domain.Classify(err)
		logger.Debug.Printf("stage %s of job %s failed on %s: %s",
			job.Kind, job.ID, res.ID, logger.SanitizeForLog(failure.Error()))
		return nil, failure
	}

	artifact := domain.Artifact{
		JobID:      job.ID,
		Kind:       job.Kind,
		Attempt:    job.AttemptCount,
		Output:     out.Output,
		External:   out.External,
		ResourceID: res.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.artifacts.WriteManifest(dir, artifact); err != nil {
		return nil, domain.InfraFailure("write manifest", err)
	}
	return &StageResult{Dir: dir, Attempt: job.AttemptCount, Artifact: artifact}, nil
}

func checkParams(h stageHandler, raw json.RawMessage) error {
	params := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("params must be a JSON object: %w", err)
		}
	}
	if h.validate != nil {
		return h.validate(params)
	}
	return nil
}

// checkInput sniffs local input files. Remote references are the backend's
// concern.
func checkInput(h stageHandler, ref string) error {
	if h.input == "" {
		return nil
	}
	if ref == "" {
		return errors.New("missing input")
	}
	if strings.Contains(ref, "://") {
		return nil
	}
	if _, err := os.Stat(ref); err != nil {
		return fmt.Errorf("input %s: %w", ref, err)
	}
	_, err := validation.ValidateFile(ref, h.input)
	return err
}

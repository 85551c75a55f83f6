package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

type PipelineKind string

const (
	PipelineKindAnimateCharacter PipelineKind = "animate_character"
	PipelineKindRenderExport     PipelineKind = "render_export"
	PipelineKindVoiceOver        PipelineKind = "voice_over"
	PipelineKindCustom           PipelineKind = "custom"
)

type PipelineStatus string

const (
	PipelineStatusInProgress PipelineStatus = "in_progress"
	PipelineStatusSucceeded  PipelineStatus = "succeeded"
	PipelineStatusFailed     PipelineStatus = "failed"
)

// Outcome distinguishes why a pipeline reached its terminal status.
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeStageFailed      Outcome = "stage_failed"
	OutcomeAssemblyFailed   Outcome = "assembly_failed"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeDeadlineExceeded Outcome = "deadline_exceeded"
)

type ExportFormat string

const (
	FormatMP4         ExportFormat = "mp4"
	FormatWebM        ExportFormat = "webm"
	FormatGIF         ExportFormat = "gif"
	FormatMOV         ExportFormat = "mov"
	FormatPNGSequence ExportFormat = "png_sequence"
)

func (f ExportFormat) Valid() bool {
	switch f {
	case FormatMP4, FormatWebM, FormatGIF, FormatMOV, FormatPNGSequence:
		return true
	}
	return false
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

var qualityMultiplier = map[Quality]float64{
	QualityLow:    1,
	QualityMedium: 2,
	QualityHigh:   3,
	QualityUltra:  5,
}

func (q Quality) Valid() bool {
	_, ok := qualityMultiplier[q]
	return ok
}

// CreditCost prices a render by its duration and quality tier.
func CreditCost(durationSeconds float64, quality Quality) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	mult, ok := qualityMultiplier[quality]
	if !ok {
		mult = 1
	}
	return int64(math.Ceil(durationSeconds * mult))
}

type StageSpec struct {
	Kind       JobKind         `json:"kind"`
	Params     json.RawMessage `json:"params,omitempty"`
	After      []int           `json:"after,omitempty"`
	SceneOrder int             `json:"scene_order,omitempty"`
	InputRef   string          `json:"input_ref,omitempty"`
}

// PreviewFrame returns the frame a render stage is limited to. Such a stage
// renders one still image instead of the scene.
func (st StageSpec) PreviewFrame() (int, bool) {
	if st.Kind != JobKindRender || len(st.Params) == 0 {
		return 0, false
	}
	var params struct {
		Frame *int `json:"frame"`
	}
	if err := json.Unmarshal(st.Params, &params); err != nil || params.Frame == nil {
		return 0, false
	}
	return *params.Frame, true
}

type OutputSpec struct {
	Format          ExportFormat `json:"format"`
	Quality         Quality      `json:"quality"`
	DurationSeconds float64      `json:"duration_seconds"`
	Name            string       `json:"name"`
	// IncludeAudio keeps the audio tracks of the renders; unset means true.
	IncludeAudio *bool `json:"include_audio,omitempty"`
}

func (o OutputSpec) Audio() bool {
	return o.IncludeAudio == nil || *o.IncludeAudio
}

type PipelineRequest struct {
	ID             string
	OwnerRef       string
	UserRef        string
	Kind           PipelineKind
	Priority       Priority
	InputRef       string
	Stages         []StageSpec
	Output         OutputSpec
	CreditCost     int64
	MaxAttempts    int
	Status         PipelineStatus
	Outcome        Outcome
	Reason         string
	ResultRef      string
	DiagnosticsRef string
	DeadlineAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewPipelineRequest(ownerRef, userRef string, kind PipelineKind, priority Priority, stages []StageSpec, now time.Time, deadline time.Duration) *PipelineRequest {
	return &PipelineRequest{
		ID:         uuid.NewString(),
		OwnerRef:   ownerRef,
		UserRef:    userRef,
		Kind:       kind,
		Priority:   priority,
		Stages:     stages,
		Status:     PipelineStatusInProgress,
		DeadlineAt: now.Add(deadline),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the stage plan. Dependencies may only point at earlier
// stages, which keeps every plan acyclic.
func (p *PipelineRequest) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidPipeline)
	}
	if !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidPipeline, p.Priority)
	}
	for i, st := range p.Stages {
		if !st.Kind.Valid() {
			return fmt.Errorf("%w: stage %d has unknown kind %q", ErrInvalidPipeline, i, st.Kind)
		}
		for _, dep := range st.After {
			if dep < 0 || dep >= i {
				return fmt.Errorf("%w: stage %d depends on stage %d", ErrInvalidPipeline, i, dep)
			}
		}
		if len(st.Params) > 0 && !json.Valid(st.Params) {
			return fmt.Errorf("%w: stage %d params are not valid JSON", ErrInvalidPipeline, i)
		}
	}
	if p.IsPreview() {
		renders := 0
		for _, st := range p.Stages {
			if st.Kind == JobKindRender {
				renders++
			}
		}
		if renders > 1 {
			return fmt.Errorf("%w: a preview renders a single scene", ErrInvalidPipeline)
		}
	} else if p.HasRender() {
		if !p.Output.Format.Valid() {
			return fmt.Errorf("%w: unknown export format %q", ErrInvalidPipeline, p.Output.Format)
		}
		if !p.Output.Quality.Valid() {
			return fmt.Errorf("%w: unknown quality %q", ErrInvalidPipeline, p.Output.Quality)
		}
	}
	return nil
}

func (p *PipelineRequest) HasRender() bool {
	for _, st := range p.Stages {
		if st.Kind == JobKindRender {
			return true
		}
	}
	return false
}

// IsPreview reports whether the pipeline renders a single preview frame. Its
// result is the still image and no export is encoded.
func (p *PipelineRequest) IsPreview() bool {
	for _, st := range p.Stages {
		if _, ok := st.PreviewFrame(); ok {
			return true
		}
	}
	return false
}

// Progress averages the completion of every stage, counting stages without
// a job as not started.
func (p *PipelineRequest) Progress(jobs []*Job) int {
	if len(p.Stages) == 0 {
		return 0
	}
	total := 0
	for _, j := range jobs {
		switch {
		case j.Status == JobStatusSucceeded:
			total += 100
		case j.Status == JobStatusRunning:
			total += j.Progress
		}
	}
	return total / len(p.Stages)
}

// ReadyStages returns the stage indexes whose dependencies have all succeeded
// and which have no job yet.
func (p *PipelineRequest) ReadyStages(jobs []*Job) []int {
	byStage := make(map[int]*Job, len(jobs))
	for _, j := range jobs {
		byStage[j.StageIndex] = j
	}

	var ready []int
	for i, st := range p.Stages {
		if _, exists := byStage[i]; exists {
			continue
		}
		ok := true
		for _, dep := range st.After {
			j, exists := byStage[dep]
			if !exists || j.Status != JobStatusSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, i)
		}
	}
	return ready
}

// StageInput resolves the input for a stage: its own ref, else the result of
// its latest dependency, else the pipeline input.
func (p *PipelineRequest) StageInput(stage int, jobs []*Job) string {
	st := p.Stages[stage]
	if st.InputRef != "" {
		return st.InputRef
	}
	latest := -1
	for _, dep := range st.After {
		if dep > latest {
			latest = dep
		}
	}
	if latest >= 0 {
		for _, j := range jobs {
			if j.StageIndex == latest {
				return j.ResultRef
			}
		}
	}
	return p.InputRef
}

// Aggregate derives the pipeline status from its jobs.
func (p *PipelineRequest) Aggregate(jobs []*Job) PipelineStatus {
	succeeded := make(map[int]bool, len(jobs))
	for _, j := range jobs {
		switch j.Status {
		case JobStatusFailed:
			return PipelineStatusFailed
		case JobStatusSucceeded:
			succeeded[j.StageIndex] = true
		}
	}
	for i := range p.Stages {
		if !succeeded[i] {
			return PipelineStatusInProgress
		}
	}
	return PipelineStatusSucceeded
}

func AllJobsTerminal(jobs []*Job) bool {
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return false
		}
	}
	return true
}

// LastFailedJob returns the most recently failed job, or nil. Jobs failed
// only because an upstream stage failed are used as a last resort.
func LastFailedJob(jobs []*Job) *Job {
	var last, skipped *Job
	for _, j := range jobs {
		if j.Status != JobStatusFailed {
			continue
		}
		if j.LastError != nil && j.LastError.Message == ReasonUpstreamFailed {
			if skipped == nil || j.UpdatedAt.After(skipped.UpdatedAt) {
				skipped = j
			}
			continue
		}
		if last == nil || j.UpdatedAt.After(last.UpdatedAt) {
			last = j
		}
	}
	if last == nil {
		return skipped
	}
	return last
}

// RenderJobs returns the succeeded render jobs in scene order.
func (p *PipelineRequest) RenderJobs(jobs []*Job) []*Job {
	var renders []*Job
	for _, j := range jobs {
		if j.Kind == JobKindRender && j.Status == JobStatusSucceeded {
			renders = append(renders, j)
		}
	}
	sort.SliceStable(renders, func(a, b int) bool {
		oa := p.Stages[renders[a].StageIndex].SceneOrder
		ob := p.Stages[renders[b].StageIndex].SceneOrder
		if oa != ob {
			return oa < ob
		}
		return renders[a].StageIndex < renders[b].StageIndex
	})
	return renders
}

func (p *PipelineRequest) Expired(now time.Time) bool {
	return p.Status == PipelineStatusInProgress && now.After(p.DeadlineAt)
}

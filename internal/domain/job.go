package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindDetectPose       JobKind = "detect_pose"
	JobKindRemoveBackground JobKind = "remove_background"
	JobKindSynthesizeMotion JobKind = "synthesize_motion"
	JobKindSynthesizeVoice  JobKind = "synthesize_voice"
	JobKindLipsync          JobKind = "lipsync"
	JobKindRender           JobKind = "render"
)

var JobKinds = []JobKind{
	JobKindDetectPose,
	JobKindRemoveBackground,
	JobKindSynthesizeMotion,
	JobKindSynthesizeVoice,
	JobKindLipsync,
	JobKindRender,
}

func (k JobKind) Valid() bool {
	for _, known := range JobKinds {
		if k == known {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// Priorities lists the dispatch tiers from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityDefault, PriorityLow}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityDefault, PriorityLow:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusRunning          JobStatus = "running"
	JobStatusRetryableFailure JobStatus = "retryable_failure"
	JobStatusSucceeded        JobStatus = "succeeded"
	JobStatusFailed           JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// allowedTransitions is the complete job state machine. pending -> failed is
// reserved for cancellation and deadline expiry.
var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusRunning: true,
		JobStatusFailed:  true,
	},
	JobStatusRunning: {
		JobStatusSucceeded:        true,
		JobStatusRetryableFailure: true,
		JobStatusFailed:           true,
	},
	JobStatusRetryableFailure: {
		JobStatusPending: true,
	},
}

func CanTransition(from, to JobStatus) bool {
	return allowedTransitions[from][to]
}

// Reasons recorded on jobs failed outside of execution.
const (
	ReasonCancelled        = "cancelled"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonUpstreamFailed   = "upstream_failed"
)

// JobError is the failure recorded on a job. Message is safe to show to
// users; Detail keeps the full error for logs and diagnostics.
type JobError struct {
	Class   FailureClass `json:"class"`
	Message string       `json:"message"`
	Detail  string       `json:"detail,omitempty"`
}

type Job struct {
	ID                 string
	PipelineID         string
	StageIndex         int
	Kind               JobKind
	OwnerRef           string
	Priority           Priority
	Status             JobStatus
	AttemptCount       int
	MaxAttempts        int
	DispatchCount      int
	Progress           int
	LastError          *JobError
	AssignedResourceID string
	LastResourceID     string
	InputRef           string
	Params             json.RawMessage
	ResultRef          string
	AvailableAt        time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewJob(pipelineID string, stageIndex int, kind JobKind, ownerRef string, priority Priority, maxAttempts int, now time.Time) *Job {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Job{
		ID:          uuid.NewString(),
		PipelineID:  pipelineID,
		StageIndex:  stageIndex,
		Kind:        kind,
		OwnerRef:    ownerRef,
		Priority:    priority,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		Params:      json.RawMessage("{}"),
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AttemptsRemaining reports whether another content retry fits the budget
// once the current failure has been counted.
func (j *Job) AttemptsRemaining() bool {
	return j.AttemptCount < j.MaxAttempts
}

type JobEvent struct {
	ID     int64
	JobID  string
	From   JobStatus
	To     JobStatus
	Reason string
	At     time.Time
}

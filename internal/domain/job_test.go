package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("pipe-1", 2, JobKindRender, "scene-9", PriorityHigh, 3, now)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "pipe-1", job.PipelineID)
	assert.Equal(t, 2, job.StageIndex)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Zero(t, job.AttemptCount)
	assert.Zero(t, job.DispatchCount)
	assert.Empty(t, job.AssignedResourceID)
	assert.Equal(t, now, job.AvailableAt)
	assert.JSONEq(t, "{}", string(job.Params))
}

func TestNewJob_ClampsMaxAttempts(t *testing.T) {
	job := NewJob("p", 0, JobKindLipsync, "o", PriorityLow, 0, time.Now())
	assert.Equal(t, 1, job.MaxAttempts)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]JobStatus]bool{
		{JobStatusPending, JobStatusRunning}:          true,
		{JobStatusPending, JobStatusFailed}:           true,
		{JobStatusRunning, JobStatusSucceeded}:        true,
		{JobStatusRunning, JobStatusRetryableFailure}: true,
		{JobStatusRunning, JobStatusFailed}:           true,
		{JobStatusRetryableFailure, JobStatusPending}: true,
	}
	all := []JobStatus{
		JobStatusPending,
		JobStatusRunning,
		JobStatusRetryableFailure,
		JobStatusSucceeded,
		JobStatusFailed,
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				assert.Equal(t, allowed[[2]JobStatus{from, to}], CanTransition(from, to))
			})
		}
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusSucceeded.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusRetryableFailure.Terminal())
}

func TestJobKind_Valid(t *testing.T) {
	for _, k := range JobKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, JobKind("upscale").Valid())
	assert.False(t, JobKind("").Valid())
}

func TestJob_AttemptsRemaining(t *testing.T) {
	job := &Job{MaxAttempts: 3}
	for _, count := range []int{0, 1, 2} {
		job.AttemptCount = count
		assert.True(t, job.AttemptsRemaining(), count)
	}
	job.AttemptCount = 3
	assert.False(t, job.AttemptsRemaining())
}

func TestClassify(t *testing.T) {
	wrapped := fmt.Errorf("backend: %w", ContentFailure("pose not found", nil))

	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"stage failure passes through", InfraFailure("oom", nil), FailureTransientInfra},
		{"wrapped stage failure", wrapped, FailureTransientContent},
		{"deadline is infra", fmt.Errorf("call: %w", context.DeadlineExceeded), FailureTransientInfra},
		{"plain error is permanent", errors.New("boom"), FailurePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Class)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestStageFailure_Error(t *testing.T) {
	cause := errors.New("exit status 3")
	f := PermanentFailure("bad input", cause)

	assert.Equal(t, "permanent: bad input: exit status 3", f.Error())
	assert.ErrorIs(t, f, cause)
	assert.Equal(t, "transient_infra: gpu lost", InfraFailure("gpu lost", nil).Error())
}

func TestStageFailure_JobErrorKeepsDetailPrivate(t *testing.T) {
	f := PermanentFailure(`Traceback: File "/opt/models/pose.py" on gpu-0`, errors.New("exit status 1"))

	jobErr := f.JobError()
	assert.Equal(t, FailurePermanent, jobErr.Class)
	assert.Equal(t, PublicPermanentMessage, jobErr.Message)
	assert.Equal(t, f.Error(), jobErr.Detail)
	assert.NotContains(t, jobErr.Message, "gpu-0")
	assert.NotContains(t, jobErr.Message, "permanent:")

	assert.Equal(t, PublicInfraMessage, InfraFailure("lost gpu-1", nil).PublicMessage())
	assert.Equal(t, PublicContentMessage, ContentFailure("empty mask", nil).PublicMessage())
	assert.Equal(t, "no pose found", ContentFailure("model: 0 keypoints", nil).WithPublic("no pose found").PublicMessage())
	assert.Equal(t, "stage timed out", Classify(context.DeadlineExceeded).PublicMessage())
}

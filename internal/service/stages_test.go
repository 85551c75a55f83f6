package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/sketchmotion/internal/adapter/storage/artifacts"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/port/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func newTestExecutor(t *testing.T) (*StageExecutor, *mocks.StageBackendMock, *artifacts.Store) {
	t.Helper()
	arts, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	backend := mocks.NewStageBackendMock(t)
	exec := NewStageExecutor(arts, map[domain.CapacityClass]port.StageBackend{domain.CapacityRemote: backend})
	return exec, backend, arts
}

func testJob(kind domain.JobKind, input string, params string) *domain.Job {
	job := domain.NewJob("pipe-1", 0, kind, "character-1", domain.PriorityDefault, 3, time.Now())
	job.InputRef = input
	if params != "" {
		job.Params = json.RawMessage(params)
	}
	return job
}

var remoteGPU = domain.NewResource("gpu-0", domain.CapacityRemote, 24576, 1)

func assertFailure(t *testing.T, err error, class domain.FailureClass) *domain.StageFailure {
	t.Helper()
	require.Error(t, err)
	var sf *domain.StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, class, sf.Class, sf.Error())
	return sf
}

func TestStageExecutor_Success(t *testing.T) {
	exec, backend, arts := newTestExecutor(t)
	backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage).Once()

	job := testJob(domain.JobKindSynthesizeMotion, "/results/pose.json", `{"preset":"walk"}`)
	result, err := exec.Execute(context.Background(), job, remoteGPU)
	require.NoError(t, err)
	assert.Equal(t, "gpu-0", result.Artifact.ResourceID)
	assert.FileExists(t, filepath.Join(result.Dir, "manifest.json"))

	ref, err := arts.Promote(job.ID, result.Attempt)
	require.NoError(t, err)
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, job.ID, string(data))
}

func TestStageExecutor_RejectsBeforeRunning(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("just some text, not a drawing"), 0600))

	tests := []struct {
		name string
		job  *domain.Job
	}{
		{"unknown kind", testJob("paint", "", "")},
		{"params not an object", testJob(domain.JobKindSynthesizeVoice, "", `["hello"]`)},
		{"missing text", testJob(domain.JobKindSynthesizeVoice, "", `{"voice":"narrator"}`)},
		{"missing motion prompt", testJob(domain.JobKindSynthesizeMotion, "", `{"prompt":""}`)},
		{"missing input", testJob(domain.JobKindDetectPose, "", "")},
		{"input not found", testJob(domain.JobKindDetectPose, filepath.Join(dir, "missing.png"), "")},
		{"input not an image", testJob(domain.JobKindRemoveBackground, notes, "")},
		{"negative preview frame", testJob(domain.JobKindRender, "s3://scene", `{"frame":-1}`)},
		{"fractional preview frame", testJob(domain.JobKindRender, "s3://scene", `{"frame":2.5}`)},
		{"preview frame not a number", testJob(domain.JobKindRender, "s3://scene", `{"frame":"first"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, _, _ := newTestExecutor(t)
			_, err := exec.Execute(context.Background(), tt.job, remoteGPU)
			sf := assertFailure(t, err, domain.FailurePermanent)
			assert.NotContains(t, sf.PublicMessage(), dir, "local paths stay out of user messages")
		})
	}
}

func TestStageExecutor_ForwardsProgress(t *testing.T) {
	exec, backend, _ := newTestExecutor(t)
	var got []int
	exec.OnProgress(func(job *domain.Job, percent int) {
		assert.Equal(t, domain.JobKindRender, job.Kind)
		got = append(got, percent)
	})
	backend.EXPECT().Run(mock.Anything, mock.Anything).
		RunAndReturn(func(ctx context.Context, call port.StageCall) (port.StageOutput, error) {
			call.Report(40)
			call.Report(90)
			return succeedStage(ctx, call)
		}).Once()

	_, err := exec.Execute(context.Background(), testJob(domain.JobKindRender, "s3://scene", `{"frame":0}`), remoteGPU)
	require.NoError(t, err)
	assert.Equal(t, []int{40, 90}, got)
}

func TestStageExecutor_AcceptsLocalImage(t *testing.T) {
	exec, backend, _ := newTestExecutor(t)
	drawing := filepath.Join(t.TempDir(), "drawing.png")
	require.NoError(t, os.WriteFile(drawing, pngHeader, 0600))

	backend.EXPECT().Run(mock.Anything, mock.MatchedBy(func(call port.StageCall) bool {
		return call.InputRef == drawing
	})).RunAndReturn(succeedStage).Once()

	_, err := exec.Execute(context.Background(), testJob(domain.JobKindDetectPose, drawing, ""), remoteGPU)
	assert.NoError(t, err)
}

func TestStageExecutor_NoBackendForClass(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	local := domain.NewResource("cpu-0", domain.CapacityLocal, 8192, 1)

	_, err := exec.Execute(context.Background(), testJob(domain.JobKindDetectPose, "s3://a.png", ""), local)
	assertFailure(t, err, domain.FailureTransientInfra)
}

func TestStageExecutor_Timeout(t *testing.T) {
	exec, backend, _ := newTestExecutor(t)
	exec.SetTimeout(domain.JobKindDetectPose, 20*time.Millisecond)
	backend.EXPECT().Run(mock.Anything, mock.Anything).
		RunAndReturn(func(ctx context.Context, _ port.StageCall) (port.StageOutput, error) {
			<-ctx.Done()
			return port.StageOutput{}, ctx.Err()
		}).Once()

	_, err := exec.Execute(context.Background(), testJob(domain.JobKindDetectPose, "s3://a.png", ""), remoteGPU)
	sf := assertFailure(t, err, domain.FailureTransientInfra)
	assert.Contains(t, sf.Reason, "timed out")
	assert.Equal(t, "stage timed out after 20ms", sf.PublicMessage())
}

func TestStageExecutor_Interrupted(t *testing.T) {
	exec, backend, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	backend.EXPECT().Run(mock.Anything, mock.Anything).
		RunAndReturn(func(runCtx context.Context, _ port.StageCall) (port.StageOutput, error) {
			cancel()
			<-runCtx.Done()
			return port.StageOutput{}, runCtx.Err()
		}).Once()

	_, err := exec.Execute(ctx, testJob(domain.JobKindDetectPose, "s3://a.png", ""), remoteGPU)
	sf := assertFailure(t, err, domain.FailureTransientInfra)
	assert.Equal(t, "interrupted", sf.Reason)
}

func TestStageExecutor_ClassifiesBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.FailureClass
	}{
		{"content", domain.ContentFailure("no face in frame", nil), domain.FailureTransientContent},
		{"infra", domain.InfraFailure("CUDA out of memory", nil), domain.FailureTransientInfra},
		{"unclassified", assert.AnError, domain.FailurePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, backend, _ := newTestExecutor(t)
			backend.EXPECT().Run(mock.Anything, mock.Anything).Return(port.StageOutput{}, tt.err).Once()

			_, err := exec.Execute(context.Background(), testJob(domain.JobKindLipsync, "/results/voice", `{"audio_ref":"s3://v.wav"}`), remoteGPU)
			assertFailure(t, err, tt.want)
		})
	}
}

func TestStageExecutor_Metadata(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	assert.Equal(t, 10240, exec.MemoryMB(domain.JobKindRender))
	assert.True(t, exec.Billable(domain.JobKindRender))
	assert.True(t, exec.Billable(domain.JobKindSynthesizeVoice))
	assert.False(t, exec.Billable(domain.JobKindDetectPose))
	assert.False(t, exec.Billable(domain.JobKindRemoveBackground))
	assert.Zero(t, exec.MemoryMB("paint"))
}

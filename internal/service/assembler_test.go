package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAssembler_ConcatenatesScenesInOrder(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage)

	var (
		inputs []string
		spec   domain.OutputSpec
	)
	h.encoder.EXPECT().Assemble(mock.Anything, mock.Anything, mock.Anything, "finale", mock.Anything).
		Run(func(_ context.Context, in []string, _, _ string, out domain.OutputSpec) { inputs, spec = in, out }).
		Return("/exports/finale.webm", nil).Once()
	h.encoder.EXPECT().Probe(mock.Anything, "/exports/finale.webm").
		Return(&domain.ProbeResult{Streams: []domain.ProbeStream{{CodecType: "video", Width: 1280, Height: 720}}}, nil).Once()

	p := h.submit(SubmitRequest{
		Kind: domain.PipelineKindRenderExport,
		Stages: []domain.StageSpec{
			{Kind: domain.JobKindRender, SceneOrder: 2, InputRef: "s3://scenes/2"},
			{Kind: domain.JobKindRender, SceneOrder: 1, InputRef: "s3://scenes/1"},
		},
		Output: domain.OutputSpec{Format: domain.FormatWebM, Quality: domain.QualityMedium, DurationSeconds: 3, Name: "finale"},
	})
	assert.Equal(t, domain.PriorityHigh, p.Priority)
	assert.Equal(t, int64(6), p.CreditCost)

	h.drain()

	got := h.pipeline(p.ID)
	assert.Equal(t, domain.PipelineStatusSucceeded, got.Status)
	assert.Equal(t, "/exports/finale.webm", got.ResultRef)
	assert.Equal(t, []string{h.jobAt(p.ID, 1).ResultRef, h.jobAt(p.ID, 0).ResultRef}, inputs)
	assert.Equal(t, domain.FormatWebM, spec.Format)
	assert.Equal(t, domain.QualityMedium, spec.Quality)
	assert.True(t, spec.Audio())

	txs := h.transactions(p.ID)
	require.Len(t, txs, 1, "two renders, one charge")
	assert.Equal(t, int64(94), h.balance())
}

func TestAssembler_AssemblyFailureRefunds(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage)
	h.encoder.EXPECT().Assemble(mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("ffmpeg exited with status 1")).Once()

	p := h.submit(SubmitRequest{Kind: domain.PipelineKindAnimateCharacter, Stages: animatePlan(), Output: mp4Output()})
	h.drain()

	got := h.pipeline(p.ID)
	assert.Equal(t, domain.PipelineStatusFailed, got.Status)
	assert.Equal(t, domain.OutcomeAssemblyFailed, got.Outcome)
	assert.Equal(t, "assembly failed", got.Reason, "encoder output stays internal")
	assert.FileExists(t, got.DiagnosticsRef)

	txs := h.transactions(p.ID)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TransactionRefund, txs[1].Kind)
	assert.Equal(t, int64(100), h.balance())
}

func TestAssembler_ProbeFailureFailsExport(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage)
	h.encoder.EXPECT().Assemble(mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("/exports/hero.mp4", nil).Once()
	h.encoder.EXPECT().Probe(mock.Anything, "/exports/hero.mp4").Return(nil, errors.New("moov atom not found")).Once()

	p := h.submit(SubmitRequest{Kind: domain.PipelineKindAnimateCharacter, Stages: animatePlan(), Output: mp4Output()})
	h.drain()

	got := h.pipeline(p.ID)
	assert.Equal(t, domain.OutcomeAssemblyFailed, got.Outcome)
	assert.Equal(t, int64(100), h.balance())
}

func TestAssembler_MutedExport(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage)
	h.encoder.EXPECT().Assemble(mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.MatchedBy(func(out domain.OutputSpec) bool { return !out.Audio() })).
		Return("/exports/hero.mp4", nil).Once()
	h.encoder.EXPECT().Probe(mock.Anything, "/exports/hero.mp4").
		Return(&domain.ProbeResult{Streams: []domain.ProbeStream{{CodecType: "video", Width: 854, Height: 480}}}, nil).Once()

	muted := false
	out := mp4Output()
	out.IncludeAudio = &muted
	p := h.submit(SubmitRequest{Kind: domain.PipelineKindAnimateCharacter, Stages: animatePlan(), Output: out})
	h.drain()

	assert.Equal(t, domain.PipelineStatusSucceeded, h.pipeline(p.ID).Status)
}

func TestAssembler_PreviewFrameSkipsEncoding(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, ofKind(domain.JobKindDetectPose)).RunAndReturn(succeedStage).Once()
	h.backend.EXPECT().Run(mock.Anything, ofKind(domain.JobKindRender)).RunAndReturn(succeedStage).Once()

	p := h.submit(SubmitRequest{
		Kind: domain.PipelineKindCustom,
		Stages: []domain.StageSpec{
			{Kind: domain.JobKindDetectPose},
			{Kind: domain.JobKindRender, After: []int{0}, Params: json.RawMessage(`{"frame":24}`)},
		},
	})
	h.drain()

	got := h.pipeline(p.ID)
	require.Equal(t, domain.PipelineStatusSucceeded, got.Status)
	assert.Equal(t, h.jobAt(p.ID, 1).ResultRef, got.ResultRef)
	h.encoder.AssertNotCalled(t, "Assemble", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAssembler_PNGSequenceSkipsProbe(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage)
	h.expectExport(domain.FormatPNGSequence, domain.QualityHigh)

	p := h.submit(SubmitRequest{
		Kind:   domain.PipelineKindAnimateCharacter,
		Stages: animatePlan(),
		Output: domain.OutputSpec{Format: domain.FormatPNGSequence, Quality: domain.QualityHigh, DurationSeconds: 2},
	})
	h.drain()

	got := h.pipeline(p.ID)
	assert.Equal(t, domain.PipelineStatusSucceeded, got.Status)
	assert.True(t, strings.HasSuffix(got.ResultRef, "export.png_sequence"), got.ResultRef)
	assert.Equal(t, int64(94), h.balance())
}

func TestAssembler_WithoutRenderUsesLastStage(t *testing.T) {
	h := newHarness(t)
	h.backend.EXPECT().Run(mock.Anything, mock.Anything).RunAndReturn(succeedStage)

	p := h.submit(SubmitRequest{
		Kind: domain.PipelineKindVoiceOver,
		Stages: []domain.StageSpec{
			{Kind: domain.JobKindSynthesizeVoice, Params: []byte(`{"text":"hi there"}`)},
			{Kind: domain.JobKindLipsync, After: []int{0}, Params: []byte(`{"audio_ref":"s3://voice.wav"}`)},
		},
		CreditCost: 5,
	})
	h.drain()

	got := h.pipeline(p.ID)
	assert.Equal(t, domain.PipelineStatusSucceeded, got.Status)
	assert.Equal(t, h.jobAt(p.ID, 1).ResultRef, got.ResultRef)
	assert.Equal(t, int64(95), h.balance())
}

func TestAssembler_FinalizeWaitsForTerminalJobs(t *testing.T) {
	h := newHarness(t)
	p := h.submit(SubmitRequest{Kind: domain.PipelineKindAnimateCharacter, Stages: animatePlan(), Output: mp4Output()})

	got, err := h.assembler.Finalize(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusInProgress, got.Status)
}

func TestPublicReason(t *testing.T) {
	assert.Equal(t, `bad\nline`, publicReason("bad\nline"))

	long := publicReason(strings.Repeat("é", 300))
	assert.LessOrEqual(t, len(long), maxReasonLength)
	assert.True(t, utf8.ValidString(long))
}

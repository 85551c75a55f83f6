package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/sketchmotion/internal/adapter/storage/artifacts"
	"github.com/bnema/sketchmotion/internal/adapter/storage/sqlite"
	"github.com/bnema/sketchmotion/internal/backoff"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/port/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t         *testing.T
	clock     *fakeClock
	jobs      *sqlite.JobQueue
	pipelines *sqlite.PipelineStore
	artifacts *artifacts.Store
	backend   *mocks.StageBackendMock
	encoder   *mocks.EncoderMock
	health    *HealthTracker
	ledger    *CreditLedger
	assembler *Assembler
	scheduler *Scheduler
	service   *PipelineService
	bus       *EventBus
}

func newHarness(t *testing.T, resources ...domain.Resource) *harness {
	t.Helper()
	if len(resources) == 0 {
		resources = []domain.Resource{
			domain.NewResource("gpu-0", domain.CapacityRemote, 24576, 1),
			domain.NewResource("gpu-1", domain.CapacityRemote, 24576, 1),
		}
	}

	dir := t.TempDir()
	store, err := sqlite.NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	arts, err := artifacts.NewStore(dir)
	require.NoError(t, err)

	h := &harness{
		t:         t,
		clock:     newFakeClock(),
		pipelines: sqlite.NewPipelineStore(store),
		artifacts: arts,
		backend:   mocks.NewStageBackendMock(t),
		encoder:   mocks.NewEncoderMock(t),
		bus:       NewEventBus(),
	}
	h.jobs = sqlite.NewJobQueue(store).WithClock(h.clock.Now)

	h.health = NewHealthTracker(store, backoff.New(30*time.Second, 30*time.Minute, 2)).WithClock(h.clock.Now)
	require.NoError(t, h.health.Register(context.Background(), resources))

	h.ledger = NewCreditLedger(sqlite.NewLedger(store))
	require.NoError(t, h.ledger.Deposit(context.Background(), "user-1", 100))

	executor := NewStageExecutor(arts, map[domain.CapacityClass]port.StageBackend{
		domain.CapacityRemote: h.backend,
		domain.CapacityLocal:  h.backend,
	})
	h.assembler = NewAssembler(h.pipelines, h.jobs, arts, h.encoder, h.ledger, h.bus)
	h.scheduler = NewScheduler(h.jobs, h.pipelines, h.health, executor, h.ledger, h.assembler, arts, h.bus, SchedulerConfig{
		Workers:      map[domain.Priority]int{domain.PriorityHigh: 1, domain.PriorityDefault: 1, domain.PriorityLow: 1},
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: backoff.New(time.Second, time.Minute, 2),
	}).WithClock(h.clock.Now)
	h.service = NewPipelineService(h.pipelines, h.jobs, arts, h.scheduler, h.assembler, h.ledger, time.Hour, 3)
	h.service.now = h.clock.Now
	return h
}

// drain dispatches and ticks until no lane makes progress. A tick may
// promote due retries, so one more idle pass follows it.
func (h *harness) drain() {
	h.t.Helper()
	ctx := context.Background()
	idle := 0
	for i := 0; i < 100; i++ {
		progressed := false
		for _, p := range domain.Priorities {
			ok, err := h.scheduler.DispatchOnce(ctx, p)
			require.NoError(h.t, err)
			progressed = progressed || ok
		}
		require.NoError(h.t, h.scheduler.Tick(ctx))
		if progressed {
			idle = 0
			continue
		}
		if idle++; idle == 2 {
			return
		}
	}
	h.t.Fatal("scheduler did not settle")
}

func (h *harness) submit(req SubmitRequest) *domain.PipelineRequest {
	h.t.Helper()
	if req.UserRef == "" {
		req.UserRef = "user-1"
	}
	if req.OwnerRef == "" {
		req.OwnerRef = "character-1"
	}
	if req.InputRef == "" {
		req.InputRef = "s3://drawings/hero.png"
	}
	p, err := h.service.Submit(context.Background(), req)
	require.NoError(h.t, err)
	return p
}

func (h *harness) pipeline(id string) *domain.PipelineRequest {
	h.t.Helper()
	p, err := h.pipelines.Get(context.Background(), id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) jobAt(pipelineID string, stage int) *domain.Job {
	h.t.Helper()
	jobs, err := h.jobs.ListByPipeline(context.Background(), pipelineID)
	require.NoError(h.t, err)
	for _, j := range jobs {
		if j.StageIndex == stage {
			return j
		}
	}
	h.t.Fatalf("no job for stage %d", stage)
	return nil
}

func (h *harness) transactions(pipelineID string) []domain.CreditTransaction {
	h.t.Helper()
	txs, err := h.ledger.Transactions(context.Background(), pipelineID)
	require.NoError(h.t, err)
	return txs
}

func (h *harness) balance() int64 {
	h.t.Helper()
	b, err := h.ledger.Balance(context.Background(), "user-1")
	require.NoError(h.t, err)
	return b
}

// expectExport makes the encoder produce a file in the export directory.
func (h *harness) expectExport(format domain.ExportFormat, quality domain.Quality) {
	matches := mock.MatchedBy(func(out domain.OutputSpec) bool {
		return out.Format == format && out.Quality == quality
	})
	h.encoder.EXPECT().Assemble(mock.Anything, mock.Anything, mock.Anything, mock.Anything, matches).
		RunAndReturn(func(_ context.Context, _ []string, dir, name string, _ domain.OutputSpec) (string, error) {
			out := filepath.Join(dir, name+"."+string(format))
			return out, os.WriteFile(out, []byte("video"), 0600)
		}).Once()
	if format != domain.FormatPNGSequence {
		h.encoder.EXPECT().Probe(mock.Anything, mock.Anything).
			Return(&domain.ProbeResult{Format: domain.ProbeFormat{Duration: "4.0"}}, nil).Once()
	}
}

func ofKind(kind domain.JobKind) interface{} {
	return mock.MatchedBy(func(call port.StageCall) bool { return call.Kind == kind })
}

// succeedStage writes a small output file the way a real backend would.
func succeedStage(_ context.Context, call port.StageCall) (port.StageOutput, error) {
	name := string(call.Kind) + ".out"
	err := os.WriteFile(filepath.Join(call.OutputDir, name), []byte(call.JobID), 0600)
	return port.StageOutput{Output: name}, err
}

func animatePlan() []domain.StageSpec {
	return []domain.StageSpec{
		{Kind: domain.JobKindDetectPose},
		{Kind: domain.JobKindRender, After: []int{0}},
	}
}

func mp4Output() domain.OutputSpec {
	return domain.OutputSpec{Format: domain.FormatMP4, Quality: domain.QualityLow, DurationSeconds: 4, Name: "hero"}
}

package http

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/service"
)

// fakePipelines returns views in order, repeating the last one. Every Status
// call is signalled on statusCalled.
type fakePipelines struct {
	mu           sync.Mutex
	submitted    []service.SubmitRequest
	submitErr    error
	views        []*service.PipelineView
	statusErr    error
	cancelErr    error
	cancelled    []string
	statusCalled chan string
}

func newFakePipelines(views ...*service.PipelineView) *fakePipelines {
	return &fakePipelines{views: views, statusCalled: make(chan string, 64)}
}

func (f *fakePipelines) Submit(_ context.Context, req service.SubmitRequest) (*domain.PipelineRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityDefault
	}
	return &domain.PipelineRequest{
		ID:         "p-1",
		Status:     domain.PipelineStatusInProgress,
		Priority:   priority,
		CreditCost: 4,
	}, nil
}

func (f *fakePipelines) Status(_ context.Context, id string) (*service.PipelineView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.statusCalled <- id:
	default:
	}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	v := f.views[0]
	if len(f.views) > 1 {
		f.views = f.views[1:]
	}
	return v, nil
}

func (f *fakePipelines) Cancel(_ context.Context, id string) (*domain.PipelineRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return &domain.PipelineRequest{ID: id, Status: domain.PipelineStatusFailed}, nil
}

type fakeResources []domain.Resource

func (f fakeResources) Snapshot() []domain.Resource { return f }

func pipelineView(status domain.PipelineStatus) *service.PipelineView {
	v := &service.PipelineView{
		ID:     "p-1",
		Kind:   domain.PipelineKindAnimateCharacter,
		Status: status,
		Jobs: []service.JobView{
			{Stage: 0, Kind: domain.JobKindDetectPose, Status: domain.JobStatusSucceeded},
			{Stage: 1, Kind: domain.JobKindRender, Status: domain.JobStatusRunning},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	switch status {
	case domain.PipelineStatusSucceeded:
		v.Jobs[1].Status = domain.JobStatusSucceeded
		v.ResultRef = "exports/p-1/hero.mp4"
	case domain.PipelineStatusFailed:
		v.Jobs[1].Status = domain.JobStatusFailed
		v.Reason = "stage failed"
	}
	return v
}

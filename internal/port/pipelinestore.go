package port

import (
	"context"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
)

type PipelineStore interface {
	Create(ctx context.Context, p *domain.PipelineRequest) error
	Get(ctx context.Context, id string) (*domain.PipelineRequest, error)
	// Finish moves an in-progress pipeline to a terminal status. It returns
	// domain.ErrPipelineClosed when another caller finished it first.
	Finish(ctx context.Context, p *domain.PipelineRequest) error
	ListExpired(ctx context.Context, now time.Time) ([]*domain.PipelineRequest, error)
	ListFinishedBefore(ctx context.Context, before time.Time) ([]*domain.PipelineRequest, error)
	Delete(ctx context.Context, id string) error
}

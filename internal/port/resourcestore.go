package port

import (
	"context"

	"github.com/bnema/sketchmotion/internal/domain"
)

type ResourceStore interface {
	SaveResource(ctx context.Context, r domain.Resource) error
	ListResources(ctx context.Context) ([]domain.Resource, error)
}

package port

import (
	"context"

	"github.com/bnema/sketchmotion/internal/domain"
)

type Encoder interface {
	// Assemble concatenates scene renders into one export shaped by out.
	Assemble(ctx context.Context, inputs []string, outputDir, name string, out domain.OutputSpec) (string, error)
	Probe(ctx context.Context, path string) (*domain.ProbeResult, error)
}

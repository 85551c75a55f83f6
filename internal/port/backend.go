package port

import (
	"context"
	"encoding/json"

	"github.com/bnema/sketchmotion/internal/domain"
)

type StageCall struct {
	JobID      string
	Kind       domain.JobKind
	InputRef   string
	Params     json.RawMessage
	OutputDir  string
	ResourceID string
	// Progress receives completion percentages while the stage runs. It may
	// be nil.
	Progress func(percent int)
}

// Report forwards a completion percentage when the caller asked for one.
func (c StageCall) Report(percent int) {
	if c.Progress != nil {
		c.Progress(percent)
	}
}

type StageOutput struct {
	// Output is a file name under OutputDir, or an opaque reference when
	// External is set.
	Output   string
	External bool
}

// StageBackend runs a single stage. Errors are *domain.StageFailure.
type StageBackend interface {
	Run(ctx context.Context, call StageCall) (StageOutput, error)
}

type Prober interface {
	Probe(ctx context.Context, resourceID string) error
}

package domain

import (
	"path/filepath"
	"time"
)

// Artifact describes the output of one stage execution.
type Artifact struct {
	JobID      string    `json:"job_id"`
	Kind       JobKind   `json:"kind"`
	Attempt    int       `json:"attempt"`
	Output     string    `json:"output"`
	External   bool      `json:"external"`
	ResourceID string    `json:"resource_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ref resolves the artifact output relative to the directory holding its
// manifest. External outputs are opaque backend references.
func (a Artifact) Ref(dir string) string {
	if a.External || a.Output == "" {
		return a.Output
	}
	return filepath.Join(dir, a.Output)
}

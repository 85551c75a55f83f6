package port

import "github.com/bnema/sketchmotion/internal/domain"

type ArtifactStore interface {
	// StagingDir returns an empty directory for one execution attempt.
	StagingDir(jobID string, attempt int) (string, error)
	WriteManifest(dir string, a domain.Artifact) error
	// Promote moves a staged attempt to its canonical location and returns
	// the resolved result reference.
	Promote(jobID string, attempt int) (string, error)
	ExportDir(pipelineID string) (string, error)
	WriteDiagnostics(pipelineID string, jobs []*domain.Job) (string, error)
	Remove(pipelineID string, jobIDs []string) error
}

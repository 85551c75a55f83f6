package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/port"
)

const manifestName = "manifest.json"

// Store keeps stage outputs on disk:
//
//	staging/<job>/attempt-<n>   one directory per execution attempt
//	results/<job>               the promoted attempt
//	exports/<pipeline>          assembled renders
//	diagnostics/<pipeline>.json failure report
type Store struct {
	mu   sync.Mutex
	root string
}

func NewStore(dataDir string) (*Store, error) {
	root := filepath.Join(dataDir, "artifacts")
	for _, dir := range []string{"staging", "results", "exports", "diagnostics"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) stagingPath(jobID string, attempt int) string {
	return filepath.Join(s.root, "staging", jobID, fmt.Sprintf("attempt-%d", attempt))
}

func (s *Store) resultPath(jobID string) string {
	return filepath.Join(s.root, "results", jobID)
}

// StagingDir returns an empty directory for the attempt. Leftovers from an
// interrupted run of the same attempt are discarded.
func (s *Store) StagingDir(jobID string, attempt int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.stagingPath(jobID, attempt)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

func (s *Store) WriteManifest(dir string, a domain.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return writeJSON(filepath.Join(dir, manifestName), a)
}

func (s *Store) Promote(jobID string, attempt int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.stagingPath(jobID, attempt)
	a, err := readManifest(staged)
	if err != nil {
		return "", err
	}

	target := s.resultPath(jobID)
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("clear result dir: %w", err)
	}
	if err := os.Rename(staged, target); err != nil {
		return "", fmt.Errorf("promote attempt %d: %w", attempt, err)
	}
	_ = os.RemoveAll(filepath.Join(s.root, "staging", jobID))

	return a.Ref(target), nil
}

// Manifest reads the artifact recorded for a promoted job.
func (s *Store) Manifest(jobID string) (*domain.Artifact, error) {
	return readManifest(s.resultPath(jobID))
}

func (s *Store) ExportDir(pipelineID string) (string, error) {
	dir := filepath.Join(s.root, "exports", pipelineID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	return dir, nil
}

type diagnosticEntry struct {
	JobID        string           `json:"job_id"`
	StageIndex   int              `json:"stage_index"`
	Kind         domain.JobKind   `json:"kind"`
	Status       domain.JobStatus `json:"status"`
	Attempts     int              `json:"attempts"`
	Dispatches   int              `json:"dispatches"`
	LastResource string           `json:"last_resource,omitempty"`
	Error        *domain.JobError `json:"error,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// WriteDiagnostics stores a per-stage report for a pipeline that did not
// succeed and returns its path.
func (s *Store) WriteDiagnostics(pipelineID string, jobs []*domain.Job) (string, error) {
	entries := make([]diagnosticEntry, 0, len(jobs))
	for _, j := range jobs {
		entries = append(entries, diagnosticEntry{
			JobID:        j.ID,
			StageIndex:   j.StageIndex,
			Kind:         j.Kind,
			Status:       j.Status,
			Attempts:     j.AttemptCount,
			Dispatches:   j.DispatchCount,
			LastResource: j.LastResourceID,
			Error:        j.LastError,
			UpdatedAt:    j.UpdatedAt,
		})
	}
	path := filepath.Join(s.root, "diagnostics", pipelineID+".json")
	if err := writeJSON(path, entries); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) Remove(pipelineID string, jobIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := []string{
		filepath.Join(s.root, "exports", pipelineID),
		filepath.Join(s.root, "diagnostics", pipelineID+".json"),
	}
	for _, id := range jobIDs {
		paths = append(paths, s.resultPath(id), filepath.Join(s.root, "staging", id))
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func readManifest(dir string) (*domain.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var a domain.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &a, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

var _ port.ArtifactStore = (*Store)(nil)

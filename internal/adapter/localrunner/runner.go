package localrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/proc"
	"github.com/bnema/sketchmotion/internal/port"
)

// ExitRetryable is the exit code (EX_TEMPFAIL) a stage module uses to ask for
// another attempt on the same input.
const ExitRetryable = 75

const doctorTimeout = 30 * time.Second

// outputNames is the file each stage writes under its staging directory.
var outputNames = map[domain.JobKind]string{
	domain.JobKindDetectPose:       "pose.json",
	domain.JobKindRemoveBackground: "cutout.png",
	domain.JobKindSynthesizeMotion: "motion.json",
	domain.JobKindSynthesizeVoice:  "voice.wav",
	domain.JobKindLipsync:          "lipsync.json",
	domain.JobKindRender:           "render.mp4",
}

// previewName is the still image a render stage writes when asked for a
// single frame.
const previewName = "preview.png"

var infraPatterns = []string{"out of memory", "cuda error", "resource temporarily unavailable"}

// Runner executes stages as `python -m <module> <stage>` subprocesses on the
// host. It also serves as the prober for local resources.
type Runner struct {
	python string
	module string
}

// NewRunner resolves the Python binary. An empty python means auto-detect.
func NewRunner(python, module string) (*Runner, error) {
	resolved, err := resolvePython(python)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if module == "" {
		module = "sketchmotion_stages"
	}
	logger.Info.Printf("local stage runner initialised: python=%s, module=%s", resolved, module)
	return &Runner{python: resolved, module: module}, nil
}

func (r *Runner) Run(ctx context.Context, call port.StageCall) (port.StageOutput, error) {
	name, ok := outputNames[call.Kind]
	if !ok {
		return port.StageOutput{}, domain.PermanentFailure(fmt.Sprintf("no local implementation of %s", call.Kind), nil)
	}
	if _, preview := (domain.StageSpec{Kind: call.Kind, Params: call.Params}).PreviewFrame(); preview {
		name = previewName
	}
	if err := os.MkdirAll(call.OutputDir, 0755); err != nil {
		return port.StageOutput{}, domain.InfraFailure("create output dir", err)
	}
	outPath := filepath.Join(call.OutputDir, name)

	params := string(call.Params)
	if params == "" {
		params = "{}"
	}
	exitCode, stderr, err := r.exec(ctx, &progressWriter{report: call.Report},
		string(call.Kind),
		"--input", call.InputRef,
		"--params", params,
		"--out", outPath,
	)
	if err != nil {
		if ctx.Err() != nil {
			return port.StageOutput{}, ctx.Err()
		}
		return port.StageOutput{}, classifyExit(exitCode, stderr, err)
	}

	if _, err := os.Stat(outPath); err != nil {
		return port.StageOutput{}, domain.PermanentFailure(fmt.Sprintf("%s produced no output", call.Kind), err)
	}
	return port.StageOutput{Output: name}, nil
}

// Probe runs the module's doctor command. Any resource is healthy as long as
// the environment can still run stages.
func (r *Runner) Probe(ctx context.Context, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	exitCode, stderr, err := r.exec(ctx, io.Discard, "doctor")
	if err != nil {
		return fmt.Errorf("doctor for %s exited %d: %s", resourceID, exitCode, proc.Truncate(stderr, 512))
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, stdout io.Writer, args ...string) (int, string, error) {
	start := time.Now()
	cmdArgs := append([]string{"-m", r.module}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	stderr := proc.NewTailBuffer(proc.MaxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = stdout

	logger.Debug.Printf("executing %s %s", r.python, strings.Join(cmdArgs, " "))
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		logger.Warn.Printf("stage command failed: exit=%d, duration_ms=%d, stderr=%s",
			exitCode, elapsed.Milliseconds(), logger.SanitizeForLog(proc.Truncate(stderr.String(), 512)))
	}
	return exitCode, stderr.String(), err
}

// maxLineBytes drops stdout lines too long to be progress reports.
const maxLineBytes = 4096

// progressWriter forwards the "progress <percent>" lines a stage prints on
// stdout. Anything else is discarded.
type progressWriter struct {
	report func(percent int)
	buf    []byte
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *progressWriter) line(s string) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "progress ")
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return
	}
	w.report(int(v))
}

func classifyExit(exitCode int, stderr string, err error) *domain.StageFailure {
	tail := strings.TrimSpace(proc.Truncate(stderr, 512))
	lower := strings.ToLower(stderr)
	for _, p := range infraPatterns {
		if strings.Contains(lower, p) {
			return domain.InfraFailure(p, err)
		}
	}
	switch {
	case exitCode == -1:
		return domain.InfraFailure("stage process could not run", err)
	case exitCode == ExitRetryable:
		if tail == "" {
			tail = "stage asked for a retry"
		}
		return domain.ContentFailure(tail, err)
	}
	if tail == "" {
		tail = fmt.Sprintf("stage exited %d", exitCode)
	}
	return domain.PermanentFailure(tail, err)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("no python binary found on PATH (tried python3, python)")
}

var (
	_ port.StageBackend = (*Runner)(nil)
	_ port.Prober       = (*Runner)(nil)
)

package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/proc"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/validation"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains invalid characters")
	ErrNoInputs    = errors.New("no render inputs")
)

// maxGIFFPS caps gif exports, larger frame rates only grow the file.
const maxGIFFPS = 15

type preset struct {
	width   int
	height  int
	bitrate string
}

var presets = map[domain.Quality]preset{
	domain.QualityLow:    {854, 480, "1M"},
	domain.QualityMedium: {1280, 720, "2.5M"},
	domain.QualityHigh:   {1920, 1080, "5M"},
	domain.QualityUltra:  {3840, 2160, "15M"},
}

var extensions = map[domain.ExportFormat]string{
	domain.FormatMP4:         ".mp4",
	domain.FormatWebM:        ".webm",
	domain.FormatGIF:         ".gif",
	domain.FormatMOV:         ".mov",
	domain.FormatPNGSequence: "",
}

type Encoder struct {
	ffmpeg  string
	ffprobe string
	fps     int
}

func NewEncoder(ffmpegBin, ffprobeBin string, fps int) *Encoder {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if fps <= 0 {
		fps = 24
	}
	return &Encoder{ffmpeg: ffmpegBin, ffprobe: ffprobeBin, fps: fps}
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

// Assemble concatenates the scene renders in order and encodes them to the
// export format. png_sequence exports are a directory of frames.
func (e *Encoder) Assemble(ctx context.Context, inputs []string, outputDir, name string, out domain.OutputSpec) (string, error) {
	format, quality := out.Format, out.Quality
	if len(inputs) == 0 {
		return "", ErrNoInputs
	}
	for _, in := range inputs {
		if err := validatePath(in); err != nil {
			return "", fmt.Errorf("invalid input path: %w", err)
		}
	}
	if err := validatePath(outputDir); err != nil {
		return "", fmt.Errorf("invalid output dir: %w", err)
	}
	ext, ok := extensions[format]
	if !ok {
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
	p, ok := presets[quality]
	if !ok {
		return "", fmt.Errorf("unsupported quality: %s", quality)
	}

	output := filepath.Join(outputDir, validation.ExportFilename(name, "export", ext))
	src, err := sourceArgs(inputs, outputDir)
	if err != nil {
		return "", err
	}

	if format == domain.FormatPNGSequence {
		if err := os.MkdirAll(output, 0750); err != nil {
			return "", fmt.Errorf("create frames dir: %w", err)
		}
	}

	for _, args := range encodeArgs(src, format, p, e.fps, out.Audio(), output) {
		if _, err := e.run(ctx, e.ffmpeg, args); err != nil {
			return "", fmt.Errorf("encode %s: %w", format, err)
		}
	}
	logger.Info.Printf("encoded %d scene(s) to %s", len(inputs), filepath.Base(output))
	return output, nil
}

// sourceArgs returns the ffmpeg input arguments. Several scenes go through
// the concat demuxer.
func sourceArgs(inputs []string, outputDir string) ([]string, error) {
	if len(inputs) == 1 {
		return []string{"-i", inputs[0]}, nil
	}
	list := filepath.Join(outputDir, "concat.txt")
	if err := os.WriteFile(list, []byte(concatList(inputs)), 0600); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}
	return []string{"-f", "concat", "-safe", "0", "-i", list}, nil
}

func concatList(inputs []string) string {
	var sb strings.Builder
	for _, in := range inputs {
		sb.WriteString("file '")
		sb.WriteString(strings.ReplaceAll(in, "'", `'\''`))
		sb.WriteString("'\n")
	}
	return sb.String()
}

// audioArgs keeps the audio track with codec or drops it.
func audioArgs(audio bool, codec ...string) []string {
	if !audio {
		return []string{"-an"}
	}
	return append([]string{"-c:a"}, codec...)
}

// encodeArgs returns one argument list per ffmpeg pass.
func encodeArgs(src []string, format domain.ExportFormat, p preset, fps int, audio bool, output string) [][]string {
	scale := fmt.Sprintf("scale=%d:%d", p.width, p.height)
	args := func(codec ...string) []string {
		return append(append([]string{}, src...), codec...)
	}

	switch format {
	case domain.FormatGIF:
		gifFPS := min(fps, maxGIFFPS)
		filters := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", gifFPS, p.width)
		palette := strings.TrimSuffix(output, filepath.Ext(output)) + "_palette.png"
		first := append(append([]string{}, src...), "-vf", filters+",palettegen", "-y", palette)
		second := append(append([]string{}, src...),
			"-i", palette,
			"-lavfi", filters+" [x]; [x][1:v] paletteuse",
			"-y", output,
		)
		return [][]string{first, second}
	case domain.FormatWebM:
		a := args("-vf", scale,
			"-c:v", "libvpx-vp9",
			"-b:v", p.bitrate,
			"-pix_fmt", "yuv420p",
			"-r", strconv.Itoa(fps),
		)
		a = append(a, audioArgs(audio, "libopus", "-b:a", "128k")...)
		return [][]string{append(a, "-y", output)}
	case domain.FormatMOV:
		a := args("-vf", scale,
			"-c:v", "prores_ks",
			"-profile:v", "3",
			"-pix_fmt", "yuv422p10le",
			"-r", strconv.Itoa(fps),
		)
		a = append(a, audioArgs(audio, "pcm_s16le")...)
		return [][]string{append(a, "-y", output)}
	case domain.FormatPNGSequence:
		return [][]string{args("-vf", scale,
			"-r", strconv.Itoa(fps),
			"-y", filepath.Join(output, "frame_%05d.png"),
		)}
	default:
		a := args("-vf", scale,
			"-c:v", "libx264",
			"-preset", "slow",
			"-crf", "18",
			"-b:v", p.bitrate,
			"-pix_fmt", "yuv420p",
			"-r", strconv.Itoa(fps),
		)
		a = append(a, audioArgs(audio, "aac", "-b:a", "128k")...)
		return [][]string{append(a, "-movflags", "+faststart", "-y", output)}
	}
}

func (e *Encoder) Probe(ctx context.Context, path string) (*domain.ProbeResult, error) {
	if err := validatePath(path); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	output, err := e.run(ctx, e.ffprobe, args)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe domain.ProbeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if probe.VideoStream() == nil {
		return nil, fmt.Errorf("no video stream found")
	}
	return &probe, nil
}

func (e *Encoder) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := proc.NewTailBuffer(proc.MaxStderrBytes)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		tail := logger.SanitizeForLog(proc.Truncate(stderr.String(), 512))
		logger.Debug.Printf("%s failed: %v: %s", filepath.Base(bin), err, tail)
		return nil, fmt.Errorf("%w: %s", err, tail)
	}
	return out, nil
}

var _ port.Encoder = (*Encoder)(nil)

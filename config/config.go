package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
)

type Config struct {
	Port          int
	DataDir       string
	AuthTokenHash string
	BehindProxy   bool
	LogLevel      string

	GPUBackendURL   string
	GPUBackendToken string
	GPUPollInterval time.Duration
	LocalPython     string
	LocalModule     string
	FFmpegBin       string
	FFprobeBin      string

	Resources []domain.Resource
	Workers   map[domain.Priority]int

	PollInterval     time.Duration
	PipelineDeadline time.Duration
	MaxAttempts      int
	BlacklistBase    time.Duration
	BlacklistCap     time.Duration
	RetryBase        time.Duration
	RetryCap         time.Duration
	ProbeTTL         time.Duration
	RetentionDays    int

	RedisAddr      string
	DefaultCredits int64
}

func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "7890"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	resources, err := ParseResources(getEnv("RESOURCES", "cpu-0:local:8192:1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESOURCES: %w", err)
	}

	workers := make(map[domain.Priority]int, len(domain.Priorities))
	for _, p := range domain.Priorities {
		key := "WORKERS_" + strings.ToUpper(string(p))
		n, err := strconv.Atoi(getEnv(key, "2"))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: %q", key, os.Getenv(key))
		}
		workers[p] = n
	}

	maxAttempts, err := strconv.Atoi(getEnv("MAX_ATTEMPTS", "3"))
	if err != nil || maxAttempts < 1 {
		return nil, fmt.Errorf("invalid MAX_ATTEMPTS: %q", os.Getenv("MAX_ATTEMPTS"))
	}

	retentionDays, err := strconv.Atoi(getEnv("RETENTION_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
	}

	defaultCredits, err := strconv.ParseInt(getEnv("DEFAULT_CREDITS", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_CREDITS: %w", err)
	}

	behindProxy, err := strconv.ParseBool(getEnv("BEHIND_PROXY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid BEHIND_PROXY: %w", err)
	}

	cfg := &Config{
		Port:            port,
		DataDir:         getEnv("DATA_DIR", "/data"),
		AuthTokenHash:   os.Getenv("AUTH_TOKEN_HASH"),
		BehindProxy:     behindProxy,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		GPUBackendURL:   os.Getenv("GPU_BACKEND_URL"),
		GPUBackendToken: os.Getenv("GPU_BACKEND_TOKEN"),
		LocalPython:     os.Getenv("LOCAL_PYTHON"),
		LocalModule:     getEnv("LOCAL_MODULE", "sketchmotion_stages"),
		FFmpegBin:       getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:      getEnv("FFPROBE_BIN", "ffprobe"),
		Resources:       resources,
		Workers:         workers,
		MaxAttempts:     maxAttempts,
		RetentionDays:   retentionDays,
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		DefaultCredits:  defaultCredits,
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"GPU_POLL_INTERVAL", "2s", &cfg.GPUPollInterval},
		{"POLL_INTERVAL", "500ms", &cfg.PollInterval},
		{"PIPELINE_DEADLINE", "2h", &cfg.PipelineDeadline},
		{"BLACKLIST_BASE", "30s", &cfg.BlacklistBase},
		{"BLACKLIST_CAP", "30m", &cfg.BlacklistCap},
		{"RETRY_BASE", "5s", &cfg.RetryBase},
		{"RETRY_CAP", "5m", &cfg.RetryCap},
		{"PROBE_TTL", "10s", &cfg.ProbeTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dest = v
	}

	for _, r := range cfg.Resources {
		if r.Class == domain.CapacityRemote && cfg.GPUBackendURL == "" {
			return nil, fmt.Errorf("GPU_BACKEND_URL is required for remote resource %s", r.ID)
		}
	}

	return cfg, nil
}

// ParseResources reads a comma separated list of id:class:memory_mb[:slots].
func ParseResources(raw string) ([]domain.Resource, error) {
	var resources []domain.Resource
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("resource %q: want id:class:memory_mb[:slots]", entry)
		}

		id := parts[0]
		if id == "" || seen[id] {
			return nil, fmt.Errorf("resource %q: empty or duplicate id", entry)
		}
		seen[id] = true

		class := domain.CapacityClass(parts[1])
		if class != domain.CapacityLocal && class != domain.CapacityRemote {
			return nil, fmt.Errorf("resource %q: unknown class %q", entry, parts[1])
		}

		memoryMB, err := strconv.Atoi(parts[2])
		if err != nil || memoryMB <= 0 {
			return nil, fmt.Errorf("resource %q: invalid memory %q", entry, parts[2])
		}

		slots := 1
		if len(parts) == 4 {
			slots, err = strconv.Atoi(parts[3])
			if err != nil || slots < 1 {
				return nil, fmt.Errorf("resource %q: invalid slots %q", entry, parts[3])
			}
		}
		resources = append(resources, domain.NewResource(id, class, memoryMB, slots))
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("no resources configured")
	}
	return resources, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

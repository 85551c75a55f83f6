package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/sketchmotion/config"
	"github.com/bnema/sketchmotion/internal/adapter/encoder/ffmpeg"
	"github.com/bnema/sketchmotion/internal/adapter/events"
	"github.com/bnema/sketchmotion/internal/adapter/gpu"
	HTTPAdapter "github.com/bnema/sketchmotion/internal/adapter/http"
	"github.com/bnema/sketchmotion/internal/adapter/http/ratelimit"
	"github.com/bnema/sketchmotion/internal/adapter/localrunner"
	"github.com/bnema/sketchmotion/internal/adapter/storage/artifacts"
	sqlitestore "github.com/bnema/sketchmotion/internal/adapter/storage/sqlite"
	"github.com/bnema/sketchmotion/internal/backoff"
	"github.com/bnema/sketchmotion/internal/cli"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const renderFPS = 24

func main() {
	command := "serve"
	var args []string
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}

	switch command {
	case "serve":
		serve()
	case "hash-token":
		if err := cli.HashToken(os.Stdout, args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "status", "resources", "deposit":
		if err := runCommand(command, args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		cli.PrintUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}
}

// runCommand serves the operator subcommands straight from the database.
func runCommand(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel("warn")

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	switch command {
	case "status":
		pipelines := service.NewPipelineService(
			sqlitestore.NewPipelineStore(store), sqlitestore.NewJobQueue(store),
			nil, nil, nil, nil, cfg.PipelineDeadline, cfg.MaxAttempts)
		return cli.Status(ctx, os.Stdout, pipelines, args)
	case "resources":
		return cli.Resources(ctx, os.Stdout, store)
	default:
		ledger := service.NewCreditLedger(sqlitestore.NewLedger(store))
		return cli.Deposit(ctx, os.Stdout, ledger, args)
	}
}

func serve() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Info.Printf("starting sketchmotion %s on port %d, resources=%d", version, cfg.Port, len(cfg.Resources))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to create store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	artifactStore, err := artifacts.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to create artifact store: %v", err)
		os.Exit(1)
	}

	auth, err := service.NewTokenAuth(cfg.AuthTokenHash)
	if err != nil {
		logger.Error.Printf("invalid AUTH_TOKEN_HASH: %v", err)
		os.Exit(1)
	}
	var authenticator HTTPAdapter.Authenticator
	if auth.Enabled() {
		authenticator = auth
	} else {
		logger.Warn.Printf("AUTH_TOKEN_HASH is not set, the API is open to anyone who can reach it")
	}

	jobQueue := sqlitestore.NewJobQueue(store)
	pipelineStore := sqlitestore.NewPipelineStore(store)
	ledger := service.NewCreditLedger(sqlitestore.NewLedger(store)).WithWelcomeCredits(cfg.DefaultCredits)
	encoder := ffmpeg.NewEncoder(cfg.FFmpegBin, cfg.FFprobeBin, renderFPS)

	health := service.NewHealthTracker(store, backoff.New(cfg.BlacklistBase, cfg.BlacklistCap, 2))
	backends := make(map[domain.CapacityClass]port.StageBackend)
	if hasClass(cfg.Resources, domain.CapacityLocal) {
		runner, err := localrunner.NewRunner(cfg.LocalPython, cfg.LocalModule)
		if err != nil {
			logger.Error.Printf("failed to start local runner: %v", err)
			os.Exit(1)
		}
		backends[domain.CapacityLocal] = runner
		health.SetProber(domain.CapacityLocal, runner, cfg.ProbeTTL)
	}
	if cfg.GPUBackendURL != "" {
		client := gpu.NewClient(cfg.GPUBackendURL, cfg.GPUBackendToken, cfg.GPUPollInterval)
		backends[domain.CapacityRemote] = client
		health.SetProber(domain.CapacityRemote, client, cfg.ProbeTTL)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if err := health.Register(workerCtx, cfg.Resources); err != nil {
		logger.Error.Printf("failed to register resources: %v", err)
		os.Exit(1)
	}

	eventBus := service.NewEventBus()
	publishers := service.FanOut{eventBus}
	if cfg.RedisAddr != "" {
		connectCtx, cancel := context.WithTimeout(workerCtx, 5*time.Second)
		redisPub, err := events.Connect(connectCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logger.Warn.Printf("redis events disabled: %v", err)
		} else {
			defer func() { _ = redisPub.Close() }()
			publishers = append(publishers, redisPub)
			logger.Info.Printf("publishing pipeline events to redis at %s", cfg.RedisAddr)
		}
	}

	executor := service.NewStageExecutor(artifactStore, backends)
	assembler := service.NewAssembler(pipelineStore, jobQueue, artifactStore, encoder, ledger, publishers)
	scheduler := service.NewScheduler(jobQueue, pipelineStore, health, executor, ledger, assembler, artifactStore, publishers,
		service.SchedulerConfig{
			Workers:      cfg.Workers,
			PollInterval: cfg.PollInterval,
			RetryBackoff: backoff.New(cfg.RetryBase, cfg.RetryCap, 2),
		})
	pipelineSvc := service.NewPipelineService(pipelineStore, jobQueue, artifactStore, scheduler, assembler, ledger,
		cfg.PipelineDeadline, cfg.MaxAttempts)

	scheduler.Start(workerCtx)

	limiter := ratelimit.NewAuthFailureLimiter(5, 15*time.Minute, 15*time.Minute)
	defer limiter.Close()

	server := HTTPAdapter.NewServer(HTTPAdapter.ServerConfig{
		Pipelines:   pipelineSvc,
		Resources:   health,
		EventBus:    eventBus,
		Auth:        authenticator,
		Limiter:     limiter,
		BehindProxy: cfg.BehindProxy,
		Version:     version,
		StartTime:   time.Now(),
	})

	// Periodic cleanup of finished pipelines
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if retention <= 0 {
					continue
				}
				if _, err := pipelineSvc.Cleanup(workerCtx, retention); err != nil {
					logger.Error.Printf("cleanup failed: %v", err)
				}
			case <-workerCtx.Done():
				return
			}
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)

		// Stop accepting new requests
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}

		// Stop workers; interrupted jobs go back to pending on the next start
		workerCancel()
		scheduler.Wait()

		logger.Info.Printf("shutdown complete")
	}()

	logger.Info.Printf("server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	}
	<-done
}

func hasClass(resources []domain.Resource, class domain.CapacityClass) bool {
	for _, r := range resources {
		if r.Class == class {
			return true
		}
	}
	return false
}

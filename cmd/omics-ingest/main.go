package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bihealth/omics-ingest/internal/config"
	"github.com/bihealth/omics-ingest/internal/exitcode"
	"github.com/bihealth/omics-ingest/internal/ingest"
	"github.com/bihealth/omics-ingest/internal/model"
	"github.com/bihealth/omics-ingest/internal/storage"
)

func main() {
	// Parse CLI flags
	configFile := flag.String("config", "", "Optional YAML config file overlaying the defaults")
	watch := flag.Bool("watch", false, "Watch the landing zone and ingest run folders as they appear")
	landingZone := flag.String("landing-zone", "", "Landing zone to watch (defaults to the parent of the source path)")
	rescan := flag.Duration("rescan-interval", 5*time.Minute, "Forced rescan interval in watch mode")
	jobID := flag.String("job-id", "", "Job identifier (UUIDv7 from orchestration; generated when empty)")
	flag.Parse()

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}

	// Configure the global logger
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// The broker only matters for asynchronous engines; synchronous
	// runs just record it.
	slog.Debug("broker configured", "url", cfg.BrokerURL)

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the collection store
	store, err := storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		slog.Error("failed to initialize collection store", "error", err)
		os.Exit(exitcode.NetworkError)
	}

	syncer := ingest.NewObjectSyncer(store, cfg.SyncWorkers)
	finalizer := ingest.NewManifestFinalizer(store, cfg.HashWorkers)
	svc := ingest.NewService(store, syncer, finalizer, cfg.DelayUntilAtRest)

	if *watch {
		zone := *landingZone
		if zone == "" {
			zone = filepath.Dir(cfg.SourcePath)
		}
		watcher, err := ingest.NewWatcher(ingest.WatchConfig{
			LandingZone:    zone,
			Zone:           cfg.Zone,
			Site:           cfg.Site,
			RescanInterval: *rescan,
			Workers:        cfg.WatchWorkers,
		}, svc)
		if err != nil {
			slog.Error("failed to start watcher", "error", err)
			os.Exit(exitcode.ConfigError)
		}
		if err := watcher.Run(ctx); err != nil {
			slog.Error("watcher failed", "error", err)
			os.Exit(exitFor(err))
		}
		slog.Info("shutdown complete")
		return
	}

	job, err := buildJob(cfg, *jobID)
	if err != nil {
		slog.Error("invalid job", "error", err)
		fmt.Fprintf(os.Stderr, "Usage: %v\n", err)
		os.Exit(exitcode.ConfigError)
	}

	if err := run(ctx, svc, job); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(exitFor(err))
	}

	slog.Info("shutdown complete")
}

// buildJob composes the destination path from the configured
// identifiers and validates or generates the job ID.
func buildJob(cfg *config.Config, jobID string) (ingest.Job, error) {
	id := model.JobID(jobID)
	if jobID == "" {
		generated, err := model.NewJobID()
		if err != nil {
			return ingest.Job{}, err
		}
		id = generated
	}
	if err := id.Validate(); err != nil {
		return ingest.Job{}, err
	}

	dest, err := storage.Compose(cfg.Zone, cfg.Site, cfg.Year, cfg.Device, cfg.RunFolder)
	if err != nil {
		return ingest.Job{}, err
	}

	return ingest.Job{ID: id, Source: cfg.SourcePath, Dest: dest}, nil
}

func run(ctx context.Context, runner ingest.JobRunner, job ingest.Job) error {
	return runner.Run(ctx, job)
}

// exitFor maps an error to the exit code the orchestrator acts on.
func exitFor(err error) int {
	if err == nil {
		return exitcode.Success
	}

	var missing *config.ErrMissingRequiredEnvVar
	if errors.As(err, &missing) {
		return exitcode.ConfigError
	}
	var mismatch *ingest.ManifestMismatchError
	if errors.As(err, &mismatch) {
		return exitcode.DataError
	}
	var storageErr *storage.Error
	if errors.As(err, &storageErr) {
		return exitcode.StorageError
	}
	return exitcode.SyncError
}

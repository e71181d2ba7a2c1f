package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bihealth/omics-ingest/internal/illumina"
	"github.com/bihealth/omics-ingest/internal/model"
	"github.com/bihealth/omics-ingest/internal/storage"
	"github.com/bihealth/omics-ingest/internal/taskqueue"
)

// WatchConfig configures the landing zone watcher.
type WatchConfig struct {
	// LandingZone is the directory whose direct children are run
	// folders.
	LandingZone string

	// Zone and Site identify the destination hierarchy. Year and
	// device are derived from each run folder name.
	Zone string
	Site string

	// RescanInterval forces a full rescan regardless of file system
	// events, protecting against missed notifications.
	RescanInterval time.Duration

	// Workers bounds how many run folders are ingested concurrently
	// per scan.
	Workers int
}

// Watcher ingests run folders as they appear in the landing zone. It
// combines file system notifications with a periodic forced rescan.
type Watcher struct {
	cfg    WatchConfig
	runner JobRunner
}

func NewWatcher(cfg WatchConfig, runner JobRunner) (*Watcher, error) {
	info, err := os.Stat(cfg.LandingZone)
	if err != nil {
		return nil, fmt.Errorf("landing zone %s: %w", cfg.LandingZone, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("landing zone %s is not a directory", cfg.LandingZone)
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = 5 * time.Minute
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Watcher{cfg: cfg, runner: runner}, nil
}

// Run blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.LandingZone); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.LandingZone, err)
	}

	ticker := time.NewTicker(w.cfg.RescanInterval)
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-fsw.Events:
			w.scan(ctx)
		case err := <-fsw.Errors:
			slog.ErrorContext(ctx, "watcher error", "error", err)
		case <-ticker.C:
			w.scan(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// scan ingests every run folder currently present in the landing zone,
// running up to Workers of them in parallel. Finalized folders are
// moved out of the zone, so repeated scans converge on a no-op.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.LandingZone)
	if err != nil {
		slog.ErrorContext(ctx, "cannot read landing zone", "path", w.cfg.LandingZone, "error", err)
		return
	}

	queue := taskqueue.New(w.cfg.Workers, false)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		job, err := w.jobFor(entry.Name())
		if err != nil {
			slog.WarnContext(ctx, "skipping directory", "name", entry.Name(), "error", err)
			continue
		}

		queue.Push(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := w.runner.Run(ctx, job); err != nil {
				slog.ErrorContext(ctx, "ingest failed", "job_id", job.ID, "source", job.Source, "error", err)
			}
			return nil
		})
	}
	if err := queue.Run(); err != nil {
		slog.ErrorContext(ctx, "scan failed", "error", err)
	}
}

// jobFor derives the ingest job for a run folder name, taking year and
// device from the Illumina naming convention.
func (w *Watcher) jobFor(name string) (Job, error) {
	parsed, err := illumina.ParseRunFolderName(name)
	if err != nil {
		return Job{}, err
	}
	year, err := parsed.Year()
	if err != nil {
		return Job{}, err
	}

	dest, err := storage.Compose(w.cfg.Zone, w.cfg.Site, year, parsed.Device, name)
	if err != nil {
		return Job{}, err
	}

	id, err := model.NewJobID()
	if err != nil {
		return Job{}, err
	}

	return Job{
		ID:     id,
		Source: filepath.Join(w.cfg.LandingZone, name),
		Dest:   dest,
	}, nil
}

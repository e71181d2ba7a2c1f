package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bihealth/omics-ingest/internal/illumina"
	"github.com/bihealth/omics-ingest/internal/model"
	"github.com/bihealth/omics-ingest/internal/storage"
)

// Metadata keys maintained on destination collections.
const (
	KeyFirstSeen  = "omics::ingest::first_seen"
	KeyLastUpdate = "omics::ingest::last_update"
	KeyStatus     = "omics::ingest::status"
)

// Job describes one run folder ingest: mirror Source into the Dest
// collection.
type Job struct {
	ID     model.JobID
	Source string
	Dest   storage.CollectionPath
}

// SyncOptions control how a sync is executed. The service always
// requests a synchronous, progress-reporting run.
type SyncOptions struct {
	Synchronous bool
	Progress    bool
}

// SyncStats summarizes a finished sync.
type SyncStats struct {
	Files    int
	Uploaded int
	Bytes    int64
}

// Collections is the remote collection store as the service needs it.
type Collections interface {
	Ensure(ctx context.Context, path storage.CollectionPath) error
	SetMeta(ctx context.Context, key, name, value string) error
	GetMeta(ctx context.Context, key, name string) (string, bool, error)
}

// Syncer mirrors a local directory into a destination collection.
type Syncer interface {
	Sync(ctx context.Context, src string, dest storage.CollectionPath, opts SyncOptions) (SyncStats, error)
}

// Finalizer verifies and seals a fully ingested run folder.
type Finalizer interface {
	Finalize(ctx context.Context, src string, dest storage.CollectionPath) error
}

// JobRunner executes ingest jobs. Implemented by Service; test doubles
// stand in for it in the watcher tests.
type JobRunner interface {
	Run(ctx context.Context, job Job) error
}

// Service orchestrates one ingest job: ensure the destination collection
// exists, sync the run folder into it, maintain lifecycle metadata, and
// finalize once the folder is done and at rest.
type Service struct {
	collections      Collections
	syncer           Syncer
	finalizer        Finalizer
	delayUntilAtRest time.Duration

	// Overridable in tests.
	isDone func(dir string) bool
	now    func() time.Time
}

func NewService(collections Collections, syncer Syncer, finalizer Finalizer, delayUntilAtRest time.Duration) *Service {
	return &Service{
		collections:      collections,
		syncer:           syncer,
		finalizer:        finalizer,
		delayUntilAtRest: delayUntilAtRest,
		isDone:           illumina.RunFolderDone,
		now:              time.Now,
	}
}

func (s *Service) Run(ctx context.Context, job Job) error {
	if err := job.ID.Validate(); err != nil {
		return err
	}

	slog.InfoContext(ctx, "ingest started", "job_id", job.ID, "source", job.Source, "dest", job.Dest.String())

	if err := s.collections.Ensure(ctx, job.Dest); err != nil {
		return fmt.Errorf("ensure collection %s: %w", job.Dest, err)
	}

	marker := job.Dest.MarkerKey()
	if _, ok, err := s.collections.GetMeta(ctx, marker, KeyFirstSeen); err != nil {
		return fmt.Errorf("read first-seen metadata: %w", err)
	} else if !ok {
		if err := s.collections.SetMeta(ctx, marker, KeyFirstSeen, s.now().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("set first-seen metadata: %w", err)
		}
	}
	if err := s.collections.SetMeta(ctx, marker, KeyStatus, string(model.StatusRunning)); err != nil {
		return fmt.Errorf("set status metadata: %w", err)
	}

	stats, err := s.syncer.Sync(ctx, job.Source, job.Dest, SyncOptions{Synchronous: true, Progress: true})
	if err != nil {
		return fmt.Errorf("sync %s into %s: %w", job.Source, job.Dest, err)
	}

	if stats.Uploaded > 0 {
		if err := s.collections.SetMeta(ctx, marker, KeyLastUpdate, s.now().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("set last-update metadata: %w", err)
		}
	}

	slog.InfoContext(ctx, "sync complete", "job_id", job.ID,
		"files", stats.Files, "uploaded", stats.Uploaded, "bytes", stats.Bytes)

	return s.maybeFinalize(ctx, job)
}

// maybeFinalize seals the run folder when the sequencer has marked it
// done and the destination saw no updates for the at-rest delay.
func (s *Service) maybeFinalize(ctx context.Context, job Job) error {
	if !s.isDone(job.Source) {
		slog.InfoContext(ctx, "run folder not marked as done, skipping finalization", "source", job.Source)
		return nil
	}

	marker := job.Dest.MarkerKey()
	value, ok, err := s.collections.GetMeta(ctx, marker, KeyLastUpdate)
	if err != nil {
		return fmt.Errorf("read last-update metadata: %w", err)
	}

	lastUpdate := s.now()
	if ok {
		lastUpdate, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return fmt.Errorf("parse last-update metadata %q: %w", value, err)
		}
	}

	age := s.now().Sub(lastUpdate)
	if age <= s.delayUntilAtRest {
		slog.InfoContext(ctx, "destination not yet at rest, skipping finalization",
			"dest", job.Dest.String(), "age", age.String(), "delay", s.delayUntilAtRest.String())
		return nil
	}

	slog.InfoContext(ctx, "finalizing run folder", "source", job.Source, "dest", job.Dest.String(), "age", age.String())
	if err := s.finalizer.Finalize(ctx, job.Source, job.Dest); err != nil {
		return fmt.Errorf("finalize %s: %w", job.Source, err)
	}

	if err := s.collections.SetMeta(ctx, marker, KeyStatus, string(model.StatusComplete)); err != nil {
		return fmt.Errorf("set status metadata: %w", err)
	}
	slog.InfoContext(ctx, "ingest complete", "job_id", job.ID, "dest", job.Dest.String())
	return nil
}

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bihealth/omics-ingest/internal/illumina"
	"github.com/bihealth/omics-ingest/internal/storage"
	"github.com/bihealth/omics-ingest/internal/taskqueue"
)

// Reserved object names at the collection root. They are produced by
// the ingest itself and never mirrored from the run folder.
const (
	ManifestLocalName  = "_MANIFEST_LOCAL.txt"
	ManifestRemoteName = "_MANIFEST_REMOTE.txt"
	RunParametersName  = "_RUN_PARAMETERS.txt"
)

func reservedName(rel string) bool {
	switch rel {
	case ManifestLocalName, ManifestRemoteName, RunParametersName:
		return true
	}
	return false
}

// ObjectStore is the object-level view of the remote collection store.
// Put records the caller-supplied MD5 checksum alongside the object so
// it stays retrievable for multipart uploads, whose ETag is not a
// content MD5.
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, checksum string) error
	Stat(ctx context.Context, key string) (storage.ObjectInfo, bool, error)
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	SetMeta(ctx context.Context, key, name, value string) error
}

// ObjectSyncer mirrors run folders into the collection store with
// put-sync semantics: new files are uploaded, existing files are
// re-uploaded when their size or checksum changed. Illumina metadata
// files encountered during the walk are parsed and applied as
// collection metadata.
type ObjectSyncer struct {
	store   ObjectStore
	workers int
}

func NewObjectSyncer(store ObjectStore, workers int) *ObjectSyncer {
	if workers < 1 {
		workers = 1
	}
	return &ObjectSyncer{store: store, workers: workers}
}

func (s *ObjectSyncer) Sync(ctx context.Context, src string, dest storage.CollectionPath, opts SyncOptions) (SyncStats, error) {
	if !opts.Synchronous {
		return SyncStats{}, fmt.Errorf("asynchronous sync requires a broker-backed engine")
	}

	files, err := listFiles(src)
	if err != nil {
		return SyncStats{}, err
	}

	var mu sync.Mutex
	stats := SyncStats{}

	queue := taskqueue.New(s.workers, false)
	for _, rel := range files {
		rel := rel
		queue.Push(func() error {
			uploaded, size, err := s.syncFile(ctx, src, rel, dest, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			stats.Files++
			if uploaded {
				stats.Uploaded++
				stats.Bytes += size
			}
			mu.Unlock()
			return nil
		})
	}
	if err := queue.Run(); err != nil {
		return stats, err
	}

	if err := s.applyRunFolderMeta(ctx, src, dest); err != nil {
		return stats, err
	}

	if opts.Progress {
		slog.InfoContext(ctx, "progress", "dest", dest.String(),
			"files", stats.Files, "uploaded", stats.Uploaded, "bytes", stats.Bytes)
	}
	return stats, nil
}

// syncFile uploads one file unless the destination already holds an
// object of the same size and checksum.
func (s *ObjectSyncer) syncFile(ctx context.Context, src, rel string, dest storage.CollectionPath, opts SyncOptions) (bool, int64, error) {
	path := filepath.Join(src, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return false, 0, fmt.Errorf("stat %s: %w", path, err)
	}

	key := dest.Key(rel)
	remote, exists, err := s.store.Stat(ctx, key)
	if err != nil {
		return false, 0, err
	}
	sum, err := fileMD5(path)
	if err != nil {
		return false, 0, err
	}
	if exists && remote.Size == info.Size() && sum == remote.Checksum {
		return false, 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := s.store.Put(ctx, key, f, info.Size(), sum); err != nil {
		return false, 0, err
	}
	if opts.Progress {
		slog.InfoContext(ctx, "uploaded", "key", key, "bytes", info.Size())
	}

	if illumina.IsNetcopyComplete(rel) {
		if err := s.applyNetcopyMeta(ctx, path, key); err != nil {
			slog.WarnContext(ctx, "could not apply netcopy metadata", "path", path, "error", err)
		}
	}
	return true, info.Size(), nil
}

// applyRunFolderMeta parses RunInfo.xml and RunParameters.xml from the
// run folder root and attaches the extracted metadata to the
// destination collection.
func (s *ObjectSyncer) applyRunFolderMeta(ctx context.Context, src string, dest storage.CollectionPath) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read run folder %s: %w", src, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(src, entry.Name())

		switch {
		case illumina.IsRunInfo(entry.Name()):
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			runInfo, err := illumina.ParseRunInfo(f)
			f.Close()
			if err != nil {
				return err
			}
			for name, value := range runInfo.Meta() {
				if err := s.store.SetMeta(ctx, dest.MarkerKey(), name, value); err != nil {
					return err
				}
			}
		case illumina.IsRunParameters(entry.Name()):
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			values, err := illumina.ParseRunParameters(f)
			f.Close()
			if err != nil {
				return err
			}
			body := formatRunParameters(values)
			if err := s.store.Put(ctx, dest.Key(RunParametersName), bytes.NewReader(body), int64(len(body)), bytesMD5(body)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ObjectSyncer) applyNetcopyMeta(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := illumina.ParseNetcopyComplete(f)
	if err != nil {
		return err
	}
	for name, value := range info.Meta() {
		if err := s.store.SetMeta(ctx, key, name, value); err != nil {
			return err
		}
	}
	return nil
}

// listFiles walks the run folder and returns slash-separated relative
// file paths, sorted for deterministic processing. Reserved names at
// the folder root are skipped.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if reservedName(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func formatRunParameters(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", key, values[key])
	}
	return buf.Bytes()
}

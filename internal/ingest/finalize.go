package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bihealth/omics-ingest/internal/storage"
)

// ManifestFinalizer seals a run folder: it verifies that the collection
// mirrors the folder exactly, uploads both manifests for auditing, and
// moves the folder into the ingested area next to the landing zone.
type ManifestFinalizer struct {
	store       ObjectStore
	hashWorkers int
}

func NewManifestFinalizer(store ObjectStore, hashWorkers int) *ManifestFinalizer {
	return &ManifestFinalizer{store: store, hashWorkers: hashWorkers}
}

func (f *ManifestFinalizer) Finalize(ctx context.Context, src string, dest storage.CollectionPath) error {
	local, err := LocalManifest(src, f.hashWorkers)
	if err != nil {
		return err
	}

	objects, err := f.store.List(ctx, dest.Prefix())
	if err != nil {
		return err
	}
	remote := RemoteManifest(objects, dest.Prefix())

	if err := Compare(local, remote); err != nil {
		return err
	}

	if err := f.putManifest(ctx, local, dest.Key(ManifestLocalName)); err != nil {
		return err
	}
	if err := f.putManifest(ctx, remote, dest.Key(ManifestRemoteName)); err != nil {
		return err
	}

	ingested := IngestedPath(src)
	slog.InfoContext(ctx, "moving run folder to ingested area", "from", src, "to", ingested)
	if err := os.MkdirAll(filepath.Dir(ingested), 0o755); err != nil {
		return fmt.Errorf("create ingested area: %w", err)
	}
	if err := os.Rename(src, ingested); err != nil {
		return fmt.Errorf("move run folder to ingested area: %w", err)
	}
	return nil
}

func (f *ManifestFinalizer) putManifest(ctx context.Context, m Manifest, key string) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return fmt.Errorf("encode manifest %s: %w", key, err)
	}
	if err := f.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), bytesMD5(buf.Bytes())); err != nil {
		return err
	}
	return nil
}

// IngestedPath converts a run folder path to its ingested location: a
// sibling of the landing zone named after it with an -INGESTED suffix.
func IngestedPath(src string) string {
	src = filepath.Clean(src)
	landing := filepath.Dir(src)
	ingestedBase := filepath.Join(filepath.Dir(landing), filepath.Base(landing)+"-INGESTED")
	return filepath.Join(ingestedBase, filepath.Base(src))
}

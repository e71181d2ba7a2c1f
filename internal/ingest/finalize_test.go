package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIngestedPath(t *testing.T) {
	got := IngestedPath(filepath.Join("/data", "landing", "200602_M06205_0009_000000000-CW9PR"))
	want := filepath.Join("/data", "landing-INGESTED", "200602_M06205_0009_000000000-CW9PR")
	if got != want {
		t.Fatalf("IngestedPath() = %s, want %s", got, want)
	}
}

func TestManifestFinalizer_Finalize(t *testing.T) {
	landing := filepath.Join(t.TempDir(), "landing")
	src := filepath.Join(landing, "200602_M06205_0009_000000000-CW9PR")
	files := map[string]string{
		"RunInfo.xml":  "<RunInfo/>",
		"Data/s_1.bcl": "base calls",
	}
	for rel, content := range files {
		path := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dest := testDest(t)
	store := newFakeStore()
	for rel, content := range files {
		store.objects[dest.Key(rel)] = []byte(content)
	}

	finalizer := NewManifestFinalizer(store, 2)
	if err := finalizer.Finalize(context.Background(), src, dest); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	local := string(store.objects[dest.Key(ManifestLocalName)])
	if !strings.Contains(local, ",./Data/s_1.bcl") || !strings.Contains(local, ",./RunInfo.xml") {
		t.Fatalf("unexpected local manifest:\n%s", local)
	}
	remote := string(store.objects[dest.Key(ManifestRemoteName)])
	if !strings.Contains(remote, ",./Data/s_1.bcl") {
		t.Fatalf("unexpected remote manifest:\n%s", remote)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("run folder should have been moved out of the landing zone")
	}
	moved := IngestedPath(src)
	if _, err := os.Stat(filepath.Join(moved, "RunInfo.xml")); err != nil {
		t.Fatalf("moved run folder incomplete: %v", err)
	}
}

func TestManifestFinalizer_MismatchAborts(t *testing.T) {
	landing := filepath.Join(t.TempDir(), "landing")
	src := filepath.Join(landing, "200602_M06205_0009_000000000-CW9PR")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "RunInfo.xml"), []byte("<RunInfo/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := testDest(t)
	store := newFakeStore()
	store.objects[dest.Key("RunInfo.xml")] = []byte("different content")

	finalizer := NewManifestFinalizer(store, 2)
	err := finalizer.Finalize(context.Background(), src, dest)
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, ok := err.(*ManifestMismatchError); !ok {
		t.Fatalf("expected ManifestMismatchError, got %T: %v", err, err)
	}

	if _, statErr := os.Stat(src); statErr != nil {
		t.Fatal("run folder must stay in place after failed finalization")
	}
	if _, ok := store.objects[dest.Key(ManifestLocalName)]; ok {
		t.Fatal("manifests must not be uploaded on mismatch")
	}
}

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type recordingRunner struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recordingRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func TestNewWatcher_ValidatesLandingZone(t *testing.T) {
	if _, err := NewWatcher(WatchConfig{LandingZone: "/no/such/dir", Zone: "z", Site: "s"}, &recordingRunner{}); err == nil {
		t.Fatal("expected error for missing landing zone")
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWatcher(WatchConfig{LandingZone: file, Zone: "z", Site: "s"}, &recordingRunner{}); err == nil {
		t.Fatal("expected error for non-directory landing zone")
	}
}

func TestWatcher_ScanEnqueuesRunFolders(t *testing.T) {
	landing := t.TempDir()
	for _, name := range []string{
		"200602_M06205_0009_000000000-CW9PR",
		"210101_A01234_0001_AHGGJ7DRXX",
		"not-a-run-folder",
		".hidden",
	} {
		if err := os.Mkdir(filepath.Join(landing, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// Plain files are ignored too.
	if err := os.WriteFile(filepath.Join(landing, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &recordingRunner{}
	watcher, err := NewWatcher(WatchConfig{
		LandingZone:    landing,
		Zone:           "omicsTestingZone",
		Site:           "test-site",
		RescanInterval: time.Minute,
	}, runner)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	watcher.scan(context.Background())

	if len(runner.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d: %+v", len(runner.jobs), runner.jobs)
	}

	var dests []string
	for _, job := range runner.jobs {
		if err := job.ID.Validate(); err != nil {
			t.Fatalf("job id invalid: %v", err)
		}
		dests = append(dests, job.Dest.String())
	}
	sort.Strings(dests)

	want := []string{
		"/omicsTestingZone/test-site/raw-data/2020/M06205/200602_M06205_0009_000000000-CW9PR",
		"/omicsTestingZone/test-site/raw-data/2021/A01234/210101_A01234_0001_AHGGJ7DRXX",
	}
	for i := range want {
		if dests[i] != want[i] {
			t.Fatalf("dest[%d] = %s, want %s", i, dests[i], want[i])
		}
	}
}

type concurrencyRunner struct {
	mu      sync.Mutex
	current int
	peak    int
	calls   int
}

func (r *concurrencyRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.current++
	r.calls++
	if r.current > r.peak {
		r.peak = r.current
	}
	r.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	r.mu.Lock()
	r.current--
	r.mu.Unlock()
	return nil
}

func TestWatcher_ScanBoundsConcurrentIngests(t *testing.T) {
	landing := t.TempDir()
	for _, name := range []string{
		"200602_M06205_0009_000000000-CW9PR",
		"200603_M06205_0010_000000000-AAAAA",
		"210101_A01234_0001_AHGGJ7DRXX",
		"210102_A01234_0002_AHGGJ7DRYY",
	} {
		if err := os.Mkdir(filepath.Join(landing, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	runner := &concurrencyRunner{}
	watcher, err := NewWatcher(WatchConfig{
		LandingZone:    landing,
		Zone:           "omicsTestingZone",
		Site:           "test-site",
		RescanInterval: time.Minute,
		Workers:        2,
	}, runner)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	watcher.scan(context.Background())

	if runner.calls != 4 {
		t.Fatalf("expected all 4 run folders ingested, got %d", runner.calls)
	}
	if runner.peak > 2 {
		t.Fatalf("peak concurrency = %d, exceeds the 2-worker bound", runner.peak)
	}
	if runner.peak < 2 {
		t.Fatalf("peak concurrency = %d, expected both workers busy", runner.peak)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	landing := t.TempDir()
	runner := &recordingRunner{}
	watcher, err := NewWatcher(WatchConfig{
		LandingZone:    landing,
		Zone:           "omicsTestingZone",
		Site:           "test-site",
		RescanInterval: time.Hour,
	}, runner)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

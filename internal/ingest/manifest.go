package ingest

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bihealth/omics-ingest/internal/storage"
	"github.com/bihealth/omics-ingest/internal/taskqueue"
)

// ManifestEntry records size and MD5 checksum for one file, keyed by
// its ./-prefixed path relative to the run folder.
type ManifestEntry struct {
	Size     int64
	Checksum string
	Path     string
}

// Manifest maps relative paths to their entries.
type Manifest map[string]ManifestEntry

// ManifestMismatchError reports differences between the local run
// folder and the destination collection.
type ManifestMismatchError struct {
	Problems []string
}

func (e *ManifestMismatchError) Error() string {
	return fmt.Sprintf("manifest mismatch:\n  %s", strings.Join(e.Problems, "\n  "))
}

// LocalManifest computes the manifest of a run folder, hashing files on
// a bounded number of workers.
func LocalManifest(root string, workers int) (Manifest, error) {
	files, err := listFiles(root)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	manifest := make(Manifest, len(files))

	queue := taskqueue.New(workers, true)
	for _, rel := range files {
		rel := rel
		queue.Push(func() error {
			path := filepath.Join(root, filepath.FromSlash(rel))
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			sum, err := fileMD5(path)
			if err != nil {
				return err
			}
			mu.Lock()
			manifest["./"+rel] = ManifestEntry{Size: info.Size(), Checksum: sum, Path: "./" + rel}
			mu.Unlock()
			return nil
		})
	}
	if err := queue.Run(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// RemoteManifest derives a manifest from an object listing. The store
// reports content MD5s: from the upload-time checksum tag for
// multipart objects, from the ETag otherwise. Reserved ingest objects
// are skipped.
func RemoteManifest(objects []storage.ObjectInfo, prefix string) Manifest {
	manifest := make(Manifest, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, prefix+"/")
		if rel == obj.Key || reservedName(rel) {
			continue
		}
		manifest["./"+rel] = ManifestEntry{Size: obj.Size, Checksum: obj.Checksum, Path: "./" + rel}
	}
	return manifest
}

// Compare checks that both manifests describe the same files with the
// same sizes and checksums. Extra entries on either side are reported,
// up to ten per side.
func Compare(local, remote Manifest) error {
	var problems []string

	shared := make([]string, 0, len(local))
	for path := range local {
		if _, ok := remote[path]; ok {
			shared = append(shared, path)
		}
	}
	sort.Strings(shared)

	for _, path := range shared {
		l, r := local[path], remote[path]
		if l.Size != r.Size {
			problems = append(problems, fmt.Sprintf("file size does not match %d vs %d for %s", l.Size, r.Size, path))
		}
		if l.Checksum != r.Checksum {
			problems = append(problems, fmt.Sprintf("file checksum does not match %s vs %s for %s", l.Checksum, r.Checksum, path))
		}
	}

	problems = append(problems, extraEntries(local, remote, "locally that are not in the collection")...)
	problems = append(problems, extraEntries(remote, local, "in the collection that are not present locally")...)

	if len(problems) > 0 {
		return &ManifestMismatchError{Problems: problems}
	}
	return nil
}

func extraEntries(left, right Manifest, where string) []string {
	var extra []string
	for path := range left {
		if _, ok := right[path]; !ok {
			extra = append(extra, path)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	shown := extra
	if len(shown) > 10 {
		shown = shown[:10]
	}
	return []string{fmt.Sprintf("%d items %s, up to 10 shown: %s", len(extra), where, strings.Join(shown, ", "))}
}

// Encode writes the manifest in hashdeep-compatible form: comment
// headers, then one size,md5,path line per file, sorted by path.
func (m Manifest) Encode(w io.Writer) error {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	if _, err := fmt.Fprintf(w, "%%%%%%%% HASHDEEP-1.0\n%%%%%%%% size,md5,filename\n"); err != nil {
		return err
	}
	for _, path := range paths {
		entry := m[path]
		if _, err := fmt.Fprintf(w, "%d,%s,%s\n", entry.Size, entry.Checksum, entry.Path); err != nil {
			return err
		}
	}
	return nil
}

// ParseManifest reads a manifest written by Encode (or hashdeep).
// Comment lines starting with % or # are skipped.
func ParseManifest(r io.Reader) (Manifest, error) {
	manifest := make(Manifest)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed manifest line %q", line)
		}
		size, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed manifest size in %q: %w", line, err)
		}
		manifest[parts[2]] = ManifestEntry{Size: size, Checksum: parts[1], Path: parts[2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return manifest, nil
}

func bytesMD5(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

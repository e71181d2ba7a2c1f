package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
)

// MinIOClient implements the remote collection store on top of MinIO.
// Collections are key prefixes inside a single bucket; each collection
// level is materialized as a zero-byte marker object so that metadata
// can be attached to it.
type MinIOClient struct {
	client *minio.Client
	bucket string
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // e.g., "localhost:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectInfo describes a stored object. Checksum is the MD5 of the
// object content: taken from the checksum tag recorded at upload time
// when the ETag is a multipart composite, from the ETag otherwise.
type ObjectInfo struct {
	Key      string
	Size     int64
	Checksum string
}

// checksumTag stores the whole-content MD5 on each uploaded object.
// Multipart uploads have a composite ETag, so the ETag alone cannot
// serve for change detection.
const checksumTag = "omics::ingest::md5"

// NewMinIOClient creates a new MinIO storage client and ensures the
// configured bucket exists.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOClient{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Ensure creates the collection hierarchy for the given path, one marker
// object per level. Levels that already exist are left untouched.
func (m *MinIOClient) Ensure(ctx context.Context, path CollectionPath) error {
	segments := strings.Split(path.Prefix(), "/")
	for i := range segments {
		marker := strings.Join(segments[:i+1], "/") + "/"

		_, err := m.client.StatObject(ctx, m.bucket, marker, minio.StatObjectOptions{})
		if err == nil {
			continue
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return &Error{Op: "ensure", Key: marker, Err: err}
		}

		_, err = m.client.PutObject(ctx, m.bucket, marker, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
		if err != nil {
			return &Error{Op: "ensure", Key: marker, Err: err}
		}
	}
	return nil
}

// Put stores an object under the given key. The caller-supplied MD5
// checksum is recorded as a tag so that change detection keeps working
// for objects large enough to be uploaded in multiple parts.
func (m *MinIOClient) Put(ctx context.Context, key string, reader io.Reader, size int64, checksum string) error {
	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	if checksum != "" {
		opts.UserTags = map[string]string{checksumTag: checksum}
	}
	if _, err := m.client.PutObject(ctx, m.bucket, key, reader, size, opts); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Stat reports the object stored under key. The second return value is
// false when no such object exists.
func (m *MinIOClient) Stat(ctx context.Context, key string) (ObjectInfo, bool, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, false, nil
		}
		return ObjectInfo{}, false, &Error{Op: "stat", Key: key, Err: err}
	}
	sum, err := m.checksumFor(ctx, key, strings.Trim(info.ETag, `"`))
	if err != nil {
		return ObjectInfo{}, false, err
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, Checksum: sum}, true, nil
}

// List returns all objects under the given key prefix, recursively.
// Collection marker objects (keys ending in "/") are skipped.
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var result []ObjectInfo
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, &Error{Op: "list", Key: prefix, Err: info.Err}
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		sum, err := m.checksumFor(ctx, info.Key, strings.Trim(info.ETag, `"`))
		if err != nil {
			return nil, err
		}
		result = append(result, ObjectInfo{Key: info.Key, Size: info.Size, Checksum: sum})
	}
	return result, nil
}

// isCompositeETag reports whether the ETag is a multipart composite
// (MD5 of the part MD5s with a part-count suffix) rather than the MD5
// of the object content.
func isCompositeETag(etag string) bool {
	return strings.Contains(etag, "-")
}

// checksumFor resolves the content MD5 of an object. Single-part
// uploads carry it in the ETag; multipart uploads fall back to the
// checksum tag recorded by Put.
func (m *MinIOClient) checksumFor(ctx context.Context, key, etag string) (string, error) {
	if !isCompositeETag(etag) {
		return etag, nil
	}
	existing, err := m.client.GetObjectTagging(ctx, m.bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return "", &Error{Op: "checksum", Key: key, Err: err}
	}
	if value, ok := existing.ToMap()[checksumTag]; ok {
		return value, nil
	}
	return etag, nil
}

// SetMeta sets a metadata tag on the object stored under key, keeping
// the other tags intact.
func (m *MinIOClient) SetMeta(ctx context.Context, key, name, value string) error {
	existing, err := m.client.GetObjectTagging(ctx, m.bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return &Error{Op: "set-meta", Key: key, Err: err}
	}

	merged := existing.ToMap()
	merged[name] = value
	updated, err := tags.NewTags(merged, true)
	if err != nil {
		return &Error{Op: "set-meta", Key: key, Err: err}
	}

	if err := m.client.PutObjectTagging(ctx, m.bucket, key, updated, minio.PutObjectTaggingOptions{}); err != nil {
		return &Error{Op: "set-meta", Key: key, Err: err}
	}
	return nil
}

// GetMeta reads a metadata tag from the object stored under key. The
// second return value is false when the tag is not set.
func (m *MinIOClient) GetMeta(ctx context.Context, key, name string) (string, bool, error) {
	existing, err := m.client.GetObjectTagging(ctx, m.bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return "", false, &Error{Op: "get-meta", Key: key, Err: err}
	}
	value, ok := existing.ToMap()[name]
	return value, ok, nil
}

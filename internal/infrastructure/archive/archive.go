package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
)

var (
	// ErrDisabled indicates archiving is disabled in config.
	ErrDisabled = errors.New("archive: disabled in configuration")

	// ErrUploadFailed indicates an object could not be stored.
	ErrUploadFailed = errors.New("archive: upload failed")
)

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads activity log batches.
type Archiver struct {
	store  objectStore
	bucket string
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	latest map[string]string // hexID -> newest archived entry date
}

// New connects to the object store described by cfg.
func New(cfg config.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: creating client: %w", err)
	}
	return newArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchiver(store objectStore, bucket, prefix string) *Archiver {
	return &Archiver{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		latest: make(map[string]string),
	}
}

// EnsureBucket creates the bucket when it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: checking bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("archive: creating bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ArchiveLogs uploads the entries of logs newer than the previous upload
// for the same device. Entries carry an RFC 3339 "date"; logs arrive
// newest first.
func (a *Archiver) ArchiveLogs(ctx context.Context, hexID string, logs []map[string]any) error {
	a.mu.Lock()
	since := a.latest[hexID]
	a.mu.Unlock()

	fresh := newerThan(logs, since)
	if len(fresh) == 0 {
		return nil
	}

	body, err := json.Marshal(fresh)
	if err != nil {
		return fmt.Errorf("archive: encoding logs for %s: %w", hexID, err)
	}
	now := a.now().UTC()
	name := BuildObjectPath(a.prefix, now, fmt.Sprintf("%s-%d.json", hexID, now.Unix()))

	if _, err := a.store.PutObject(ctx, a.bucket, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFailed, name, err)
	}

	if d, ok := fresh[0]["date"].(string); ok {
		a.mu.Lock()
		if d > a.latest[hexID] {
			a.latest[hexID] = d
		}
		a.mu.Unlock()
	}
	return nil
}

// newerThan returns the leading entries dated after since. Entries without
// a date are always kept.
func newerThan(logs []map[string]any, since string) []map[string]any {
	if since == "" {
		return logs
	}
	out := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		d, ok := entry["date"].(string)
		if ok && d <= since {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// BuildObjectPath builds a Hive-style date-partitioned object key.
func BuildObjectPath(prefix string, t time.Time, filename string) string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s",
		prefix, t.Year(), int(t.Month()), t.Day(), filename)
}

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
)

type putCall struct {
	bucket string
	object string
	body   []byte
	ctype  string
}

type fakeStore struct {
	exists bool
	made   []string
	puts   []putCall
	putErr error
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, object string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	b, _ := io.ReadAll(r)
	f.puts = append(f.puts, putCall{bucket: bucket, object: object, body: b, ctype: opts.ContentType})
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(b))}, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
}

func TestNew_Disabled(t *testing.T) {
	if _, err := New(config.ArchiveConfig{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("New(disabled) error = %v", err)
	}
}

func TestBuildObjectPath(t *testing.T) {
	got := BuildObjectPath("activity", fixedNow(), "0a1b2c3d-1.json")
	want := "activity/year=2026/month=03/day=01/0a1b2c3d-1.json"
	if got != want {
		t.Errorf("BuildObjectPath() = %q, want %q", got, want)
	}
}

func TestEnsureBucket(t *testing.T) {
	store := &fakeStore{}
	a := newArchiver(store, "nuki-logs", "activity")
	if err := a.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket() error: %v", err)
	}
	if len(store.made) != 1 || store.made[0] != "nuki-logs" {
		t.Errorf("made = %v", store.made)
	}

	store = &fakeStore{exists: true}
	a = newArchiver(store, "nuki-logs", "activity")
	_ = a.EnsureBucket(context.Background())
	if len(store.made) != 0 {
		t.Errorf("existing bucket recreated: %v", store.made)
	}
}

func TestArchiveLogs_OnlyNewEntries(t *testing.T) {
	store := &fakeStore{}
	a := newArchiver(store, "nuki-logs", "activity")
	a.now = fixedNow
	ctx := context.Background()

	first := []map[string]any{
		{"id": "b", "date": "2026-03-01T10:00:00.000Z", "action": float64(2)},
		{"id": "a", "date": "2026-03-01T09:00:00.000Z", "action": float64(1)},
	}
	if err := a.ArchiveLogs(ctx, "0a1b2c3d", first); err != nil {
		t.Fatalf("ArchiveLogs() error: %v", err)
	}
	if len(store.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(store.puts))
	}
	put := store.puts[0]
	if put.object != "activity/year=2026/month=03/day=01/0a1b2c3d-1772368200.json" {
		t.Errorf("object = %s", put.object)
	}
	if put.ctype != "application/json" {
		t.Errorf("content type = %s", put.ctype)
	}

	// Unchanged log: nothing to upload.
	if err := a.ArchiveLogs(ctx, "0a1b2c3d", first); err != nil {
		t.Fatalf("ArchiveLogs() error: %v", err)
	}
	if len(store.puts) != 1 {
		t.Errorf("puts = %d after unchanged log, want 1", len(store.puts))
	}

	second := append([]map[string]any{
		{"id": "c", "date": "2026-03-01T11:00:00.000Z", "action": float64(1)},
	}, first...)
	_ = a.ArchiveLogs(ctx, "0a1b2c3d", second)
	if len(store.puts) != 2 {
		t.Fatalf("puts = %d, want 2", len(store.puts))
	}
	var uploaded []map[string]any
	if err := json.Unmarshal(store.puts[1].body, &uploaded); err != nil {
		t.Fatalf("decoding upload: %v", err)
	}
	if len(uploaded) != 1 || uploaded[0]["id"] != "c" {
		t.Errorf("uploaded = %v", uploaded)
	}
}

func TestArchiveLogs_UploadErrorKeepsWatermark(t *testing.T) {
	store := &fakeStore{putErr: errors.New("no route")}
	a := newArchiver(store, "nuki-logs", "activity")
	logs := []map[string]any{{"id": "a", "date": "2026-03-01T09:00:00.000Z"}}

	if err := a.ArchiveLogs(context.Background(), "0a1b2c3d", logs); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("ArchiveLogs() error = %v, want ErrUploadFailed", err)
	}

	store.putErr = nil
	_ = a.ArchiveLogs(context.Background(), "0a1b2c3d", logs)
	if len(store.puts) != 1 {
		t.Errorf("puts = %d, want retry upload", len(store.puts))
	}
}

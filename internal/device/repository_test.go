package device

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/nuki-gateway/internal/nuki"
)

// setupTestDB creates an in-memory SQLite database with the registry schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "20260301_120000_devices.up.sql"))
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(hexNum uint32, name string) *Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &Record{
		Identity:    nuki.IdentityFromNumeric(hexNum),
		DeviceType:  nuki.DeviceTypeOpener,
		Kind:        nuki.KindOpener,
		Name:        name,
		Path:        "openers." + Slugify(name),
		SmartlockID: 0x200000000 | uint64(hexNum),
		Fields:      Fragment{"state.lockState": float64(1)},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSQLiteRepository_CreateList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord(0xabc, "Side Gate")
	rec.BridgeID = "12345"
	lock := 3
	rec.LockState = &lock
	rec.Config = map[string]any{"name": "Side Gate"}

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate Create() err = %v, want ErrDeviceExists", err)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() returned %d records", len(records))
	}
	got := records[0]
	if got.HexID() != "00000abc" || got.Identity.NumericID != 0xabc {
		t.Errorf("identity = %+v", got.Identity)
	}
	if got.Kind != nuki.KindOpener || got.Path != "openers.side_gate" {
		t.Errorf("kind/path = %v/%q", got.Kind, got.Path)
	}
	if got.LockState == nil || *got.LockState != 3 || got.BridgeID != "12345" {
		t.Errorf("lock/bridge = %v/%q", got.LockState, got.BridgeID)
	}
	if got.Config["name"] != "Side Gate" || got.Fields["state.lockState"] != float64(1) {
		t.Errorf("config/fields = %v/%v", got.Config, got.Fields)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord(1, "Door")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	changed := time.Now().UTC().Truncate(time.Second)
	rec.Fields["state.batteryCritical"] = false
	rec.LastStateChange = &changed
	if err := repo.Update(ctx, rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	records, _ := repo.List(ctx)
	if records[0].Fields["state.batteryCritical"] != false {
		t.Errorf("fields = %v", records[0].Fields)
	}
	if records[0].LastStateChange == nil || !records[0].LastStateChange.Equal(changed) {
		t.Errorf("LastStateChange = %v, want %v", records[0].LastStateChange, changed)
	}

	if err := repo.Update(ctx, testRecord(2, "Other")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() of unknown err = %v", err)
	}
}

func TestSQLiteRepository_Bridges(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	b := &Bridge{Key: "10.0.0.5:8080", Name: "Hall", Token: "secret"}
	if err := repo.SaveBridge(ctx, b); err != nil {
		t.Fatalf("SaveBridge() error: %v", err)
	}
	b.ID = "777"
	b.Callbacks = []Callback{{ID: 0, URL: "http://10.0.0.2:51989/nuki-api-bridge"}}
	if err := repo.SaveBridge(ctx, b); err != nil {
		t.Fatalf("SaveBridge() upsert error: %v", err)
	}

	bridges, err := repo.ListBridges(ctx)
	if err != nil {
		t.Fatalf("ListBridges() error: %v", err)
	}
	if len(bridges) != 1 || bridges[0].ID != "777" || len(bridges[0].Callbacks) != 1 {
		t.Errorf("bridges = %+v", bridges)
	}
	if bridges[0].Token != "" {
		t.Error("token must not be persisted")
	}
}

func TestRegistryOverSQLite(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	reg := NewRegistry(repo, repo)
	ctx := context.Background()

	rec, _, err := reg.CreateOrGet(ctx, nuki.IdentityFromNumeric(0x1a2b3c4d), intPtr(0), "Front Door")
	if err != nil {
		t.Fatalf("CreateOrGet() error: %v", err)
	}
	if _, err := reg.Merge(ctx, rec.HexID(), Patch{Fields: Fragment{"state.locked": true}}); err != nil {
		t.Fatalf("Merge() error: %v", err)
	}

	fresh := NewRegistry(repo, repo)
	if err := fresh.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error: %v", err)
	}
	got, err := fresh.Resolve("1a2b3c4d")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got.Path != "smartlocks.front_door" || got.Fields["state.locked"] != true {
		t.Errorf("restored record = %+v", got)
	}
}

package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/nuki"
)

// Repository defines device record persistence.
type Repository interface {
	// List returns every persisted record.
	List(ctx context.Context) ([]Record, error)

	// Create inserts a new record.
	// Returns ErrDeviceExists if the hex ID is already stored.
	Create(ctx context.Context, rec *Record) error

	// Update replaces a stored record.
	// Returns ErrDeviceNotFound if the hex ID is not stored.
	Update(ctx context.Context, rec *Record) error
}

// BridgeRepository defines bridge record persistence.
type BridgeRepository interface {
	ListBridges(ctx context.Context) ([]Bridge, error)
	SaveBridge(ctx context.Context, b *Bridge) error
}

// SQLiteRepository implements Repository and BridgeRepository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every device record ordered by path.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT hex_id, numeric_id, device_type, name, path, smartlock_id, bridge_id,
			lock_state, config, advanced_config, opener_advanced_config, fields,
			last_state_change, created_at, updated_at
		FROM devices
		ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

// Create inserts a new device record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	cols, err := recordColumns(rec)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (
			hex_id, numeric_id, device_type, name, path, smartlock_id, bridge_id,
			lock_state, config, advanced_config, opener_advanced_config, fields,
			last_state_change, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cols...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of a device record.
func (r *SQLiteRepository) Update(ctx context.Context, rec *Record) error {
	cols, err := recordColumns(rec)
	if err != nil {
		return err
	}

	// hex_id moves to the WHERE clause; path and created_at are immutable.
	args := []any{cols[1], cols[2], cols[3], cols[5], cols[6], cols[7], cols[8], cols[9], cols[10], cols[11], cols[12], cols[14], cols[0]}
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			numeric_id = ?, device_type = ?, name = ?, smartlock_id = ?, bridge_id = ?,
			lock_state = ?, config = ?, advanced_config = ?, opener_advanced_config = ?,
			fields = ?, last_state_change = ?, updated_at = ?
		WHERE hex_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ListBridges returns every persisted bridge record.
func (r *SQLiteRepository) ListBridges(ctx context.Context) ([]Bridge, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, bridge_id, name, callbacks FROM bridges ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying bridges: %w", err)
	}
	defer rows.Close()

	var bridges []Bridge
	for rows.Next() {
		var b Bridge
		var id sql.NullString
		var callbacksJSON string
		if err := rows.Scan(&b.Key, &id, &b.Name, &callbacksJSON); err != nil {
			return nil, fmt.Errorf("scanning bridge: %w", err)
		}
		b.ID = id.String
		if err := json.Unmarshal([]byte(callbacksJSON), &b.Callbacks); err != nil {
			return nil, fmt.Errorf("unmarshalling bridge callbacks: %w", err)
		}
		bridges = append(bridges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bridges: %w", err)
	}
	return bridges, nil
}

// SaveBridge inserts or replaces a bridge record. The token is never stored.
func (r *SQLiteRepository) SaveBridge(ctx context.Context, b *Bridge) error {
	callbacks := b.Callbacks
	if callbacks == nil {
		callbacks = []Callback{}
	}
	callbacksJSON, err := json.Marshal(callbacks)
	if err != nil {
		return fmt.Errorf("marshalling bridge callbacks: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bridges (key, bridge_id, name, callbacks, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			bridge_id = excluded.bridge_id,
			name = excluded.name,
			callbacks = excluded.callbacks,
			updated_at = excluded.updated_at`,
		b.Key, nullableString(b.ID), b.Name, string(callbacksJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving bridge: %w", err)
	}
	return nil
}

// recordColumns renders a record in INSERT column order.
func recordColumns(rec *Record) ([]any, error) {
	config, err := marshalMap(rec.Config)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}
	advanced, err := marshalMap(rec.AdvancedConfig)
	if err != nil {
		return nil, fmt.Errorf("marshalling advanced config: %w", err)
	}
	opener, err := marshalMap(rec.OpenerAdvancedConfig)
	if err != nil {
		return nil, fmt.Errorf("marshalling opener config: %w", err)
	}
	fields, err := marshalMap(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshalling fields: %w", err)
	}

	var lockState sql.NullInt64
	if rec.LockState != nil {
		lockState = sql.NullInt64{Int64: int64(*rec.LockState), Valid: true}
	}

	return []any{
		rec.Identity.HexID,
		int64(rec.Identity.NumericID),
		rec.DeviceType,
		rec.Name,
		rec.Path,
		int64(rec.SmartlockID), //nolint:gosec // composite IDs fit in 36 bits
		nullableString(rec.BridgeID),
		lockState,
		config,
		advanced,
		opener,
		fields,
		nullableTime(rec.LastStateChange),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var numericID, smartlockID int64
	var bridgeID, lastChange sql.NullString
	var lockState sql.NullInt64
	var configJSON, advancedJSON, openerJSON, fieldsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rec.Identity.HexID, &numericID, &rec.DeviceType, &rec.Name, &rec.Path,
		&smartlockID, &bridgeID, &lockState, &configJSON, &advancedJSON, &openerJSON,
		&fieldsJSON, &lastChange, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Identity.NumericID = uint32(numericID) //nolint:gosec // stored from a uint32
	rec.SmartlockID = uint64(smartlockID)      //nolint:gosec // stored from a uint64
	rec.BridgeID = bridgeID.String
	if lockState.Valid {
		v := int(lockState.Int64)
		rec.LockState = &v
	}

	// A stored record with an unknown discriminant keeps KindUnknown and
	// is skipped by the dispatcher.
	rec.Kind, _ = nuki.KindFromDiscriminant(rec.DeviceType) //nolint:errcheck // see above

	if rec.Config, err = unmarshalMap(configJSON); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if rec.AdvancedConfig, err = unmarshalMap(advancedJSON); err != nil {
		return nil, fmt.Errorf("unmarshalling advanced config: %w", err)
	}
	if rec.OpenerAdvancedConfig, err = unmarshalMap(openerJSON); err != nil {
		return nil, fmt.Errorf("unmarshalling opener config: %w", err)
	}
	fields, err := unmarshalMap(fieldsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling fields: %w", err)
	}
	rec.Fields = Fragment(fields)
	if rec.Fields == nil {
		rec.Fields = Fragment{}
	}

	if lastChange.Valid {
		t, err := time.Parse(time.RFC3339, lastChange.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_state_change: %w", err)
		}
		rec.LastStateChange = &t
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

func marshalMap[M ~map[string]any](m M) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists nodes in the states table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a persister over an open database with
// migrations applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns every persisted node.
func (s *SQLiteStore) Load(ctx context.Context) ([]Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, type, role, name, unit, writable, value, ack, updated_at
		FROM states`)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	var out []Value
	for rows.Next() {
		var v Value
		var typ, updatedAt string
		var writable, ack int
		var raw sql.NullString
		if err := rows.Scan(&v.Path, &typ, &v.Meta.Role, &v.Meta.Name, &v.Meta.Unit,
			&writable, &raw, &ack, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		v.Meta.Type = Type(typ)
		v.Meta.Writable = writable == 1
		v.Ack = ack == 1
		if raw.Valid {
			if err := json.Unmarshal([]byte(raw.String), &v.Val); err != nil {
				return nil, fmt.Errorf("decoding state %s: %w", v.Path, err)
			}
		}
		if v.Time, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing state time %s: %w", v.Path, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating states: %w", err)
	}
	return out, nil
}

// Save upserts one node.
func (s *SQLiteStore) Save(ctx context.Context, v Value) error {
	var raw sql.NullString
	if v.Val != nil {
		b, err := json.Marshal(v.Val)
		if err != nil {
			return fmt.Errorf("encoding state %s: %w", v.Path, err)
		}
		raw = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO states (path, type, role, name, unit, writable, value, ack, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			value = excluded.value,
			ack = excluded.ack,
			updated_at = excluded.updated_at`,
		v.Path, string(v.Meta.Type), v.Meta.Role, v.Meta.Name, v.Meta.Unit,
		boolToInt(v.Meta.Writable), raw, boolToInt(v.Ack), v.Time.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving state %s: %w", v.Path, err)
	}
	return nil
}

// Remove deletes one node, or a subtree when recursive.
func (s *SQLiteStore) Remove(ctx context.Context, p string, recursive bool) error {
	var err error
	if recursive {
		_, err = s.db.ExecContext(ctx, `DELETE FROM states WHERE path = ? OR path LIKE ? ESCAPE '\'`,
			p, escapeLike(p)+".%")
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM states WHERE path = ?`, p)
	}
	if err != nil {
		return fmt.Errorf("removing state %s: %w", p, err)
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

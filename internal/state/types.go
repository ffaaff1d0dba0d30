package state

import (
	"context"
	"time"
)

// Type is the value type of a node.
type Type string

const (
	TypeBoolean Type = "boolean"
	TypeNumber  Type = "number"
	TypeString  Type = "string"
	TypeJSON    Type = "json"
	// TypeChannel marks a grouping node without a value of its own.
	TypeChannel Type = "channel"
	// TypeMixed accepts any scalar; used for unknown vendor fields.
	TypeMixed Type = "mixed"
)

// Meta describes a node.
type Meta struct {
	Type     Type   `json:"type"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Writable bool   `json:"writable"`
}

// Value is a node snapshot.
type Value struct {
	Path string    `json:"path"`
	Val  any       `json:"val"`
	Ack  bool      `json:"ack"`
	Time time.Time `json:"ts"`
	Meta Meta      `json:"meta"`
}

// Change is delivered to subscribers after a write or delete.
type Change struct {
	Path    string
	Val     any
	Ack     bool
	Time    time.Time
	Meta    Meta
	Deleted bool
}

// Handler receives changes. It runs on the writer's goroutine and must not
// block; long work belongs on its own goroutine.
type Handler func(ctx context.Context, c Change)

// Store is the state store used by the gateway core.
type Store interface {
	// Set writes an acknowledged value. meta is applied when the node is
	// created and ignored afterwards; nil creates a TypeMixed node.
	Set(ctx context.Context, path string, val any, meta *Meta) error

	// Command writes an unacknowledged value to an existing writable node.
	Command(ctx context.Context, path string, val any) error

	// Get returns a node snapshot.
	Get(path string) (Value, bool)

	// List returns every node at or below prefix, ordered by path.
	List(prefix string) []Value

	// Delete removes a node, or with recursive also every node below it.
	Delete(ctx context.Context, path string, recursive bool) error

	// Subscribe registers a handler for paths matching a glob pattern
	// (path.Match syntax, where '*' also spans dots). It returns an
	// unsubscribe function.
	Subscribe(pattern string, h Handler) (unsubscribe func())
}

// Persister stores nodes durably.
type Persister interface {
	Load(ctx context.Context) ([]Value, error)
	Save(ctx context.Context, v Value) error
	Remove(ctx context.Context, path string, recursive bool) error
}

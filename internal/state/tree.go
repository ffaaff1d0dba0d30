package state

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger is the logging interface used by the Tree.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscription struct {
	pattern string
	handler Handler
}

// Tree is an in-memory Store.
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]*Value

	subsMu sync.RWMutex
	subs   map[int]subscription
	nextID int

	persister Persister
	logger    Logger
	now       func() time.Time
}

// NewTree creates an empty tree. persister may be nil.
func NewTree(persister Persister) *Tree {
	return &Tree{
		nodes:     make(map[string]*Value),
		subs:      make(map[int]subscription),
		persister: persister,
		logger:    noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger.
func (t *Tree) SetLogger(l Logger) {
	t.logger = l
}

// Restore loads persisted nodes without notifying subscribers.
func (t *Tree) Restore(ctx context.Context) error {
	if t.persister == nil {
		return nil
	}
	values, err := t.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range values {
		v := values[i]
		t.nodes[v.Path] = &v
	}
	return nil
}

// Set implements Store.
func (t *Tree) Set(ctx context.Context, p string, val any, meta *Meta) error {
	if err := validatePath(p); err != nil {
		return err
	}
	return t.write(ctx, p, val, true, meta)
}

// Command implements Store.
func (t *Tree) Command(ctx context.Context, p string, val any) error {
	t.mu.RLock()
	node, ok := t.nodes[p]
	var meta Meta
	if ok {
		meta = node.Meta
	}
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if !meta.Writable {
		return fmt.Errorf("%w: %s", ErrNotWritable, p)
	}
	coerced, err := Coerce(meta.Type, val)
	if err != nil {
		return fmt.Errorf("%w: %s", err, p)
	}
	return t.write(ctx, p, coerced, false, nil)
}

func (t *Tree) write(ctx context.Context, p string, val any, ack bool, meta *Meta) error {
	now := t.now()

	t.mu.Lock()
	node, ok := t.nodes[p]
	if !ok {
		m := Meta{Type: TypeMixed}
		if meta != nil {
			m = *meta
		}
		node = &Value{Path: p, Meta: m}
		t.nodes[p] = node
	}
	node.Val = val
	node.Ack = ack
	node.Time = now
	snapshot := *node
	t.mu.Unlock()

	if t.persister != nil {
		if err := t.persister.Save(ctx, snapshot); err != nil {
			t.logger.Error("persisting state failed", "path", p, "error", err)
		}
	}

	t.notify(ctx, Change{Path: p, Val: val, Ack: ack, Time: now, Meta: snapshot.Meta})
	return nil
}

// Get implements Store.
func (t *Tree) Get(p string) (Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[p]
	if !ok {
		return Value{}, false
	}
	return *node, true
}

// List implements Store. An empty prefix lists everything.
func (t *Tree) List(prefix string) []Value {
	t.mu.RLock()
	out := make([]Value, 0)
	for p, node := range t.nodes {
		if prefix == "" || p == prefix || strings.HasPrefix(p, prefix+".") {
			out = append(out, *node)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Delete implements Store.
func (t *Tree) Delete(ctx context.Context, p string, recursive bool) error {
	t.mu.Lock()
	var removed []Value
	for key, node := range t.nodes {
		if key == p || (recursive && strings.HasPrefix(key, p+".")) {
			removed = append(removed, *node)
			delete(t.nodes, key)
		}
	}
	t.mu.Unlock()

	if len(removed) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	if t.persister != nil {
		if err := t.persister.Remove(ctx, p, recursive); err != nil {
			t.logger.Error("removing persisted state failed", "path", p, "error", err)
		}
	}

	now := t.now()
	for _, v := range removed {
		t.notify(ctx, Change{Path: v.Path, Time: now, Meta: v.Meta, Deleted: true})
	}
	return nil
}

// Subscribe implements Store.
func (t *Tree) Subscribe(pattern string, h Handler) func() {
	t.subsMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = subscription{pattern: pattern, handler: h}
	t.subsMu.Unlock()

	return func() {
		t.subsMu.Lock()
		delete(t.subs, id)
		t.subsMu.Unlock()
	}
}

func (t *Tree) notify(ctx context.Context, c Change) {
	t.subsMu.RLock()
	var handlers []Handler
	for _, s := range t.subs {
		if Match(s.pattern, c.Path) {
			handlers = append(handlers, s.handler)
		}
	}
	t.subsMu.RUnlock()

	for _, h := range handlers {
		t.safeCall(ctx, h, c)
	}
}

func (t *Tree) safeCall(ctx context.Context, h Handler, c Change) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("state handler panic recovered", "path", c.Path, "panic", r)
		}
	}()
	h(ctx, c)
}

// Match reports whether p matches a subscription pattern.
func Match(pattern, p string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, p)
	return err == nil && ok
}

func validatePath(p string) error {
	if p == "" {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return nil
}

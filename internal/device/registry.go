package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/nuki"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps device identity to its record and owns path allocation.
//
// Records are created on first sighting and never removed while the
// process runs. All public methods are safe for concurrent use and return
// deep copies.
type Registry struct {
	repo       Repository
	bridgeRepo BridgeRepository

	cache   map[string]*Record // by hex ID
	paths   map[string]string  // path → hex ID
	bridges map[string]*Bridge // by key
	cacheMu sync.RWMutex

	// createMu serialises check-allocate-persist for new records.
	createMu sync.Mutex
	// mergeMu serialises read-modify-write of existing records.
	mergeMu sync.Mutex

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry over the given repositories.
func NewRegistry(repo Repository, bridgeRepo BridgeRepository) *Registry {
	return &Registry{
		repo:       repo,
		bridgeRepo: bridgeRepo,
		cache:      make(map[string]*Record),
		paths:      make(map[string]string),
		bridges:    make(map[string]*Bridge),
		logger:     noopLogger{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all device records from the repository.
// Called once on startup so paths survive restarts.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	r.paths = make(map[string]string, len(records))
	for i := range records {
		rec := records[i].DeepCopy()
		r.cache[rec.Identity.HexID] = rec
		r.paths[rec.Path] = rec.Identity.HexID
	}

	r.logger.Info("device cache refreshed", "count", len(records))
	return nil
}

// Resolve returns the record for a hex ID.
// Returns ErrDeviceNotFound if the device has not been discovered.
func (r *Registry) Resolve(hexID string) (*Record, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rec, ok := r.cache[hexID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, hexID)
	}
	return rec.DeepCopy(), nil
}

// ByPath returns the record owning a device channel path.
func (r *Registry) ByPath(path string) (*Record, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	hex, ok := r.paths[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	}
	return r.cache[hex].DeepCopy(), nil
}

// List returns all records ordered by path.
func (r *Registry) List() []Record {
	r.cacheMu.RLock()
	out := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		out = append(out, *rec.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// CreateOrGet returns the record for an identity, creating it on first
// sighting. The bool result is true when a record was created.
//
// Creation requires a name and a known device type; without them
// ErrIncompleteDiscovery is returned and nothing is stored. Concurrent
// first sightings of the same device create exactly one record.
func (r *Registry) CreateOrGet(ctx context.Context, id nuki.Identity, deviceType *int, name string) (*Record, bool, error) {
	if rec, err := r.Resolve(id.HexID); err == nil {
		return rec, false, nil
	}

	if name == "" || deviceType == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrIncompleteDiscovery, id.HexID)
	}
	kind, err := nuki.KindFromDiscriminant(*deviceType)
	if err != nil {
		return nil, false, err
	}
	smartlockID, err := nuki.CompositeID(*deviceType, id.HexID)
	if err != nil {
		return nil, false, err
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if rec, err := r.Resolve(id.HexID); err == nil {
		return rec, false, nil
	}

	now := r.now()
	rec := &Record{
		Identity:    id,
		DeviceType:  *deviceType,
		Kind:        kind,
		Name:        name,
		Path:        r.allocatePath(kind, name, id.HexID),
		SmartlockID: smartlockID,
		Fields:      Fragment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.repo.Create(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("persisting device %s: %w", id.HexID, err)
	}

	r.cacheMu.Lock()
	r.cache[id.HexID] = rec.DeepCopy()
	r.paths[rec.Path] = id.HexID
	r.cacheMu.Unlock()

	r.logger.Info("device discovered", "hex_id", id.HexID, "name", name, "kind", kind.String(), "path", rec.Path)
	return rec, true, nil
}

// allocatePath derives a unique channel path. Caller holds createMu.
func (r *Registry) allocatePath(kind nuki.Kind, name, hexID string) string {
	slug := Slugify(name)
	if slug == "" {
		slug = hexID
	}
	path := kind.Plural() + "." + slug

	r.cacheMu.RLock()
	_, taken := r.paths[path]
	r.cacheMu.RUnlock()

	if taken {
		path += "_" + hexID
	}
	return path
}

// Merge applies a patch to a record and returns the subset of patch
// fields whose value changed. Applying the same patch twice returns an
// empty fragment the second time. Lock state edges are decided here, under
// the merge lock, so concurrent sources record one change per transition.
func (r *Registry) Merge(ctx context.Context, hexID string, p Patch) (Fragment, error) {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()

	current, err := r.Resolve(hexID)
	if err != nil {
		return nil, err
	}

	next := current.DeepCopy()
	if next.Fields == nil {
		next.Fields = Fragment{}
	}
	applied := Fragment{}
	for k, v := range p.Fields {
		if old, ok := next.Fields[k]; ok && ValuesEqual(old, v) {
			continue
		}
		next.Fields[k] = deepCopyValue(v)
		applied[k] = v
	}

	dirty := len(applied) > 0
	if p.BridgeID != "" && p.BridgeID != next.BridgeID {
		next.BridgeID = p.BridgeID
		dirty = true
	}
	edge := p.LockState != nil && (next.LockState == nil || *next.LockState != *p.LockState)
	if edge {
		v := *p.LockState
		next.LockState = &v
		dirty = true
	}
	if p.LastStateChange != nil && (edge || p.LockState == nil) {
		t := *p.LastStateChange
		next.LastStateChange = &t
		dirty = true
		if edge && p.StateChangeField != "" {
			ms := float64(t.UnixMilli())
			next.Fields[p.StateChangeField] = ms
			applied[p.StateChangeField] = ms
		}
	}
	dirty = mergeBlock(&next.Config, p.Config) || dirty
	dirty = mergeBlock(&next.AdvancedConfig, p.AdvancedConfig) || dirty
	dirty = mergeBlock(&next.OpenerAdvancedConfig, p.OpenerAdvancedConfig) || dirty

	if !dirty {
		return applied, nil
	}

	next.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting device %s: %w", hexID, err)
	}

	r.cacheMu.Lock()
	r.cache[hexID] = next
	r.cacheMu.Unlock()

	return applied, nil
}

// mergeBlock merges src into *dst key by key and reports whether anything changed.
func mergeBlock(dst *map[string]any, src map[string]any) bool {
	if len(src) == 0 {
		return false
	}
	if *dst == nil {
		*dst = make(map[string]any, len(src))
	}
	changed := false
	for k, v := range src {
		if old, ok := (*dst)[k]; ok && ValuesEqual(old, v) {
			continue
		}
		(*dst)[k] = deepCopyValue(v)
		changed = true
	}
	return changed
}

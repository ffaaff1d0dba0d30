package device

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
)

// BridgeKey is the registry key of a configured bridge.
func BridgeKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// RegisterBridge adds a configured bridge to the registry. A vendor ID
// previously backfilled and persisted is restored when the configuration
// leaves it empty.
func (r *Registry) RegisterBridge(ctx context.Context, b Bridge) (*Bridge, error) {
	if b.Key == "" {
		b.Key = BridgeKey(b.Host, b.Port)
	}
	if b.Path == "" {
		slug := Slugify(b.Name)
		if slug == "" {
			slug = Slugify(b.Host)
		}
		b.Path = "bridges." + slug
	}

	stored, err := r.bridgeRepo.ListBridges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading bridges: %w", err)
	}
	for _, s := range stored {
		if s.Key != b.Key {
			continue
		}
		if b.ID == "" {
			b.ID = s.ID
		}
		if b.Callbacks == nil {
			b.Callbacks = s.Callbacks
		}
	}

	if err := r.bridgeRepo.SaveBridge(ctx, &b); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.bridges[b.Key] = b.clone()
	r.cacheMu.Unlock()

	r.logger.Info("bridge registered", "key", b.Key, "name", b.Name, "bridge_id", b.ID)
	return b.clone(), nil
}

// Bridge returns a bridge by key or vendor ID.
func (r *Registry) Bridge(keyOrID string) (*Bridge, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if b, ok := r.bridges[keyOrID]; ok {
		return b.clone(), nil
	}
	for _, b := range r.bridges {
		if b.ID != "" && b.ID == keyOrID {
			return b.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBridgeNotFound, keyOrID)
}

// Bridges returns all registered bridges ordered by key.
func (r *Registry) Bridges() []Bridge {
	r.cacheMu.RLock()
	out := make([]Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, *b.clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// BackfillBridgeID records the vendor ID reported by a bridge. It is a
// no-op when the ID is already known.
func (r *Registry) BackfillBridgeID(ctx context.Context, key, id string) error {
	return r.updateBridge(ctx, key, func(b *Bridge) bool {
		if id == "" || b.ID == id {
			return false
		}
		b.ID = id
		r.logger.Info("bridge id backfilled", "key", key, "bridge_id", id)
		return true
	})
}

// SetCallbacks replaces the registered callback list of a bridge.
func (r *Registry) SetCallbacks(ctx context.Context, key string, callbacks []Callback) error {
	return r.updateBridge(ctx, key, func(b *Bridge) bool {
		b.Callbacks = append([]Callback(nil), callbacks...)
		return true
	})
}

func (r *Registry) updateBridge(ctx context.Context, key string, fn func(*Bridge) bool) error {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()

	r.cacheMu.RLock()
	current, ok := r.bridges[key]
	r.cacheMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBridgeNotFound, key)
	}

	next := current.clone()
	if !fn(next) {
		return nil
	}
	if err := r.bridgeRepo.SaveBridge(ctx, next); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.bridges[key] = next
	r.cacheMu.Unlock()
	return nil
}

// Package device provides the Device Registry of the Nuki gateway.
//
// The registry maps a device identity (numeric or hex ID) to its record:
// kind, display name, the state-tree path allocated at first discovery,
// the bridge it is paired with, the last-known lock state and the config
// blocks mirrored from the Web API. It also tracks configured bridges and
// their backfilled vendor IDs.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                           │
//	│  ┌──────────────────┐        ┌──────────────────────┐    │
//	│  │     Registry     │───────▶│ Repository           │    │
//	│  │  (registry.go)   │        │ BridgeRepository     │    │
//	│  │ • CreateOrGet    │        │ (repository.go)      │    │
//	│  │ • Resolve/Merge  │        │ • SQLite devices     │    │
//	│  │ • path allocation│        │ • SQLite bridges     │    │
//	│  └──────────────────┘        └──────────────────────┘    │
//	└──────────────────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo, repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	rec, created, err := registry.CreateOrGet(ctx, id, &deviceType, "Front Door")
//	// rec.Path == "smartlocks.front_door"
//
//	applied, err := registry.Merge(ctx, rec.HexID(), device.Patch{
//	    Fields: device.Fragment{"state.lockState": 1},
//	})
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Record creation is serialised
// so two payloads for the same unseen device produce one record and one path.
package device

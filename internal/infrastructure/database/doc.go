// Package database provides the SQLite store of the Nuki gateway.
//
// It holds the device registry, the bridge table and the persisted state
// tree. The connection runs in WAL mode with a single writer; schema
// changes are forward-only migrations embedded into the binary by the
// migrations package.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database

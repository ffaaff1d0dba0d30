// Package state implements the typed hierarchical key-value store the
// gateway mirrors device state into.
//
// Paths are dot separated, e.g. "smartlocks.front_door.state.locked".
// Every node carries a Meta (type, role, writability) set when the node is
// first written. Writes are either acknowledged device state (Set, ack=true)
// or user commands (Command, ack=false); subscribers see both and decide
// what to act on.
//
// The Tree is the in-memory implementation. It optionally persists every
// node through a Persister (SQLiteStore) and can be mirrored to MQTT with
// Mirror.
package state

// Package events defines the gateway event model and its delivery.
//
// The reconciler emits discovery and state-update events, the dispatcher
// emits action results and the scheduler emits bridge info refreshes.
// Events are delivered synchronously to every Sink registered on a
// Fanout: the SQLite event log, the Kafka exporter and the InfluxDB
// telemetry writer. A failing sink is logged and never blocks the others.
package events

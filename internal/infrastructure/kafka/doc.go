// Package kafka exports gateway events to a Kafka topic.
//
// Events are JSON encoded and keyed by device hex ID, so that all events
// of one device land on the same partition in order. The writer is
// asynchronous and batched; delivery errors are reported through the
// logger.
package kafka

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
)

// ErrDisabled indicates the exporter is disabled in config.
var ErrDisabled = errors.New("kafka: disabled in configuration")

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 200 * time.Millisecond
)

// Logger is the logging interface used by the Exporter.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Exporter is an events.Sink writing to one topic.
type Exporter struct {
	writer messageWriter
	topic  string
	logger Logger
}

// NewExporter creates an asynchronous, hash-balanced writer.
func NewExporter(cfg config.KafkaConfig) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchTimeout := time.Duration(cfg.BatchTimeout) * time.Millisecond
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	e := &Exporter{topic: cfg.Topic, logger: noopLogger{}}
	e.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				e.logger.Warn("kafka delivery failed", "topic", cfg.Topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return e, nil
}

// SetLogger sets the logger.
func (e *Exporter) SetLogger(l Logger) {
	e.logger = l
}

// Publish implements events.Sink.
func (e *Exporter) Publish(ctx context.Context, ev events.Event) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: writing event %s: %w", ev.ID, err)
	}
	return nil
}

// Close flushes pending messages.
func (e *Exporter) Close() error {
	return e.writer.Close()
}

func message(ev events.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encoding event %s: %w", ev.ID, err)
	}
	key := ev.DeviceHex
	if key == "" {
		key = ev.Path
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(ev.Source)},
		},
	}, nil
}

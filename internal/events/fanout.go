package events

import (
	"context"
	"sync"
)

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Logger is the logging interface used by Fanout.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Fanout delivers each event to every registered sink in order.
// The zero value is not usable; call NewFanout.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger Logger
}

type namedSink struct {
	name string
	sink Sink
}

// NewFanout creates an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{logger: noopLogger{}}
}

// SetLogger sets the logger.
func (f *Fanout) SetLogger(l Logger) {
	f.logger = l
}

// Add registers a sink under a name used in log lines.
func (f *Fanout) Add(name string, s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
	f.mu.Unlock()
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Publish delivers e to all sinks. Sink errors are logged, not returned.
func (f *Fanout) Publish(ctx context.Context, e Event) error {
	f.mu.RLock()
	sinks := append([]namedSink(nil), f.sinks...)
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Publish(ctx, e); err != nil {
			f.logger.Warn("event sink failed", "sink", s.name, "event", string(e.Type), "error", err)
		}
	}
	return nil
}

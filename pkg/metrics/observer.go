// Package metrics carries counters and latency samples out of the audio
// path and the turn pipeline without coupling them to a sink. Hot paths
// call RecordEvent and move on; sinks decide what to keep.
package metrics

import "time"

// MetricsEvent is one counter increment or one sampled value.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer receives events. Implementations must not block: the capture
// callback and the engine loop both emit on their own goroutines.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// Flusher is implemented by sinks that buffer.
type Flusher interface {
	Flush() error
}

// NoopObserver discards everything. Used where no observer is configured.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

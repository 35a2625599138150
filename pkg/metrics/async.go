package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver decouples emitters from a slow sink through a bounded
// channel. A full channel drops the event and counts it; the frame path
// must never wait on metrics.
type AsyncObserver struct {
	sink    Observer
	events  chan MetricsEvent
	done    chan struct{}
	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

func NewAsyncObserver(sink Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		sink:   sink,
		events: make(chan MetricsEvent, buffer),
		done:   make(chan struct{}),
	}
	go a.forward()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil || a.closed.Load() {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports events lost to a full buffer.
func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops intake and waits until buffered events have reached the
// sink, so a file behind the sink can be closed right after.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.events)
	})
	<-a.done
}

func (a *AsyncObserver) forward() {
	defer close(a.done)
	for ev := range a.events {
		a.sink.RecordEvent(ev)
	}
}

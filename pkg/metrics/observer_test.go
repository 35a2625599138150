package metrics

import (
	"testing"
	"time"
)

func TestMemoryObserverRecords(t *testing.T) {
	m := NewMemoryObserver()
	m.RecordEvent(Count(EventBargeIn, nil))
	m.RecordEvent(StageLatency("transcribe", 120*time.Millisecond))

	if len(m.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(m.Events))
	}
	if m.Events[1].Value != 120 {
		t.Fatalf("latency value = %v, want 120", m.Events[1].Value)
	}
	if m.Events[1].Tags["stage"] != "transcribe" {
		t.Fatalf("stage tag = %q", m.Events[1].Tags["stage"])
	}
}

func TestAsyncObserverDelivers(t *testing.T) {
	m := NewMemoryObserver()
	a := NewAsyncObserver(m, 16)
	for i := 0; i < 5; i++ {
		a.RecordEvent(Count(EventUtteranceFinalized, nil))
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		n := len(m.Events)
		m.mu.Unlock()
		if n == 5 {
			a.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("async observer did not deliver events")
}

func TestAsyncObserverCloseDrains(t *testing.T) {
	m := NewMemoryObserver()
	a := NewAsyncObserver(m, 16)
	for i := 0; i < 8; i++ {
		a.RecordEvent(Count(EventStateChange, nil))
	}
	a.Close()

	if got := len(m.Snapshot()); got != 8 {
		t.Fatalf("events after Close = %d, want 8", got)
	}
	// Closed observer must swallow, not panic.
	a.RecordEvent(Count(EventStateChange, nil))
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := NewMemoryObserver(), NewMemoryObserver()
	multi := NewMultiObserver(a, nil, b)
	multi.RecordEvent(Count(EventBargeIn, nil))

	if len(a.Snapshot()) != 1 || len(b.Snapshot()) != 1 {
		t.Fatalf("fan-out = %d/%d, want 1/1", len(a.Snapshot()), len(b.Snapshot()))
	}
}

func TestSamplingObserverRate(t *testing.T) {
	m := NewMemoryObserver()
	s := NewSamplingObserver(m, 0.5)
	for i := 0; i < 100; i++ {
		s.RecordEvent(Count(EventFrameDropped, nil))
	}
	if len(m.Events) != 50 {
		t.Fatalf("sampled events = %d, want 50", len(m.Events))
	}

	off := NewSamplingObserver(m, 0)
	off.RecordEvent(Count(EventFrameDropped, nil))
	if len(m.Events) != 50 {
		t.Fatalf("zero-rate sampler recorded an event")
	}
}

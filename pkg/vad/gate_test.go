package vad

import (
	"testing"
	"time"

	"github.com/cronolabs/crono/pkg/frames"
)

type fakeClock struct {
	cur time.Time
}

func (c *fakeClock) now() time.Time          { return c.cur }
func (c *fakeClock) advance(d time.Duration) { c.cur = c.cur.Add(d) }

func newTestGate() (*Gate, *fakeClock) {
	clk := &fakeClock{cur: time.Unix(1000, 0)}
	g := NewGate(GateConfig{})
	g.now = clk.now
	return g, clk
}

func decision(energy float64) frames.VadDecision {
	return frames.VadDecision{
		Energy:    energy,
		Threshold: 250,
		Speech:    energy > 250,
	}
}

func TestGatePassthroughWhenIdle(t *testing.T) {
	g, _ := newTestGate()
	d := g.Apply(decision(800))
	if !d.Speech || d.Suppressed {
		t.Fatalf("idle gate altered decision: %+v", d)
	}
}

func TestGateGuardWindow(t *testing.T) {
	g, clk := newTestGate()
	g.SetPlayback(true)

	d := g.Apply(decision(5000))
	if d.Speech || !d.Suppressed {
		t.Fatalf("frame inside guard window not suppressed: %+v", d)
	}

	clk.advance(300 * time.Millisecond)
	d = g.Apply(decision(5000))
	if !d.Speech {
		t.Fatalf("loud frame after guard window not speech: %+v", d)
	}
}

func TestGateSuppressesEchoDuringPlayback(t *testing.T) {
	g, clk := newTestGate()
	g.SetPlayback(true)
	clk.advance(300 * time.Millisecond)

	// steady echo at 500 sets the baseline; 500*1.6+200 = 1000 keeps the
	// echo itself below the dynamic threshold
	for i := 0; i < 10; i++ {
		d := g.Apply(decision(500))
		if d.Speech || !d.Suppressed {
			t.Fatalf("echo frame passed the gate: %+v", d)
		}
	}

	// talking over the assistant clears the dynamic threshold
	d := g.Apply(decision(3000))
	if !d.Speech || d.Suppressed {
		t.Fatalf("barge-in frame suppressed: %+v", d)
	}
}

func TestGateCooldownAfterPlayback(t *testing.T) {
	g, clk := newTestGate()
	g.SetPlayback(true)
	g.SetPlayback(false)

	d := g.Apply(decision(3000))
	if !d.Suppressed {
		t.Fatalf("frame inside cooldown not suppressed: %+v", d)
	}

	clk.advance(400 * time.Millisecond)
	d = g.Apply(decision(3000))
	if d.Suppressed || !d.Speech {
		t.Fatalf("frame after cooldown still gated: %+v", d)
	}
}

func TestGateBoostAppliesWhileSpeaking(t *testing.T) {
	g, clk := newTestGate()
	g.SetPlayback(true)
	clk.advance(300 * time.Millisecond)

	// 300 crosses the raw threshold (250) but not the boosted one (450)
	d := g.Apply(decision(300))
	if d.Speech {
		t.Fatalf("sub-boost energy treated as barge-in: %+v", d)
	}
	if d.Threshold < 450 {
		t.Fatalf("threshold = %v, want at least base+boost", d.Threshold)
	}
}

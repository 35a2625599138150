package vad

import (
	"sync"
	"time"

	"github.com/cronolabs/crono/pkg/frames"
)

// GateConfig tunes echo suppression around assistant playback.
type GateConfig struct {
	// Guard ignores detection right after playback starts, before the
	// playback energy baseline has settled.
	Guard time.Duration
	// Cooldown ignores the mic briefly after playback stops so the speaker
	// tail does not open an utterance.
	Cooldown time.Duration
	// Boost is added to the detector threshold while playback is active.
	Boost float64
	// BaselineAlpha smooths the playback-energy EMA; Multiplier and Delta
	// set how far above that baseline a barge-in must rise.
	BaselineAlpha float64
	Multiplier    float64
	Delta         float64
}

func (c GateConfig) withDefaults() GateConfig {
	if c.Guard <= 0 {
		c.Guard = 250 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 350 * time.Millisecond
	}
	if c.Boost <= 0 {
		c.Boost = 200
	}
	if c.BaselineAlpha <= 0 {
		c.BaselineAlpha = 0.15
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 1.6
	}
	if c.Delta <= 0 {
		c.Delta = 200
	}
	return c
}

// Gate suppresses the microphone's view of the assistant's own voice. While
// playback is active it tracks an EMA of frame energy (mostly echo) and only
// passes frames loud enough above that baseline to be the user talking over
// the assistant.
type Gate struct {
	cfg GateConfig
	now func() time.Time

	mu           sync.Mutex
	playing      bool
	startedAt    time.Time
	ignoreUntil  time.Time
	baseline     float64
	baselineInit bool
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg.withDefaults(), now: time.Now}
}

// SetPlayback flips the playback flag. Stopping arms the cooldown window and
// drops the learned baseline; starting arms the guard window.
func (g *Gate) SetPlayback(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playing = active
	g.baselineInit = false
	if active {
		g.startedAt = g.now()
	} else {
		g.baseline = 0
		g.ignoreUntil = g.now().Add(g.cfg.Cooldown)
	}
}

func (g *Gate) Playing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playing
}

// Apply rewrites a raw detector decision for echo conditions. Suppressed
// frames must discard any open utterance and reset hysteresis downstream.
func (g *Gate) Apply(d frames.VadDecision) frames.VadDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.ignoreUntil.IsZero() && now.Before(g.ignoreUntil) {
		d.Speech = false
		d.Suppressed = true
		return d
	}
	if !g.playing {
		return d
	}

	boosted := d.Threshold + g.cfg.Boost
	if now.Sub(g.startedAt) < g.cfg.Guard {
		d.Threshold = boosted
		d.Speech = false
		d.Suppressed = true
		return d
	}

	if !g.baselineInit {
		g.baseline = d.Energy
		g.baselineInit = true
	} else {
		g.baseline = (1-g.cfg.BaselineAlpha)*g.baseline + g.cfg.BaselineAlpha*d.Energy
	}

	dynamic := g.baseline*g.cfg.Multiplier + g.cfg.Delta
	if boosted > dynamic {
		dynamic = boosted
	}
	d.Threshold = dynamic
	d.Speech = d.Energy > dynamic
	if !d.Speech {
		// Echo only. Drop the frame entirely so it cannot extend silence
		// counting or leak assistant audio into an utterance.
		d.Suppressed = true
	}
	return d
}

package vad

import (
	"sync"

	"github.com/cronolabs/crono/pkg/frames"
)

// Config tunes the adaptive energy detector. Zero values fall back to
// defaults calibrated for 16 kHz mono capture with 30 ms frames.
type Config struct {
	// BaseThreshold is the minimum RMS energy treated as speech.
	BaseThreshold float64
	// FloorAlpha is the EMA coefficient for ambient noise tracking.
	FloorAlpha float64
	// FloorMultiplier and FloorMargin lift the effective threshold above the
	// estimated noise floor.
	FloorMultiplier float64
	FloorMargin     float64
	// FloorCeiling bounds the adapted threshold. When the floor pushes the
	// effective threshold past it, the estimate resets and relearns, so a
	// noisy burst can never deafen the detector permanently.
	FloorCeiling float64
	// IdleBand restricts adaptation to energies at most BaseThreshold*IdleBand,
	// keeping loud transients out of the floor estimate.
	IdleBand float64
}

func (c Config) withDefaults() Config {
	if c.BaseThreshold <= 0 {
		c.BaseThreshold = 250
	}
	if c.FloorAlpha <= 0 {
		c.FloorAlpha = 0.08
	}
	if c.FloorMultiplier <= 0 {
		c.FloorMultiplier = 1.8
	}
	if c.FloorMargin <= 0 {
		c.FloorMargin = 40
	}
	if c.FloorCeiling <= 0 {
		c.FloorCeiling = 4 * c.BaseThreshold
	}
	if c.IdleBand <= 0 {
		c.IdleBand = 1.2
	}
	return c
}

// Detector classifies frames as speech or silence against a threshold that
// adapts to the ambient noise floor. It is safe for concurrent use, though
// the capture path is its only expected writer.
type Detector struct {
	cfg Config

	mu        sync.Mutex
	floor     float64
	floorInit bool
	resets    uint64
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Threshold reports the current effective threshold, the greater of the base
// threshold and the adapted floor term.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold()
}

func (d *Detector) threshold() float64 {
	t := d.cfg.BaseThreshold
	if d.floorInit {
		if adapted := d.floor*d.cfg.FloorMultiplier + d.cfg.FloorMargin; adapted > t {
			t = adapted
		}
	}
	return t
}

// Decide classifies one frame. idle reports that no playback is active and no
// utterance is open; the noise floor only adapts on idle frames, so speech
// never inflates its own threshold.
func (d *Detector) Decide(f frames.AudioFrame, idle bool) frames.VadDecision {
	energy := f.Energy()

	d.mu.Lock()
	if idle {
		d.adapt(energy)
	}
	t := d.threshold()
	d.mu.Unlock()

	return frames.VadDecision{
		Frame:     f,
		Energy:    energy,
		Threshold: t,
		Speech:    energy > t,
	}
}

func (d *Detector) adapt(energy float64) {
	if !d.floorInit {
		d.floor = energy
		d.floorInit = true
	} else if energy <= d.cfg.BaseThreshold*d.cfg.IdleBand {
		d.floor = (1-d.cfg.FloorAlpha)*d.floor + d.cfg.FloorAlpha*energy
	}
	if d.threshold() >= d.cfg.FloorCeiling {
		d.floor = 0
		d.floorInit = false
		d.resets++
	}
}

// Resets reports how many times the floor estimate hit the ceiling and was
// discarded.
func (d *Detector) Resets() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

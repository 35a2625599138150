package turn

import (
	"sync"
	"time"
)

// BargeInNotifier receives the interrupt when the user talks over the
// assistant. Implemented by the engine.
type BargeInNotifier interface {
	OnBargeIn(reason CancelReason)
}

// BargeInConfig tunes interrupt firing.
type BargeInConfig struct {
	// Cooldown is the minimum gap between fired interrupts, absorbing the
	// burst of speech-start events a single interjection produces.
	Cooldown time.Duration
	// WhileBusy also fires during Transcribing, Planning and Acting, not
	// only while audio is playing.
	WhileBusy bool
}

func (c BargeInConfig) withDefaults() BargeInConfig {
	if c.Cooldown <= 0 {
		c.Cooldown = 1200 * time.Millisecond
	}
	return c
}

// BargeIn turns confirmed speech starts into turn interrupts.
type BargeIn struct {
	cfg      BargeInConfig
	notifier BargeInNotifier
	now      func() time.Time

	mu        sync.Mutex
	lastFired time.Time
	fired     uint64
}

func NewBargeIn(cfg BargeInConfig, notifier BargeInNotifier) *BargeIn {
	return &BargeIn{
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		now:      time.Now,
	}
}

// OnSpeechStart is called by the audio path when an utterance opens.
// playing reports active speech output, busy any in-flight turn. Returns
// whether an interrupt fired.
func (b *BargeIn) OnSpeechStart(playing, busy bool) bool {
	if !playing && !(busy && b.cfg.WhileBusy) {
		return false
	}

	b.mu.Lock()
	now := b.now()
	if !b.lastFired.IsZero() && now.Sub(b.lastFired) < b.cfg.Cooldown {
		b.mu.Unlock()
		return false
	}
	b.lastFired = now
	b.fired++
	notifier := b.notifier
	b.mu.Unlock()

	if notifier != nil {
		notifier.OnBargeIn(CancelBargeIn)
	}
	return true
}

// Fired reports how many interrupts have been raised.
func (b *BargeIn) Fired() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired
}

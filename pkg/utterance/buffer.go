// Package utterance segments a stream of per-frame VAD decisions into
// finalized utterances: speech-start hysteresis on the way in, trailing
// silence or a length cap on the way out.
package utterance

import (
	"time"

	"github.com/cronolabs/crono/pkg/frames"
)

type EndReason string

const (
	EndSilence   EndReason = "silence"
	EndMaxLength EndReason = "max_length"
	EndFlush     EndReason = "flush"
)

// Config holds the segmentation knobs in frame counts. At 30 ms frames the
// defaults confirm start after 60 ms of speech, end after 480 ms of silence,
// cap recordings at 15 s, and discard anything 150 ms or shorter.
type Config struct {
	Rate             int
	StartFrames      int
	SilenceEndFrames int
	MinFrames        int
	MaxFrames        int
}

func (c Config) withDefaults() Config {
	if c.Rate <= 0 {
		c.Rate = 16000
	}
	if c.StartFrames <= 0 {
		c.StartFrames = 2
	}
	if c.SilenceEndFrames <= 0 {
		c.SilenceEndFrames = 16
	}
	if c.MinFrames <= 0 {
		c.MinFrames = 6
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = 500
	}
	return c
}

// Event reports what a pushed decision did to the buffer. At most one of
// Opened, Utterance, Discarded is meaningful per push.
type Event struct {
	// Opened is set on the frame that confirms speech start.
	Opened bool
	// Utterance carries a finalized utterance, with Reason naming why it
	// closed.
	Utterance *frames.Utterance
	Reason    EndReason
	// Discarded is set when an open recording was dropped, either because a
	// suppressed frame invalidated it or because it closed under MinFrames.
	Discarded bool
}

// Buffer is not safe for concurrent use; the audio path owns it.
type Buffer struct {
	cfg Config

	cur        *frames.Utterance
	speechRun  int
	silenceRun int
	lastSeen   time.Time
}

func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg.withDefaults()}
}

func (b *Buffer) Open() bool { return b.cur != nil }

// Push feeds one decision through the segmenter.
func (b *Buffer) Push(d frames.VadDecision) Event {
	if d.Suppressed {
		discarded := b.cur != nil
		b.reset()
		return Event{Discarded: discarded}
	}
	b.lastSeen = d.Frame.Captured()

	if b.cur == nil {
		if !d.Speech {
			if b.speechRun > 0 {
				b.speechRun--
			}
			return Event{}
		}
		b.speechRun++
		if b.speechRun < b.cfg.StartFrames {
			return Event{}
		}
		b.cur = frames.NewUtterance(b.cfg.Rate)
		b.silenceRun = 0
		b.cur.Append(d.Frame)
		return Event{Opened: true}
	}

	b.cur.Append(d.Frame)
	if d.Speech {
		b.silenceRun = 0
	} else {
		b.silenceRun++
		if b.silenceRun >= b.cfg.SilenceEndFrames {
			return b.finish(EndSilence)
		}
	}
	if b.cur.Frames() >= b.cfg.MaxFrames {
		return b.finish(EndMaxLength)
	}
	return Event{}
}

// Flush force-finalizes any open recording, used when listening stops.
func (b *Buffer) Flush() Event {
	if b.cur == nil {
		return Event{}
	}
	return b.finish(EndFlush)
}

// Reset discards any open recording and all hysteresis state.
func (b *Buffer) Reset() {
	b.reset()
}

func (b *Buffer) finish(reason EndReason) Event {
	u := b.cur
	b.reset()
	if u.Frames() <= b.cfg.MinFrames {
		return Event{Discarded: true, Reason: reason}
	}
	u.Finalize(b.lastSeen)
	return Event{Utterance: u, Reason: reason}
}

func (b *Buffer) reset() {
	b.cur = nil
	b.speechRun = 0
	b.silenceRun = 0
}

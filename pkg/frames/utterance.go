package frames

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Utterance is a contiguous run of frames between detected speech start and
// trailing-silence end. It owns copies of the frame samples so the capture
// path can recycle pooled buffers immediately.
type Utterance struct {
	id        string
	rate      int
	samples   []int16
	frames    int
	startedAt time.Time
	endedAt   time.Time
	final     bool
}

func NewUtterance(rate int) *Utterance {
	return &Utterance{
		id:   uuid.NewString(),
		rate: rate,
	}
}

func (u *Utterance) ID() string           { return u.id }
func (u *Utterance) Rate() int            { return u.rate }
func (u *Utterance) Frames() int          { return u.frames }
func (u *Utterance) StartedAt() time.Time { return u.startedAt }
func (u *Utterance) EndedAt() time.Time   { return u.endedAt }
func (u *Utterance) Final() bool          { return u.final }

func (u *Utterance) Append(f AudioFrame) {
	if u.final {
		return
	}
	if u.frames == 0 {
		u.startedAt = f.Captured()
	}
	u.samples = append(u.samples, f.RawSamples()...)
	u.frames++
}

func (u *Utterance) Finalize(at time.Time) {
	if u.final {
		return
	}
	u.endedAt = at
	u.final = true
}

func (u *Utterance) Duration() time.Duration {
	if u.rate <= 0 {
		return 0
	}
	return time.Duration(len(u.samples)) * time.Second / time.Duration(u.rate)
}

func (u *Utterance) Samples() []int16 {
	return append([]int16(nil), u.samples...)
}

// PCM16 renders the utterance as little-endian 16-bit PCM bytes, the layout
// batch transcription endpoints expect inside a WAV container.
func (u *Utterance) PCM16() []byte {
	out := make([]byte, 2*len(u.samples))
	for i, s := range u.samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

package frames

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// AudioFrame is a single fixed-duration slice of mono PCM16 microphone audio.
// Frames are immutable after construction; Samples returns a copy, RawSamples
// exposes the backing slice for hot paths that promise not to mutate it.
type AudioFrame struct {
	seq      uint64
	samples  []int16
	rate     int
	captured time.Time
	pooled   bool
}

func NewAudioFrame(seq uint64, samples []int16, rate int, captured time.Time) AudioFrame {
	return AudioFrame{
		seq:      seq,
		samples:  samples,
		rate:     rate,
		captured: captured,
	}
}

func NewAudioFrameFromPool(seq uint64, samples []int16, rate int, captured time.Time) AudioFrame {
	buf := AcquireSampleBuf(len(samples))
	copy(buf, samples)
	return AudioFrame{
		seq:      seq,
		samples:  buf,
		rate:     rate,
		captured: captured,
		pooled:   true,
	}
}

func (a AudioFrame) Seq() uint64         { return a.seq }
func (a AudioFrame) Samples() []int16    { return append([]int16(nil), a.samples...) }
func (a AudioFrame) RawSamples() []int16 { return a.samples }
func (a AudioFrame) Rate() int           { return a.rate }
func (a AudioFrame) Captured() time.Time { return a.captured }

func (a AudioFrame) Duration() time.Duration {
	if a.rate <= 0 {
		return 0
	}
	return time.Duration(len(a.samples)) * time.Second / time.Duration(a.rate)
}

// Energy is the RMS amplitude of the frame on the int16 scale.
func (a AudioFrame) Energy() float64 {
	if len(a.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range a.samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(a.samples)))
}

func ReleaseAudioFrame(f AudioFrame) bool {
	if f.pooled {
		ReleaseSampleBuf(f.samples)
		return true
	}
	return false
}

// VadDecision is the per-frame verdict produced by the detection path.
type VadDecision struct {
	Frame     AudioFrame
	Energy    float64
	Threshold float64
	Speech    bool
	// Suppressed marks frames dropped by the echo gate; they must not open
	// or extend an utterance and must not feed noise-floor adaptation.
	Suppressed bool
}

type SeqGen struct {
	value atomic.Uint64
}

func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

func (g *SeqGen) Next() uint64 {
	return g.value.Add(1)
}

var sampleBufPool = sync.Pool{
	New: func() any {
		return make([]int16, 0, 1024)
	},
}

func AcquireSampleBuf(size int) []int16 {
	b := sampleBufPool.Get().([]int16)
	if cap(b) < size {
		return make([]int16, size)
	}
	return b[:size]
}

func ReleaseSampleBuf(b []int16) {
	sampleBufPool.Put(b[:0])
}

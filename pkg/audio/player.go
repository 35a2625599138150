package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/logging"
)

// playbackRingSize is in samples; ~32 seconds at 16 kHz, enough for a long
// spoken answer without producer blocking.
const playbackRingSize = 524288

// playbackRing is a lock-free single-producer single-consumer ring buffer.
type playbackRing struct {
	samples [playbackRingSize]int16
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (rb *playbackRing) push(samples []int16) int {
	head := rb.head.Load()
	tail := rb.tail.Load()

	available := playbackRingSize - int(head-tail)
	toWrite := len(samples)
	if toWrite > available {
		toWrite = available
	}
	for i := 0; i < toWrite; i++ {
		rb.samples[(head+uint64(i))%playbackRingSize] = samples[i]
	}
	rb.head.Add(uint64(toWrite))
	return toWrite
}

func (rb *playbackRing) pop() (int16, bool) {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return 0, false
	}
	s := rb.samples[tail%playbackRingSize]
	rb.tail.Add(1)
	return s, true
}

func (rb *playbackRing) isEmpty() bool {
	return rb.head.Load() == rb.tail.Load()
}

func (rb *playbackRing) clear() {
	rb.tail.Store(rb.head.Load())
}

type PlayerConfig struct {
	SampleRate int
	BufferMs   int
}

func (c PlayerConfig) withDefaults() PlayerConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BufferMs <= 0 {
		c.BufferMs = 100
	}
	return c
}

// Player keeps a persistent playback device running and feeds it from a
// lock-free ring; the device outputs silence when the ring is empty.
// Interrupt clears the ring, so cancellation is audible within one period.
type Player struct {
	cfg    PlayerConfig
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	ring      *playbackRing
	interrupt atomic.Bool

	logger *slog.Logger
}

func NewPlayer(cfg PlayerConfig, base *slog.Logger) (*Player, error) {
	cfg = cfg.withDefaults()
	p := &Player{
		cfg:    cfg,
		ring:   &playbackRing{},
		logger: logging.NewComponentLogger(base, "audio.player"),
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonPlayback)
	}
	p.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.BufferMs)

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			interrupted := p.interrupt.Load()
			for i := 0; i < int(frameCount); i++ {
				var sample int16
				if !interrupted {
					if s, ok := p.ring.pop(); ok {
						sample = s
					}
				}
				binary.LittleEndian.PutUint16(output[2*i:], uint16(sample))
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, errorsx.Wrap(err, errorsx.ReasonPlayback)
	}
	p.device = device
	if err := device.Start(); err != nil {
		p.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonPlayback)
	}
	return p, nil
}

// Write queues little-endian PCM16 bytes. Returns how many samples were
// queued; the remainder is dropped when the ring is full.
func (p *Player) Write(pcm []byte) int {
	p.interrupt.Store(false)
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	written := p.ring.push(samples)
	if written < len(samples) {
		p.logger.Warn("playback ring full",
			slog.Int("dropped_samples", len(samples)-written))
	}
	return written
}

// Active reports queued audio not yet played.
func (p *Player) Active() bool {
	return !p.ring.isEmpty()
}

// Drain blocks until everything queued has been played or ctx ends.
func (p *Player) Drain(ctx context.Context) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if p.ring.isEmpty() || p.interrupt.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Interrupt discards all queued audio.
func (p *Player) Interrupt() {
	p.interrupt.Store(true)
	p.ring.clear()
}

func (p *Player) Close() error {
	p.Interrupt()
	if p.device != nil {
		_ = p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.mctx != nil {
		_ = p.mctx.Uninit()
		p.mctx.Free()
		p.mctx = nil
	}
	return nil
}

// Package audio owns the microphone and speaker devices. Capture emits
// fixed-duration PCM16 frames into a bounded channel; when the consumer
// falls behind, frames are dropped and counted rather than blocking the
// device callback.
package audio

import (
	"encoding/binary"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/logging"
	"github.com/cronolabs/crono/pkg/metrics"
)

type CaptureConfig struct {
	SampleRate int
	FrameMs    int
	QueueSize  int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMs <= 0 {
		c.FrameMs = 30
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Capturer reads the default capture device and reslices the callback's
// byte stream into uniform frames.
type Capturer struct {
	cfg       CaptureConfig
	frameSize int

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	out     chan frames.AudioFrame
	fatal   chan error
	seq     *frames.SeqGen
	pending []int16
	dropped atomic.Uint64
	running atomic.Bool

	logger *slog.Logger
	obs    metrics.Observer
}

func NewCapturer(cfg CaptureConfig, base *slog.Logger, obs metrics.Observer) (*Capturer, error) {
	cfg = cfg.withDefaults()
	if obs == nil {
		obs = metrics.NoopObserver{}
	}

	c := &Capturer{
		cfg:       cfg,
		frameSize: cfg.SampleRate * cfg.FrameMs / 1000,
		out:       make(chan frames.AudioFrame, cfg.QueueSize),
		fatal:     make(chan error, 1),
		seq:       frames.NewSeqGen(),
		logger:    logging.NewComponentLogger(base, "audio.capture"),
		obs:       obs,
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonCaptureInit)
	}
	c.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.FrameMs)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			c.onSamples(input, frameCount)
		},
		Stop: func() {
			if c.running.Load() {
				select {
				case c.fatal <- errorsx.Wrap(errDeviceStopped, errorsx.ReasonCaptureStream):
				default:
				}
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, errorsx.Wrap(err, errorsx.ReasonCaptureInit)
	}
	c.device = device
	return c, nil
}

var errDeviceStopped = deviceStoppedError{}

type deviceStoppedError struct{}

func (deviceStoppedError) Error() string { return "capture device stopped unexpectedly" }

func (c *Capturer) Start() error {
	c.running.Store(true)
	if err := c.device.Start(); err != nil {
		c.running.Store(false)
		return errorsx.Wrap(err, errorsx.ReasonCaptureInit)
	}
	c.logger.Info("capture started",
		slog.Int("sample_rate", c.cfg.SampleRate),
		slog.Int("frame_ms", c.cfg.FrameMs))
	return nil
}

// Frames is the bounded frame stream.
func (c *Capturer) Frames() <-chan frames.AudioFrame { return c.out }

// Fatal delivers at most one unrecoverable capture error.
func (c *Capturer) Fatal() <-chan error { return c.fatal }

func (c *Capturer) Dropped() uint64 { return c.dropped.Load() }

// onSamples runs on the device callback thread; it must not block.
func (c *Capturer) onSamples(input []byte, frameCount uint32) {
	n := int(frameCount)
	for i := 0; i < n; i++ {
		c.pending = append(c.pending, int16(binary.LittleEndian.Uint16(input[2*i:])))
	}
	now := time.Now()
	for len(c.pending) >= c.frameSize {
		f := frames.NewAudioFrameFromPool(c.seq.Next(), c.pending[:c.frameSize], c.cfg.SampleRate, now)
		c.pending = c.pending[:copy(c.pending, c.pending[c.frameSize:])]
		select {
		case c.out <- f:
		default:
			frames.ReleaseAudioFrame(f)
			count := c.dropped.Add(1)
			c.obs.RecordEvent(metrics.Count(metrics.EventFrameDropped, nil))
			if count%100 == 1 {
				c.logger.Warn("frame queue full, dropping", slog.Uint64("dropped", count))
			}
		}
	}
}

func (c *Capturer) Close() error {
	c.running.Store(false)
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.mctx != nil {
		_ = c.mctx.Uninit()
		c.mctx.Free()
		c.mctx = nil
	}
	return nil
}

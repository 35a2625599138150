package audio

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/logging"
	"github.com/cronolabs/crono/pkg/metrics"
	"github.com/cronolabs/crono/pkg/turn"
	"github.com/cronolabs/crono/pkg/utterance"
	"github.com/cronolabs/crono/pkg/vad"
)

// StateFn reports the engine's current conversation state; the path uses
// it to decide barge-in eligibility and noise-floor adaptation.
type StateFn func() turn.State

// Path is the per-frame detection pipeline: echo gate, adaptive VAD,
// utterance segmentation, barge-in. It runs on a single goroutine and owns
// the segmentation buffer.
type Path struct {
	det   *vad.Detector
	gate  *vad.Gate
	buf   *utterance.Buffer
	barge *turn.BargeIn
	state StateFn

	out       chan *frames.Utterance
	listening atomic.Bool
	dropped   atomic.Uint64

	// floorResets mirrors the detector's counter; only process reads it.
	floorResets uint64

	logger *slog.Logger
	obs    metrics.Observer
}

func NewPath(det *vad.Detector, gate *vad.Gate, buf *utterance.Buffer, barge *turn.BargeIn, state StateFn, base *slog.Logger, obs metrics.Observer) *Path {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	p := &Path{
		det:    det,
		gate:   gate,
		buf:    buf,
		barge:  barge,
		state:  state,
		out:    make(chan *frames.Utterance, 4),
		logger: logging.NewComponentLogger(base, "audio.path"),
		obs:    obs,
	}
	p.listening.Store(true)
	return p
}

// Utterances is the bounded stream of finalized utterances.
func (p *Path) Utterances() <-chan *frames.Utterance { return p.out }

// SetListening pauses or resumes frame processing without stopping the
// device. Pausing discards any open recording.
func (p *Path) SetListening(v bool) {
	p.listening.Store(v)
}

func (p *Path) Listening() bool { return p.listening.Load() }

func (p *Path) Dropped() uint64 { return p.dropped.Load() }

// Run consumes frames until ctx ends or in closes.
func (p *Path) Run(ctx context.Context, in <-chan frames.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			p.process(f)
		}
	}
}

func (p *Path) process(f frames.AudioFrame) {
	defer frames.ReleaseAudioFrame(f)

	if !p.listening.Load() {
		if p.buf.Open() {
			p.buf.Reset()
		}
		return
	}

	idle := !p.gate.Playing() && !p.buf.Open()
	d := p.det.Decide(f, idle)
	if n := p.det.Resets(); n != p.floorResets {
		p.floorResets = n
		p.obs.RecordEvent(metrics.Count(metrics.EventFloorReset, nil))
		p.logger.Debug("noise floor reset", slog.Float64("threshold", d.Threshold))
	}
	d = p.gate.Apply(d)

	ev := p.buf.Push(d)
	switch {
	case ev.Opened:
		st := p.state()
		if p.barge.OnSpeechStart(p.gate.Playing(), st.Busy()) {
			p.logger.Debug("barge-in fired", slog.String("state", st.String()))
		}
	case ev.Utterance != nil:
		p.obs.RecordEvent(metrics.Count(metrics.EventUtteranceFinalized,
			map[string]string{"reason": string(ev.Reason)}))
		select {
		case p.out <- ev.Utterance:
		default:
			p.dropped.Add(1)
			p.logger.Warn("utterance queue full, dropping",
				slog.String("utterance_id", ev.Utterance.ID()))
		}
	case ev.Discarded:
		p.obs.RecordEvent(metrics.Count(metrics.EventUtteranceDiscarded, nil))
	}
}

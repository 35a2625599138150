package crono

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/adapters/tts"
	"github.com/cronolabs/crono/pkg/audio"
	"github.com/cronolabs/crono/pkg/engine"
	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/logging"
	"github.com/cronolabs/crono/pkg/metrics"
	"github.com/cronolabs/crono/pkg/redact"
	"github.com/cronolabs/crono/pkg/turn"
	"github.com/cronolabs/crono/pkg/utterance"
	"github.com/cronolabs/crono/pkg/vad"
	"github.com/cronolabs/crono/pkg/vocab"
)

// PCMSink is the playback surface speakers write into. audio.Player
// satisfies it; tests substitute a fake.
type PCMSink interface {
	Write(pcm []byte) int
	Drain(ctx context.Context) error
	Interrupt()
	Active() bool
}

// Options configures assembly. Frames and Output, when set, replace the
// real capture and playback devices.
type Options struct {
	Config   Config
	Registry *ProviderRegistry
	Logger   *slog.Logger
	Observer metrics.Observer
	Frames   <-chan frames.AudioFrame
	Output   PCMSink
}

// Assistant owns the assembled audio path, providers, and engine.
type Assistant struct {
	cfg    Config
	logger *slog.Logger

	capture *audio.Capturer
	player  *audio.Player
	path    *audio.Path
	engine  *engine.Engine
	speaker tts.Speaker
	stt     stt.Transcriber
	planner planner.Planner

	async       *metrics.AsyncObserver
	metricsFile *os.File

	frames <-chan frames.AudioFrame
}

// gateListener drives the echo gate from speaker playback events.
type gateListener struct {
	gate *vad.Gate
}

func (g *gateListener) OnPlaybackStart() { g.gate.SetPlayback(true) }
func (g *gateListener) OnPlaybackStop()  { g.gate.SetPlayback(false) }

// engineNotifier defers barge-in delivery to an engine that exists only
// after the audio path is built.
type engineNotifier struct {
	engine **engine.Engine
}

func (n *engineNotifier) OnBargeIn(reason turn.CancelReason) {
	if eng := *n.engine; eng != nil {
		eng.OnBargeIn(reason)
	}
}

// New builds an Assistant from config and registered providers.
func New(opts Options) (*Assistant, error) {
	if opts.Registry == nil {
		return nil, errorsx.Wrap(errors.New("crono: nil provider registry"), errorsx.ReasonConfig)
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assistant{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "crono"),
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	obs := opts.Observer
	if obs == nil {
		built, err := a.buildObservers(logger)
		if err != nil {
			return nil, err
		}
		obs = built
	}

	// Playback first: the speaker factory needs a sink.
	sink := opts.Output
	if sink == nil {
		player, err := audio.NewPlayer(audio.PlayerConfig{SampleRate: cfg.Audio.SampleRate}, logger)
		if err != nil {
			return nil, err
		}
		a.player = player
		sink = player
	}

	gate := vad.NewGate(cfg.gateConfig())
	det := vad.NewDetector(cfg.detectorConfig())
	buf := utterance.NewBuffer(cfg.bufferConfig())

	sttProvider, err := opts.Registry.BuildSTT(cfg.Vendors.STT.Provider, cfg)
	if err != nil {
		a.closeAll()
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	a.stt = sttProvider

	plannerProvider, err := opts.Registry.BuildPlanner(cfg.Vendors.Planner.Provider, cfg)
	if err != nil {
		a.closeAll()
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	a.planner = plannerProvider

	speaker, err := opts.Registry.BuildTTS(cfg.Vendors.TTS.Provider, cfg, TTSEnv{
		Sink:     sink,
		Listener: &gateListener{gate: gate},
	})
	if err != nil {
		a.closeAll()
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	a.speaker = speaker

	dispatcher, err := opts.Registry.BuildActions(cfg.Vendors.Actions.Provider, cfg, ActionsEnv{
		Announce: func(text string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := speaker.Speak(ctx, text); err != nil {
				a.logger.Warn("announcement failed", slog.String("error", err.Error()))
			}
		},
	})
	if err != nil {
		a.closeAll()
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}

	var corrector *vocab.Corrector
	if cfg.Vocab.Path != "" {
		corrector = vocab.NewCorrector()
		if err := corrector.Load(cfg.Vocab.Path); err != nil {
			a.logger.Warn("vocabulary load failed",
				slog.String("path", cfg.Vocab.Path),
				slog.String("error", err.Error()))
		}
	}

	barge := turn.NewBargeIn(cfg.bargeInConfig(), &engineNotifier{engine: &a.engine})
	a.path = audio.NewPath(det, gate, buf, barge, func() turn.State {
		if a.engine == nil {
			return turn.StateListening
		}
		return a.engine.State()
	}, logger, obs)

	eng, err := engine.New(cfg.engineConfig(), engine.Deps{
		STT:        sttProvider,
		Planner:    plannerProvider,
		Speaker:    speaker,
		Dispatcher: dispatcher,
		Vocab:      corrector,
		Listen:     a.path,
		Observer:   obs,
		Logger:     logger,
		Dropped: func() uint64 {
			n := a.path.Dropped()
			if a.capture != nil {
				n += a.capture.Dropped()
			}
			return n
		},
	})
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.engine = eng

	// Microphone last, so a capture init failure never leaves half the
	// stack running.
	if opts.Frames != nil {
		a.frames = opts.Frames
	} else {
		capture, err := audio.NewCapturer(audio.CaptureConfig{
			SampleRate: cfg.Audio.SampleRate,
			FrameMs:    cfg.Audio.FrameMs,
			QueueSize:  cfg.Audio.QueueSize,
		}, logger, obs)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.capture = capture
		a.frames = capture.Frames()
	}

	return a, nil
}

// buildObservers assembles the default metrics stack: every event to the
// debug log, plus a JSONL file when observability.metrics_path is set, all
// behind a bounded async buffer so emitters never wait on a sink.
func (a *Assistant) buildObservers(logger *slog.Logger) (metrics.Observer, error) {
	sinks := []metrics.Observer{metrics.NewLoggerObserver(logger)}
	if path := strings.TrimSpace(a.cfg.Observability.MetricsPath); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
		}
		a.metricsFile = f
		sinks = append(sinks, metrics.NewJSONLObserver(f))
	}
	var sink metrics.Observer = metrics.NewMultiObserver(sinks...)
	if rate := a.cfg.Observability.SampleRate; rate > 0 && rate < 1 {
		sink = metrics.NewSamplingObserver(sink, rate)
	}
	a.async = metrics.NewAsyncObserver(sink, a.cfg.Observability.Buffer)
	return a.async, nil
}

// Engine exposes the conversation engine, mainly for stats.
func (a *Assistant) Engine() *engine.Engine { return a.engine }

// Run starts capture and drives the engine until ctx ends, the user asks to
// stop, or the capture device dies. A dead device is fatal: the engine goes
// offline and Run returns the capture error.
func (a *Assistant) Run(ctx context.Context) error {
	if err := a.speaker.Start(ctx); err != nil {
		return err
	}
	if a.capture != nil {
		if err := a.capture.Start(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.path.Run(runCtx, a.frames)

	fatal := make(chan error, 1)
	if a.capture != nil {
		go func() {
			select {
			case err := <-a.capture.Fatal():
				a.logger.Error("capture device failed", slog.String("error", err.Error()))
				fatal <- err
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	err := a.engine.Run(runCtx, a.path.Utterances())
	select {
	case ferr := <-fatal:
		return ferr
	default:
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Drain lets queued playback finish, bounded by the caller's patience.
func (a *Assistant) Drain() error {
	if a.player == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.player.Drain(ctx)
}

// Close releases devices and providers.
func (a *Assistant) Close() error {
	a.closeAll()
	return nil
}

func (a *Assistant) closeAll() {
	if a.capture != nil {
		_ = a.capture.Close()
	}
	if a.speaker != nil {
		_ = a.speaker.Close()
	}
	if a.stt != nil {
		_ = a.stt.Close()
	}
	if a.planner != nil {
		_ = a.planner.Close()
	}
	if a.player != nil {
		_ = a.player.Close()
	}
	// Observers last, after every emitter above has stopped. Close drains
	// the async buffer before the file goes away.
	if a.async != nil {
		a.async.Close()
		a.async = nil
	}
	if a.metricsFile != nil {
		_ = a.metricsFile.Close()
		a.metricsFile = nil
	}
}

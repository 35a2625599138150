// Package engine orchestrates the conversation loop: finalized utterances
// come in, get transcribed, checked against control phrases, debounced into
// a single request, planned, acted on, and answered out loud. One turn runs
// at a time; a barge-in or a newer utterance cancels it through its token.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/actions"
	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/adapters/tts"
	"github.com/cronolabs/crono/pkg/commands"
	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/logging"
	"github.com/cronolabs/crono/pkg/metrics"
	"github.com/cronolabs/crono/pkg/plan"
	"github.com/cronolabs/crono/pkg/redact"
	"github.com/cronolabs/crono/pkg/resilience"
	"github.com/cronolabs/crono/pkg/turn"
	"github.com/cronolabs/crono/pkg/vocab"
)

// ErrRestartRequested is returned by Run when the user asked for a restart.
// A shutdown request makes Run return nil.
var ErrRestartRequested = errors.New("restart requested")

// Spoken system responses. Portuguese because the assistant's users are.
const (
	msgTranscribeFailed = "Desculpe, não consegui processar o áudio."
	msgPlanFailed       = "Desculpe, tive um problema para pensar na resposta."
	msgActionFailed     = "Houve uma falha na execução da ação."
	msgNotUnderstood    = "Desculpe, não entendi."
	msgConfirmAsk       = "Essa ação pode ser destrutiva. Posso prosseguir?"
	msgConfirmCancelled = "Ok, cancelei."
	msgVocabImported    = "Vocabulário atualizado."
	msgDone             = "Feito."
)

// ListenControl pauses and resumes the audio path. The engine stops
// listening when it goes offline.
type ListenControl interface {
	SetListening(bool)
}

type Config struct {
	// TranscribeTimeout bounds a single transcription call.
	TranscribeTimeout time.Duration
	// PlanTimeout bounds a single planner call.
	PlanTimeout time.Duration
	// DebounceWindow is how long to wait for a follow-up fragment before
	// planning. DebounceMax caps the total wait, MaxMergeParts the number
	// of fragments merged into one request.
	DebounceWindow time.Duration
	DebounceMax    time.Duration
	MaxMergeParts  int
	// HistoryDepth is how many exchanges are replayed to the planner.
	HistoryDepth int
	// BreakerThreshold and BreakerCooldown shape the transcription
	// circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 8 * time.Second
	}
	if c.PlanTimeout <= 0 {
		c.PlanTimeout = 30 * time.Second
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 900 * time.Millisecond
	}
	if c.DebounceMax <= 0 {
		c.DebounceMax = 1600 * time.Millisecond
	}
	if c.MaxMergeParts <= 0 {
		c.MaxMergeParts = 4
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 6
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Deps are the engine's collaborators. STT, Planner, Speaker, and Dispatcher
// are required; the rest may be nil.
type Deps struct {
	STT        stt.Transcriber
	Planner    planner.Planner
	Speaker    tts.Speaker
	Dispatcher actions.Dispatcher
	Vocab      *vocab.Corrector
	Listen     ListenControl
	Observer   metrics.Observer
	Logger     *slog.Logger
	// Dropped reports frames and utterances lost upstream of the engine,
	// surfaced through Snapshot.
	Dropped func() uint64
}

type Stats struct {
	Turns         uint64
	Cancelled     uint64
	Apologies     uint64
	CommandPhrase uint64
	Dropped       uint64
}

type Engine struct {
	cfg        Config
	fsm        *turn.Machine
	stt        stt.Transcriber
	planner    planner.Planner
	speaker    tts.Speaker
	dispatcher actions.Dispatcher
	corrector  *vocab.Corrector
	recognizer *commands.Recognizer
	listen     ListenControl
	breaker    *resilience.CircuitBreaker
	obs        metrics.Observer
	logger     *slog.Logger
	droppedFn  func() uint64

	mu             sync.Mutex
	active         *turn.Token
	home           turn.State
	pendingParts   []string
	firstPartAt    time.Time
	pendingConfirm *plan.Plan
	history        []planner.Exchange
	pttEnabled     bool
	pttDown        bool
	offline        bool
	stats          Stats
}

var _ turn.BargeInNotifier = (*Engine)(nil)

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.STT == nil || deps.Planner == nil || deps.Speaker == nil || deps.Dispatcher == nil {
		return nil, errorsx.Wrap(errors.New("engine: missing provider"), errorsx.ReasonConfig)
	}
	cfg = cfg.withDefaults()
	obs := deps.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		fsm:        turn.NewMachine(),
		stt:        deps.STT,
		planner:    deps.Planner,
		speaker:    deps.Speaker,
		dispatcher: deps.Dispatcher,
		corrector:  deps.Vocab,
		recognizer: commands.NewRecognizer(),
		listen:     deps.Listen,
		breaker:    resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		obs:        obs,
		logger:     logging.NewComponentLogger(deps.Logger, "engine"),
		droppedFn:  deps.Dropped,
		home:       turn.StateListening,
	}, nil
}

// Machine exposes the conversation state machine, mainly so the audio path
// can read Busy().
func (e *Engine) Machine() *turn.Machine { return e.fsm }

func (e *Engine) State() turn.State { return e.fsm.State() }

func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	s := e.stats
	e.mu.Unlock()
	if e.droppedFn != nil {
		s.Dropped = e.droppedFn()
	}
	return s
}

// OnBargeIn cancels the active turn. Called from the audio path when the
// user talks over the assistant.
func (e *Engine) OnBargeIn(reason turn.CancelReason) {
	e.mu.Lock()
	tok := e.active
	e.mu.Unlock()
	if tok == nil {
		return
	}
	tok.Cancel(reason)
	e.obs.RecordEvent(metrics.Count(metrics.EventBargeIn, map[string]string{
		"reason": string(reason),
	}))
	e.logger.Info("barge-in, turn cancelled",
		slog.String("turn_id", tok.ID()),
		slog.String("reason", string(reason)))
}

// Run consumes finalized utterances until ctx ends, the channel closes, or
// the user asks to shut down or restart. Turns run sequentially; while one
// is in flight, new utterances queue in the channel and a barge-in cancels
// the current turn so the next one starts promptly.
func (e *Engine) Run(ctx context.Context, in <-chan *frames.Utterance) error {
	e.logger.Info("engine started",
		slog.String("stt", e.stt.Name()),
		slog.String("planner", e.planner.Name()),
		slog.String("tts", e.speaker.Name()))

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			e.goOffline("context cancelled")
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				e.goOffline("utterance stream closed")
				return nil
			}
			switch e.handleUtterance(ctx, u, debounce) {
			case commands.KindShutdown:
				e.goOffline("shutdown requested")
				return nil
			case commands.KindRestart:
				e.goOffline("restart requested")
				return ErrRestartRequested
			}
		case <-debounce.C:
			e.respond(ctx, e.takePending())
		}
	}
}

// handleUtterance transcribes one utterance and routes it. It returns
// KindShutdown or KindRestart when the user asked to exit, KindNormal
// otherwise.
func (e *Engine) handleUtterance(ctx context.Context, u *frames.Utterance, debounce *time.Timer) commands.Kind {
	start := time.Now()
	e.transition(turn.StateTranscribing, "utterance finalized")

	tok := turn.NewToken(ctx)
	e.setActive(tok)
	defer e.clearActive(tok)

	text, err := e.transcribe(tok.Context(), u)
	e.obs.RecordEvent(metrics.StageLatency("transcribe", time.Since(start)))
	if err != nil {
		if tok.Cancelled() || ctx.Err() != nil {
			e.noteCancelled(tok)
			e.goHome("transcription cancelled")
			return commands.KindNormal
		}
		e.logger.Error("transcription failed",
			slog.String("utterance_id", u.ID()),
			slog.String("error", err.Error()))
		e.apologize(tok, msgTranscribeFailed)
		return commands.KindNormal
	}
	if dropTranscript(text) {
		e.logger.Debug("transcript dropped",
			slog.String("utterance_id", u.ID()),
			slog.String("text", text))
		e.goHome("empty or hallucinated transcript")
		return commands.KindNormal
	}
	e.logger.Info("transcript",
		slog.String("utterance_id", u.ID()),
		slog.String("text", redact.Transcript(text)),
		slog.Duration("audio", u.Duration()))

	if e.homeState() == turn.StateTyping {
		return e.handleTyping(tok, text)
	}
	if e.corrector != nil {
		text = e.corrector.Apply(text)
	}

	cmd := e.recognizer.Analyze(text)
	if cmd.Kind != commands.KindNormal {
		e.countCommand()
	}
	switch cmd.Kind {
	case commands.KindShutdown, commands.KindRestart:
		e.sayAck(tok, cmd.Message)
		return cmd.Kind
	case commands.KindInterrupt:
		// The barge-in already cancelled whatever was playing; the
		// phrase itself needs no reply.
		e.dropPending()
		e.goHome("interrupt phrase")
		return commands.KindNormal
	case commands.KindStandbyOn:
		e.setHome(turn.StateStandby)
		e.sayAck(tok, cmd.Message)
		return commands.KindNormal
	case commands.KindSnoozeOn:
		e.setHome(turn.StateSnooze)
		e.sayAck(tok, cmd.Message)
		return commands.KindNormal
	case commands.KindStandbyOff, commands.KindSnoozeOff:
		e.setHome(turn.StateListening)
		e.sayAck(tok, cmd.Message)
		return commands.KindNormal
	case commands.KindTypingOn:
		e.setHome(turn.StateTyping)
		e.sayAck(tok, cmd.Message)
		return commands.KindNormal
	case commands.KindTypingOff:
		e.setHome(turn.StateListening)
		e.sayAck(tok, cmd.Message)
		return commands.KindNormal
	case commands.KindVocabImport:
		if e.corrector != nil {
			if n := e.corrector.Import(text); n > 0 {
				e.logger.Info("vocabulary imported", slog.Int("entries", n))
				e.sayAck(tok, msgVocabImported)
				return commands.KindNormal
			}
		}
		// No importable pairs in the phrase; treat it as normal speech.
	}

	// Dormant modes ignore everything except the wake phrases above.
	if e.homeState().Dormant() {
		e.logger.Debug("dormant, transcript ignored", slog.String("text", redact.Transcript(text)))
		e.goHome("dormant mode")
		return commands.KindNormal
	}

	if e.takeConfirmation(ctx, tok, text) {
		return commands.KindNormal
	}

	e.appendPending(text, debounce)
	e.goHome("awaiting debounce")
	return commands.KindNormal
}

// handleTyping turns dictation into keystrokes. Only the typing-off phrase
// and an explicit shutdown escape the mode; everything else is typed as-is,
// uncorrected.
func (e *Engine) handleTyping(tok *turn.Token, text string) commands.Kind {
	cmd := e.recognizer.Analyze(text)
	switch cmd.Kind {
	case commands.KindTypingOff:
		e.countCommand()
		e.setHome(turn.StateListening)
		e.sayAck(tok, cmd.Message)
		return commands.KindNormal
	case commands.KindShutdown:
		e.countCommand()
		e.sayAck(tok, cmd.Message)
		return cmd.Kind
	}

	e.transition(turn.StateActing, "typing dictation")
	_, err := e.dispatcher.Dispatch(tok.Context(), "type_text", map[string]any{"text": text})
	e.obs.RecordEvent(metrics.Count(metrics.EventActionExecuted, map[string]string{
		"intent":  "type_text",
		"success": boolTag(err == nil),
	}))
	if err != nil && !tok.Cancelled() {
		e.logger.Error("typing dispatch failed", slog.String("error", err.Error()))
		e.apologize(tok, msgActionFailed)
		return commands.KindNormal
	}
	e.goHome("dictation typed")
	return commands.KindNormal
}

func (e *Engine) transcribe(ctx context.Context, u *frames.Utterance) (string, error) {
	if !e.breaker.Allow() {
		return "", errorsx.Wrap(errors.New("transcription suspended after repeated failures"),
			errorsx.ReasonSTTCircuitOpen)
	}
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TranscribeTimeout)
	defer cancel()
	text, err := e.stt.Transcribe(tctx, u)
	if err != nil {
		e.breaker.OnError(err)
		return "", err
	}
	e.breaker.OnSuccess()
	return strings.TrimSpace(text), nil
}

// appendPending merges transcript fragments spoken in quick succession so
// one request reaches the planner instead of several partial ones.
func (e *Engine) appendPending(text string, debounce *time.Timer) {
	e.mu.Lock()
	if len(e.pendingParts) == 0 {
		e.firstPartAt = time.Now()
	}
	e.pendingParts = append(e.pendingParts, text)
	parts := len(e.pendingParts)
	wait := e.cfg.DebounceWindow
	if remaining := time.Until(e.firstPartAt.Add(e.cfg.DebounceMax)); remaining < wait {
		wait = remaining
	}
	e.mu.Unlock()

	stopTimer(debounce)
	if parts >= e.cfg.MaxMergeParts || wait <= 0 {
		wait = time.Nanosecond
	}
	debounce.Reset(wait)
}

func (e *Engine) takePending() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	text := strings.Join(e.pendingParts, " ")
	e.pendingParts = nil
	return strings.TrimSpace(text)
}

func (e *Engine) dropPending() {
	e.mu.Lock()
	e.pendingParts = nil
	e.mu.Unlock()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (e *Engine) setActive(tok *turn.Token) {
	e.mu.Lock()
	e.active = tok
	e.mu.Unlock()
}

func (e *Engine) clearActive(tok *turn.Token) {
	e.mu.Lock()
	if e.active == tok {
		e.active = nil
	}
	e.mu.Unlock()
}

func (e *Engine) noteCancelled(tok *turn.Token) {
	e.mu.Lock()
	e.stats.Cancelled++
	e.mu.Unlock()
	e.obs.RecordEvent(metrics.Count(metrics.EventTurnCancelled, map[string]string{
		"reason": string(tok.Reason()),
	}))
}

func (e *Engine) countCommand() {
	e.mu.Lock()
	e.stats.CommandPhrase++
	e.mu.Unlock()
}

func (e *Engine) homeState() turn.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.home
}

func (e *Engine) setHome(s turn.State) {
	e.mu.Lock()
	e.home = s
	e.mu.Unlock()
}

func (e *Engine) transition(s turn.State, reason string) {
	if err := e.fsm.Transition(s, reason); err != nil {
		e.logger.Debug("state transition skipped", slog.String("error", err.Error()))
		return
	}
	e.obs.RecordEvent(metrics.Count(metrics.EventStateChange, map[string]string{
		"state": s.String(),
	}))
}

func (e *Engine) goHome(reason string) {
	e.transition(e.homeState(), reason)
}

func (e *Engine) goOffline(reason string) {
	e.mu.Lock()
	e.offline = true
	e.mu.Unlock()
	if e.listen != nil {
		e.listen.SetListening(false)
	}
	e.transition(turn.StateOffline, reason)
	e.logger.Info("engine offline", slog.String("reason", reason))
}

// SetPTTEnabled switches push-to-talk mode. While enabled, the microphone
// path only forms utterances when the talk key is held.
func (e *Engine) SetPTTEnabled(enabled bool) {
	e.mu.Lock()
	e.pttEnabled = enabled
	if !enabled {
		e.pttDown = false
	}
	e.mu.Unlock()
	e.applyListenGate()
	e.logger.Info("push-to-talk", slog.Bool("enabled", enabled))
}

// SetPTTDown reports the talk key going down or up. Ignored unless
// push-to-talk mode is enabled.
func (e *Engine) SetPTTDown(down bool) {
	e.mu.Lock()
	if !e.pttEnabled {
		e.mu.Unlock()
		return
	}
	e.pttDown = down
	e.mu.Unlock()
	e.applyListenGate()
}

func (e *Engine) applyListenGate() {
	if e.listen == nil {
		return
	}
	e.mu.Lock()
	listening := !e.offline && (!e.pttEnabled || e.pttDown)
	e.mu.Unlock()
	e.listen.SetListening(listening)
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

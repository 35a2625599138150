package crono

import (
	"fmt"
	"strings"

	"github.com/cronolabs/crono/pkg/adapters/actions"
	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/adapters/tts"
)

// TTSEnv hands a speaker factory its playback plumbing.
type TTSEnv struct {
	// Sink receives synthesized PCM. Satisfied by audio.Player.
	Sink PCMSink
	// Listener observes playback for echo gating.
	Listener tts.PlaybackListener
}

// ActionsEnv hands a dispatcher factory its callbacks.
type ActionsEnv struct {
	// Announce speaks a short out-of-turn message, used by timers.
	Announce func(text string)
}

type STTFactory func(cfg Config) (stt.Transcriber, error)
type PlannerFactory func(cfg Config) (planner.Planner, error)
type TTSFactory func(cfg Config, env TTSEnv) (tts.Speaker, error)
type ActionsFactory func(cfg Config, env ActionsEnv) (actions.Dispatcher, error)

// ProviderRegistry maps vendor names from config onto adapter constructors.
type ProviderRegistry struct {
	stt     map[string]STTFactory
	planner map[string]PlannerFactory
	tts     map[string]TTSFactory
	actions map[string]ActionsFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:     make(map[string]STTFactory),
		planner: make(map[string]PlannerFactory),
		tts:     make(map[string]TTSFactory),
		actions: make(map[string]ActionsFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterPlanner(name string, factory PlannerFactory) {
	r.planner[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterActions(name string, factory ActionsFactory) {
	r.actions[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg Config) (stt.Transcriber, error) {
	fn := r.stt[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildPlanner(provider string, cfg Config) (planner.Planner, error) {
	fn := r.planner[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("planner provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config, env TTSEnv) (tts.Speaker, error) {
	fn := r.tts[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg, env)
}

func (r *ProviderRegistry) BuildActions(provider string, cfg Config, env ActionsEnv) (actions.Dispatcher, error) {
	fn := r.actions[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("actions provider not registered: %s", provider)
	}
	return fn(cfg, env)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

package crono

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/actions"
	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/adapters/tts"
	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/plan"
	"github.com/cronolabs/crono/pkg/providers/mock"
	"github.com/cronolabs/crono/pkg/turn"
)

type fakeSink struct {
	mu      sync.Mutex
	written int
}

func (f *fakeSink) Write(pcm []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written += len(pcm)
	return len(pcm)
}

func (f *fakeSink) Drain(ctx context.Context) error { return nil }
func (f *fakeSink) Interrupt()                      {}
func (f *fakeSink) Active() bool                    { return false }

func testRegistry(sttP stt.Transcriber, pl planner.Planner, sp tts.Speaker, disp actions.Dispatcher) *ProviderRegistry {
	reg := NewProviderRegistry()
	reg.RegisterSTT("mock", func(cfg Config) (stt.Transcriber, error) { return sttP, nil })
	reg.RegisterPlanner("mock", func(cfg Config) (planner.Planner, error) { return pl, nil })
	reg.RegisterTTS("mock", func(cfg Config, env TTSEnv) (tts.Speaker, error) { return sp, nil })
	reg.RegisterActions("mock", func(cfg Config, env ActionsEnv) (actions.Dispatcher, error) { return disp, nil })
	return reg
}

func mockConfig() Config {
	return Config{
		Audio:     AudioConfig{SampleRate: 16000, FrameMs: 30, QueueSize: 16},
		VAD:       VADConfig{BaseThreshold: 250, FloorAlpha: 0.08, Sensitivity: 1.8, FloorMargin: 40, CeilingMultiple: 4, IdleBand: 1.2},
		Echo:      EchoConfig{GuardMs: 1, CooldownMs: 1, Boost: 200, BaselineAlpha: 0.15, Multiplier: 1.6, Delta: 200},
		Utterance: UtteranceConfig{StartFrames: 2, SilenceEndFrames: 16, MinFrames: 6, MaxFrames: 500},
		Turn: TurnConfig{
			BargeInCooldownMs:   1200,
			BargeInWhileBusy:    true,
			TranscribeTimeoutMs: 1000,
			PlanTimeoutMs:       1000,
			DebounceMs:          20,
			DebounceMaxMs:       80,
			MaxMergeParts:       4,
			HistoryDepth:        6,
			BreakerThreshold:    3,
			BreakerCooldownMs:   1000,
		},
		Vendors: VendorsConfig{
			STT:     VendorConfig{Provider: "mock"},
			Planner: VendorConfig{Provider: "mock"},
			TTS:     VendorConfig{Provider: "mock"},
			Actions: VendorConfig{Provider: "mock"},
		},
	}
}

func toneFrame(seq uint64, amp int16) frames.AudioFrame {
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = amp
	}
	return frames.NewAudioFrame(seq, samples, 16000, time.Now())
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := NewProviderRegistry()
	if _, err := reg.BuildSTT("whisper", Config{}); err == nil {
		t.Fatal("expected error for unregistered stt provider")
	}
	if _, err := reg.BuildActions("desktop", Config{}, ActionsEnv{}); err == nil {
		t.Fatal("expected error for unregistered actions provider")
	}
}

func TestRegistryNameNormalization(t *testing.T) {
	reg := NewProviderRegistry()
	reg.RegisterSTT("Whisper", func(cfg Config) (stt.Transcriber, error) {
		return mock.NewTranscriber(mock.STTConfig{}), nil
	})
	if _, err := reg.BuildSTT(" whisper ", Config{}); err != nil {
		t.Fatalf("BuildSTT: %v", err)
	}
}

func TestNewRejectsUnknownVendor(t *testing.T) {
	cfg := mockConfig()
	cfg.Vendors.Planner.Provider = "gemini"
	reg := testRegistry(
		mock.NewTranscriber(mock.STTConfig{}),
		mock.NewPlanner(mock.PlannerConfig{}),
		mock.NewSpeaker(mock.SpeakerConfig{}),
		mock.NewDispatcher(mock.DispatcherConfig{}),
	)
	if _, err := New(Options{Config: cfg, Registry: reg, Output: &fakeSink{}, Frames: make(chan frames.AudioFrame)}); err == nil {
		t.Fatal("expected error for unregistered planner vendor")
	}
}

func TestAssistantEndToEnd(t *testing.T) {
	sttP := mock.NewTranscriber(mock.STTConfig{Transcripts: []string{"abre o navegador"}})
	pl := mock.NewPlanner(mock.PlannerConfig{PlanFor: map[string]plan.Plan{
		"abre o navegador": plan.Normalize(map[string]any{
			"goal": "abrir o navegador",
			"plan": []any{map[string]any{
				"intent":     "open_app",
				"parameters": map[string]any{"app": "firefox"},
			}},
			"response": "Abrindo o navegador.",
		}),
	}})
	sp := mock.NewSpeaker(mock.SpeakerConfig{})
	disp := mock.NewDispatcher(mock.DispatcherConfig{})

	in := make(chan frames.AudioFrame, 64)
	a, err := New(Options{
		Config:   mockConfig(),
		Registry: testRegistry(sttP, pl, sp, disp),
		Frames:   in,
		Output:   &fakeSink{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if got := a.Engine().State(); got != turn.StateListening {
		t.Fatalf("initial state = %v, want listening", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var seq uint64
	for i := 0; i < 10; i++ {
		seq++
		in <- toneFrame(seq, 8000)
	}
	for i := 0; i < 20; i++ {
		seq++
		in <- toneFrame(seq, 0)
	}

	deadline := time.After(3 * time.Second)
	for len(disp.Calls()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("dispatcher never called; spoken=%v", sp.Spoken())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if calls := disp.Calls(); calls[0].Intent != "open_app" {
		t.Fatalf("intent = %q, want open_app", calls[0].Intent)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestAssistantWritesMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	cfg := mockConfig()
	cfg.Observability.MetricsPath = path
	cfg.Observability.Buffer = 256
	cfg.Observability.SampleRate = 1

	sttP := mock.NewTranscriber(mock.STTConfig{Transcripts: []string{"desligar"}})
	in := make(chan frames.AudioFrame, 64)
	a, err := New(Options{
		Config: cfg,
		Registry: testRegistry(sttP,
			mock.NewPlanner(mock.PlannerConfig{}),
			mock.NewSpeaker(mock.SpeakerConfig{}),
			mock.NewDispatcher(mock.DispatcherConfig{})),
		Frames: in,
		Output: &fakeSink{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	var seq uint64
	for i := 0; i < 10; i++ {
		seq++
		in <- toneFrame(seq, 8000)
	}
	for i := 0; i < 20; i++ {
		seq++
		in <- toneFrame(seq, 0)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on shutdown phrase")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "utterance.finalized") {
		t.Fatalf("metrics file missing utterance event:\n%s", body)
	}
	if !strings.Contains(body, "turn.state_change") {
		t.Fatalf("metrics file missing state change event:\n%s", body)
	}
}

func TestAssistantShutdownPhrase(t *testing.T) {
	sttP := mock.NewTranscriber(mock.STTConfig{Transcripts: []string{"desligar"}})
	in := make(chan frames.AudioFrame, 64)
	a, err := New(Options{
		Config: mockConfig(),
		Registry: testRegistry(sttP,
			mock.NewPlanner(mock.PlannerConfig{}),
			mock.NewSpeaker(mock.SpeakerConfig{}),
			mock.NewDispatcher(mock.DispatcherConfig{})),
		Frames: in,
		Output: &fakeSink{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	var seq uint64
	for i := 0; i < 10; i++ {
		seq++
		in <- toneFrame(seq, 8000)
	}
	for i := 0; i < 20; i++ {
		seq++
		in <- toneFrame(seq, 0)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after shutdown phrase", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on shutdown phrase")
	}
	if got := a.Engine().State(); got != turn.StateOffline {
		t.Fatalf("state = %v, want offline", got)
	}
}

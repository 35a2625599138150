package crono

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
vendors:
  stt:
    provider: whisper
  planner:
    provider: ollama
  tts:
    provider: edge
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMs != 30 {
		t.Fatalf("frame ms = %d, want 30", cfg.Audio.FrameMs)
	}
	if cfg.VAD.BaseThreshold != 250 {
		t.Fatalf("base threshold = %v, want 250", cfg.VAD.BaseThreshold)
	}
	if cfg.Utterance.SilenceEndFrames != 16 {
		t.Fatalf("silence end frames = %d, want 16", cfg.Utterance.SilenceEndFrames)
	}
	if cfg.Turn.BargeInCooldownMs != 1200 {
		t.Fatalf("barge-in cooldown = %d, want 1200", cfg.Turn.BargeInCooldownMs)
	}
	if !cfg.Turn.BargeInWhileBusy {
		t.Fatal("barge-in while busy should default on")
	}
	if cfg.Vendors.Actions.Provider != "desktop" {
		t.Fatalf("actions provider = %q, want desktop", cfg.Vendors.Actions.Provider)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatal("redact_pii should default on")
	}
	if cfg.Observability.Buffer != 2048 {
		t.Fatalf("observability buffer = %d, want 2048", cfg.Observability.Buffer)
	}
	if cfg.Observability.SampleRate != 1 {
		t.Fatalf("observability sample rate = %v, want 1", cfg.Observability.SampleRate)
	}
	if cfg.Observability.MetricsPath != "" {
		t.Fatalf("metrics path = %q, want empty", cfg.Observability.MetricsPath)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
vad:
  base_threshold: 400
turn:
  debounce_ms: 500
  barge_in_while_busy: false
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.VAD.BaseThreshold != 400 {
		t.Fatalf("base threshold = %v, want 400", cfg.VAD.BaseThreshold)
	}
	if cfg.Turn.DebounceMs != 500 {
		t.Fatalf("debounce = %d, want 500", cfg.Turn.DebounceMs)
	}
	if cfg.Turn.BargeInWhileBusy {
		t.Fatal("barge-in while busy should be off")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("CRONO_TEST_HOST", "localhost:11434")
	t.Setenv("CRONO_TEST_VOCAB", "/tmp/vocab.json")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
vocab:
  path: ${CRONO_TEST_VOCAB}
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Vocab.Path != "/tmp/vocab.json" {
		t.Fatalf("vocab path = %q, want expanded", cfg.Vocab.Path)
	}

	cfg2, err := LoadConfig(writeConfig(t, strings.Replace(minimalConfig,
		"provider: ollama",
		"provider: ollama\n    settings:\n      host: ${CRONO_TEST_HOST}", 1)))
	if err != nil {
		t.Fatalf("LoadConfig with settings: %v", err)
	}
	if got := cfg2.Vendors.Planner.Settings["host"]; got != "localhost:11434" {
		t.Fatalf("planner host = %v, want expanded", got)
	}
}

func TestLoadConfigMissingProviderFails(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
vendors:
  stt:
    provider: whisper
  tts:
    provider: edge
`))
	if err == nil {
		t.Fatal("expected validation error for missing planner provider")
	}
	if !strings.Contains(err.Error(), "vendors.planner.provider") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"zero base threshold", func(c *Config) { c.VAD.BaseThreshold = 0 }},
		{"sensitivity at 1", func(c *Config) { c.VAD.Sensitivity = 1 }},
		{"max below min frames", func(c *Config) { c.Utterance.MaxFrames = c.Utterance.MinFrames }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestComponentConfigMapping(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	det := cfg.detectorConfig()
	if det.FloorCeiling != 1000 {
		t.Fatalf("floor ceiling = %v, want 1000", det.FloorCeiling)
	}
	if det.FloorMultiplier != 1.8 {
		t.Fatalf("floor multiplier = %v, want 1.8", det.FloorMultiplier)
	}

	gate := cfg.gateConfig()
	if gate.Guard != 250*time.Millisecond {
		t.Fatalf("guard = %v, want 250ms", gate.Guard)
	}
	if gate.Cooldown != 350*time.Millisecond {
		t.Fatalf("cooldown = %v, want 350ms", gate.Cooldown)
	}

	eng := cfg.engineConfig()
	if eng.DebounceWindow != 900*time.Millisecond {
		t.Fatalf("debounce window = %v, want 900ms", eng.DebounceWindow)
	}
	if eng.MaxMergeParts != 4 {
		t.Fatalf("max merge parts = %d, want 4", eng.MaxMergeParts)
	}
}

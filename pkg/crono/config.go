// Package crono wires the full assistant: config, provider registry, audio
// path, and the conversation engine.
package crono

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cronolabs/crono/pkg/engine"
	"github.com/cronolabs/crono/pkg/turn"
	"github.com/cronolabs/crono/pkg/utterance"
	"github.com/cronolabs/crono/pkg/vad"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	Language    string `mapstructure:"language"`

	Audio         AudioConfig         `mapstructure:"audio"`
	VAD           VADConfig           `mapstructure:"vad"`
	Echo          EchoConfig          `mapstructure:"echo"`
	Utterance     UtteranceConfig     `mapstructure:"utterance"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Vocab         VocabConfig         `mapstructure:"vocab"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	FrameMs    int `mapstructure:"frame_ms"`
	QueueSize  int `mapstructure:"queue_size"`
}

type VADConfig struct {
	BaseThreshold   float64 `mapstructure:"base_threshold"`
	FloorAlpha      float64 `mapstructure:"floor_alpha"`
	Sensitivity     float64 `mapstructure:"sensitivity"`
	FloorMargin     float64 `mapstructure:"floor_margin"`
	CeilingMultiple float64 `mapstructure:"ceiling_multiple"`
	IdleBand        float64 `mapstructure:"idle_band"`
}

type EchoConfig struct {
	GuardMs       int     `mapstructure:"guard_ms"`
	CooldownMs    int     `mapstructure:"cooldown_ms"`
	Boost         float64 `mapstructure:"boost"`
	BaselineAlpha float64 `mapstructure:"baseline_alpha"`
	Multiplier    float64 `mapstructure:"multiplier"`
	Delta         float64 `mapstructure:"delta"`
}

type UtteranceConfig struct {
	StartFrames      int `mapstructure:"start_frames"`
	SilenceEndFrames int `mapstructure:"silence_end_frames"`
	MinFrames        int `mapstructure:"min_frames"`
	MaxFrames        int `mapstructure:"max_frames"`
}

type TurnConfig struct {
	BargeInCooldownMs   int  `mapstructure:"barge_in_cooldown_ms"`
	BargeInWhileBusy    bool `mapstructure:"barge_in_while_busy"`
	TranscribeTimeoutMs int  `mapstructure:"transcribe_timeout_ms"`
	PlanTimeoutMs       int  `mapstructure:"plan_timeout_ms"`
	DebounceMs          int  `mapstructure:"debounce_ms"`
	DebounceMaxMs       int  `mapstructure:"debounce_max_ms"`
	MaxMergeParts       int  `mapstructure:"max_merge_parts"`
	HistoryDepth        int  `mapstructure:"history_depth"`
	BreakerThreshold    int  `mapstructure:"breaker_threshold"`
	BreakerCooldownMs   int  `mapstructure:"breaker_cooldown_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Voice    string         `mapstructure:"voice"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT     VendorConfig `mapstructure:"stt"`
	Planner VendorConfig `mapstructure:"planner"`
	TTS     VendorConfig `mapstructure:"tts"`
	Actions VendorConfig `mapstructure:"actions"`
}

type VocabConfig struct {
	Path string `mapstructure:"path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// ObservabilityConfig shapes the metrics sinks the builder assembles.
// MetricsPath, when set, appends one JSON line per event to that file.
// SampleRate below 1 thins the stream before it reaches the sinks.
type ObservabilityConfig struct {
	MetricsPath string  `mapstructure:"metrics_path"`
	Buffer      int     `mapstructure:"buffer"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("language", "pt")

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frame_ms", 30)
	v.SetDefault("audio.queue_size", 64)

	v.SetDefault("vad.base_threshold", 250)
	v.SetDefault("vad.floor_alpha", 0.08)
	v.SetDefault("vad.sensitivity", 1.8)
	v.SetDefault("vad.floor_margin", 40)
	v.SetDefault("vad.ceiling_multiple", 4)
	v.SetDefault("vad.idle_band", 1.2)

	v.SetDefault("echo.guard_ms", 250)
	v.SetDefault("echo.cooldown_ms", 350)
	v.SetDefault("echo.boost", 200)
	v.SetDefault("echo.baseline_alpha", 0.15)
	v.SetDefault("echo.multiplier", 1.6)
	v.SetDefault("echo.delta", 200)

	v.SetDefault("utterance.start_frames", 2)
	v.SetDefault("utterance.silence_end_frames", 16)
	v.SetDefault("utterance.min_frames", 6)
	v.SetDefault("utterance.max_frames", 500)

	v.SetDefault("turn.barge_in_cooldown_ms", 1200)
	v.SetDefault("turn.barge_in_while_busy", true)
	v.SetDefault("turn.transcribe_timeout_ms", 8000)
	v.SetDefault("turn.plan_timeout_ms", 30000)
	v.SetDefault("turn.debounce_ms", 900)
	v.SetDefault("turn.debounce_max_ms", 1600)
	v.SetDefault("turn.max_merge_parts", 4)
	v.SetDefault("turn.history_depth", 6)
	v.SetDefault("turn.breaker_threshold", 3)
	v.SetDefault("turn.breaker_cooldown_ms", 30000)

	v.SetDefault("vendors.actions.provider", "desktop")
	v.SetDefault("vocab.path", "")
	v.SetDefault("privacy.redact_pii", true)

	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.buffer", 2048)
	v.SetDefault("observability.sample_rate", 1)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate fails fast on anything the assistant cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Planner.Provider) == "" {
		return fmt.Errorf("vendors.planner.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Actions.Provider) == "" {
		return fmt.Errorf("vendors.actions.provider is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.Audio.FrameMs <= 0 {
		return fmt.Errorf("audio.frame_ms must be positive")
	}
	if c.VAD.BaseThreshold <= 0 {
		return fmt.Errorf("vad.base_threshold must be positive")
	}
	if c.VAD.Sensitivity <= 1 {
		return fmt.Errorf("vad.sensitivity must exceed 1")
	}
	if c.Utterance.SilenceEndFrames <= 0 {
		return fmt.Errorf("utterance.silence_end_frames must be positive")
	}
	if c.Utterance.MaxFrames <= c.Utterance.MinFrames {
		return fmt.Errorf("utterance.max_frames must exceed utterance.min_frames")
	}
	return nil
}

func (c Config) detectorConfig() vad.Config {
	return vad.Config{
		BaseThreshold:   c.VAD.BaseThreshold,
		FloorAlpha:      c.VAD.FloorAlpha,
		FloorMultiplier: c.VAD.Sensitivity,
		FloorMargin:     c.VAD.FloorMargin,
		FloorCeiling:    c.VAD.BaseThreshold * c.VAD.CeilingMultiple,
		IdleBand:        c.VAD.IdleBand,
	}
}

func (c Config) gateConfig() vad.GateConfig {
	return vad.GateConfig{
		Guard:         time.Duration(c.Echo.GuardMs) * time.Millisecond,
		Cooldown:      time.Duration(c.Echo.CooldownMs) * time.Millisecond,
		Boost:         c.Echo.Boost,
		BaselineAlpha: c.Echo.BaselineAlpha,
		Multiplier:    c.Echo.Multiplier,
		Delta:         c.Echo.Delta,
	}
}

func (c Config) bufferConfig() utterance.Config {
	return utterance.Config{
		Rate:             c.Audio.SampleRate,
		StartFrames:      c.Utterance.StartFrames,
		SilenceEndFrames: c.Utterance.SilenceEndFrames,
		MinFrames:        c.Utterance.MinFrames,
		MaxFrames:        c.Utterance.MaxFrames,
	}
}

func (c Config) bargeInConfig() turn.BargeInConfig {
	return turn.BargeInConfig{
		Cooldown:  time.Duration(c.Turn.BargeInCooldownMs) * time.Millisecond,
		WhileBusy: c.Turn.BargeInWhileBusy,
	}
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		TranscribeTimeout: time.Duration(c.Turn.TranscribeTimeoutMs) * time.Millisecond,
		PlanTimeout:       time.Duration(c.Turn.PlanTimeoutMs) * time.Millisecond,
		DebounceWindow:    time.Duration(c.Turn.DebounceMs) * time.Millisecond,
		DebounceMax:       time.Duration(c.Turn.DebounceMaxMs) * time.Millisecond,
		MaxMergeParts:     c.Turn.MaxMergeParts,
		HistoryDepth:      c.Turn.HistoryDepth,
		BreakerThreshold:  c.Turn.BreakerThreshold,
		BreakerCooldown:   time.Duration(c.Turn.BreakerCooldownMs) * time.Millisecond,
	}
}

// expandEnvStrings resolves ${VAR} references across the config, including
// inside vendor settings maps, so secrets stay out of config files.
func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.Planner.Settings = expandSettings(cfg.Vendors.Planner.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.Actions.Settings = expandSettings(cfg.Vendors.Actions.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}

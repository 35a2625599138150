package configutil

import (
	"strings"
	"testing"
)

func TestValidateSettings(t *testing.T) {
	schema := Schema{
		Required: []string{"endpoint"},
		Optional: []string{"model", "language"},
	}

	err := ValidateSettings(map[string]any{
		"Endpoint": "http://localhost:8090",
		"model":    "whisper-large-v3",
	}, schema)
	if err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	err = ValidateSettings(map[string]any{"model": "x"}, schema)
	if err == nil || !strings.Contains(err.Error(), "missing: endpoint") {
		t.Fatalf("missing required key not reported: %v", err)
	}

	err = ValidateSettings(map[string]any{"endpoint": "x", "volume": 3}, schema)
	if err == nil || !strings.Contains(err.Error(), "unknown: volume") {
		t.Fatalf("unknown key not reported: %v", err)
	}
}

func TestDecodeSettingsKeyMatching(t *testing.T) {
	type target struct {
		BaseURL string `mapstructure:"base_url"`
		Timeout int    `mapstructure:"timeout"`
	}
	var out target
	err := DecodeSettings(map[string]any{
		"Base-URL": "http://localhost:11434",
		"timeout":  "30",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.BaseURL != "http://localhost:11434" {
		t.Fatalf("base url = %q", out.BaseURL)
	}
	if out.Timeout != 30 {
		t.Fatalf("weakly typed int not decoded: %d", out.Timeout)
	}
}

func TestDecodeActionParameters(t *testing.T) {
	type typeText struct {
		Text  string `mapstructure:"text"`
		Delay int    `mapstructure:"delay_ms"`
	}
	var out typeText
	err := DecodeSettings(map[string]any{
		"text":     "bom dia",
		"delay_ms": 20,
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Text != "bom dia" || out.Delay != 20 {
		t.Fatalf("decoded = %+v", out)
	}
}

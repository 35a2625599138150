package stt

import (
	"context"

	"github.com/cronolabs/crono/pkg/frames"
)

// Transcriber defines the contract for any speech-to-text vendor
// implementation. Transcription is batch over a finalized utterance; the
// context carries the turn's cancellation.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts a finalized utterance to text.
	Transcribe(ctx context.Context, u *frames.Utterance) (string, error)
	// Close releases any vendor resources.
	Close() error
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SampleRate int
	Language   string
	// Settings carries vendor-specific keys, validated by the provider.
	Settings map[string]any
}

package tts

import "context"

// Speaker defines the contract for speech output. Speak blocks until the
// audio has finished playing or ctx is cancelled; cancellation must stop
// output within roughly one frame period.
type Speaker interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the synthesis backend.
	Start(ctx context.Context) error
	// Close shuts the backend down.
	Close() error
	// Speak synthesizes and plays text.
	Speak(ctx context.Context, text string) error
}

// PlaybackListener observes speaker activity. The echo gate implements
// this to boost thresholds while assistant audio is on the wire.
type PlaybackListener interface {
	OnPlaybackStart()
	OnPlaybackStop()
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	Voice    string
	Language string
	// Settings carries vendor-specific keys, validated by the provider.
	Settings map[string]any
}

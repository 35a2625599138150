package mock

import (
	"context"
	"sync"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/tts"
)

type SpeakerConfig struct {
	// Duration is how long each Speak "plays". Zero returns immediately.
	Duration time.Duration
	// Listener observes playback, like the echo gate would.
	Listener tts.PlaybackListener
	Err      error
}

type Speaker struct {
	cfg SpeakerConfig

	mu          sync.Mutex
	spoken      []string
	interrupted int
}

var _ tts.Speaker = (*Speaker)(nil)

func NewSpeaker(cfg SpeakerConfig) *Speaker {
	return &Speaker{cfg: cfg}
}

func (s *Speaker) Name() string { return "mock_tts" }

func (s *Speaker) Start(ctx context.Context) error { return nil }

func (s *Speaker) Speak(ctx context.Context, text string) error {
	if s.cfg.Err != nil {
		return s.cfg.Err
	}

	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()

	if s.cfg.Listener != nil {
		s.cfg.Listener.OnPlaybackStart()
		defer s.cfg.Listener.OnPlaybackStop()
	}
	if s.cfg.Duration <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.interrupted++
		s.mu.Unlock()
		return ctx.Err()
	case <-time.After(s.cfg.Duration):
		return nil
	}
}

func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *Speaker) Interrupted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}

func (s *Speaker) Close() error { return nil }

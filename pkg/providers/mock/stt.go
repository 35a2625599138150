// Package mock provides in-memory providers for tests and local wiring
// without external services.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/frames"
)

type STTConfig struct {
	// Transcripts are returned in order; the last one repeats.
	Transcripts []string
	// Delay simulates provider latency per call.
	Delay time.Duration
	// Err, when set, fails every call.
	Err error
}

type Transcriber struct {
	cfg STTConfig

	mu    sync.Mutex
	calls int
}

var _ stt.Transcriber = (*Transcriber)(nil)

func NewTranscriber(cfg STTConfig) *Transcriber {
	if len(cfg.Transcripts) == 0 {
		cfg.Transcripts = []string{"mock transcript"}
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, u *frames.Utterance) (string, error) {
	if t.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.cfg.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.cfg.Err != nil {
		return "", t.cfg.Err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.calls
	if idx >= len(t.cfg.Transcripts) {
		idx = len(t.cfg.Transcripts) - 1
	}
	t.calls++
	return t.cfg.Transcripts[idx], nil
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Transcriber) Close() error { return nil }

package mock

import (
	"context"
	"sync"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/plan"
)

type PlannerConfig struct {
	// PlanFor maps a transcript to its plan. Unmatched transcripts get a
	// plain chat response echoing the transcript.
	PlanFor map[string]plan.Plan
	Delay   time.Duration
	Err     error
}

type Planner struct {
	cfg PlannerConfig

	mu       sync.Mutex
	received []string
}

var _ planner.Planner = (*Planner)(nil)

func NewPlanner(cfg PlannerConfig) *Planner {
	return &Planner{cfg: cfg}
}

func (p *Planner) Name() string { return "mock_planner" }

func (p *Planner) Plan(ctx context.Context, transcript string, history []planner.Exchange) (plan.Plan, error) {
	if p.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return plan.Plan{}, ctx.Err()
		case <-time.After(p.cfg.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}
	if p.cfg.Err != nil {
		return plan.Plan{}, p.cfg.Err
	}

	p.mu.Lock()
	p.received = append(p.received, transcript)
	p.mu.Unlock()

	if pl, ok := p.cfg.PlanFor[transcript]; ok {
		if pl.ID == "" {
			pl.ID = "mock-plan"
		}
		return pl, nil
	}
	return plan.Normalize(map[string]any{
		"goal":     transcript,
		"response": "entendi: " + transcript,
	}), nil
}

func (p *Planner) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func (p *Planner) Close() error { return nil }

package planner

import (
	"context"

	"github.com/cronolabs/crono/pkg/plan"
)

// Exchange is one prior user/assistant turn, carried as planning context.
type Exchange struct {
	User      string
	Assistant string
}

// Planner defines the contract for the language model that turns a
// transcript into a structured plan.
type Planner interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Plan produces a normalized plan for the transcript.
	Plan(ctx context.Context, transcript string, history []Exchange) (plan.Plan, error)
	// Close releases any vendor resources.
	Close() error
}

// Config contains vendor-agnostic planner configuration.
type Config struct {
	Language string
	// Settings carries vendor-specific keys, validated by the provider.
	Settings map[string]any
}

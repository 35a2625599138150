package actions

import "context"

// Result is the outcome of one executed step.
type Result struct {
	Success bool
	Message string
}

// Dispatcher executes plan steps by intent. Implementations must honor ctx
// cancellation between and, where possible, within steps.
type Dispatcher interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Supports reports whether the dispatcher handles an intent.
	Supports(intent string) bool
	// Dispatch runs one step.
	Dispatch(ctx context.Context, intent string, params map[string]any) (Result, error)
}

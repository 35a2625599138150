package mock

import (
	"context"
	"sync"

	"github.com/cronolabs/crono/pkg/adapters/actions"
)

type Call struct {
	Intent string
	Params map[string]any
}

type DispatcherConfig struct {
	// ResultFor maps an intent to its result; unmatched intents succeed.
	ResultFor map[string]actions.Result
	ErrFor    map[string]error
}

type Dispatcher struct {
	cfg DispatcherConfig

	mu    sync.Mutex
	calls []Call
}

var _ actions.Dispatcher = (*Dispatcher)(nil)

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

func (d *Dispatcher) Name() string { return "mock_actions" }

func (d *Dispatcher) Supports(intent string) bool { return true }

func (d *Dispatcher) Dispatch(ctx context.Context, intent string, params map[string]any) (actions.Result, error) {
	if err := ctx.Err(); err != nil {
		return actions.Result{}, err
	}
	d.mu.Lock()
	d.calls = append(d.calls, Call{Intent: intent, Params: params})
	d.mu.Unlock()

	if err, ok := d.cfg.ErrFor[intent]; ok {
		return actions.Result{}, err
	}
	if res, ok := d.cfg.ResultFor[intent]; ok {
		return res, nil
	}
	return actions.Result{Success: true, Message: "ok"}, nil
}

func (d *Dispatcher) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRestart asks the lifecycle to tear the session down and start it
// again. Sessions return an error wrapping it when the user says the
// restart phrase.
var ErrRestart = errors.New("runner: restart requested")

// LifecycleRunner drives a Session through start, optional restarts, and a
// bounded drain on the way out.
type LifecycleRunner struct {
	state    int32
	session  Session
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
}

func NewLifecycleRunner(session Session, drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:   int32(StateNew),
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
}

// Run starts the session and restarts it each time the session asks. The
// returned error is the session's final error, with context cancellation
// treated as a clean stop.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)

	var runErr error
	for attempt := 1; ; attempt++ {
		runErr = r.session(r.ctx)
		if !errors.Is(runErr, ErrRestart) {
			break
		}
		if r.ctx.Err() != nil {
			runErr = nil
			break
		}
		if r.hooks.OnRestart != nil {
			r.hooks.OnRestart(attempt)
		}
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if stopErr := r.stop(); stopErr != nil && runErr == nil {
		runErr = stopErr
	}
	return runErr
}

// Stop cancels the running session and drains playback.
func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(r.timeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.cancel()
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

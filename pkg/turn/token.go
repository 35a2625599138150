package turn

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CancelReason names why a turn's token was cancelled. Cancellation is
// control flow, not failure; callers must not log it as an error.
type CancelReason string

const (
	CancelBargeIn    CancelReason = "barge_in"
	CancelSuperseded CancelReason = "superseded"
	CancelCommand    CancelReason = "command"
	CancelTimeout    CancelReason = "timeout"
	CancelShutdown   CancelReason = "shutdown"
)

// Token is the cancellation handle for one turn. Exactly one token is live
// while the machine is in a busy state; every stage of the pipeline checks
// it between steps and passes its Context into blocking calls.
type Token struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason CancelReason
}

// NewToken derives a turn token from the engine's root context, so engine
// shutdown cancels in-flight turns too.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *Token) ID() string { return t.id }

// Context is the context blocking stage calls must run under.
func (t *Token) Context() context.Context { return t.ctx }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cancel marks the token with the first reason given; later calls are no-ops.
func (t *Token) Cancel(reason CancelReason) {
	t.mu.Lock()
	if t.reason == "" {
		t.reason = reason
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Reason returns the cancel reason, empty while the token is live or when
// the parent context (not Cancel) ended it.
func (t *Token) Reason() CancelReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureListener struct {
	mu     sync.Mutex
	events []StateChange
}

func (c *captureListener) OnStateChange(event StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureListener) last() (StateChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return StateChange{}, false
	}
	return c.events[len(c.events)-1], true
}

func TestMachineStartsListening(t *testing.T) {
	m := NewMachine()
	if got := m.State(); got != StateListening {
		t.Fatalf("initial state = %v, want LISTENING", got)
	}
}

func TestMachineHappyPathTurn(t *testing.T) {
	m := NewMachine()
	steps := []State{StateTranscribing, StatePlanning, StateActing, StateSpeaking, StateListening}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %v failed: %v", s, err)
		}
	}
	if got := m.State(); got != StateListening {
		t.Fatalf("state after turn = %v, want LISTENING", got)
	}
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine()
	err := m.Transition(StateSpeaking, "skip ahead")
	if err == nil {
		t.Fatalf("LISTENING -> SPEAKING accepted")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error type = %T, want *InvalidTransitionError", err)
	}
	if ite.From != StateListening || ite.To != StateSpeaking {
		t.Fatalf("error = %v", ite)
	}
}

func TestMachineOfflineIsTerminal(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(StateOffline, "capture failed"); err != nil {
		t.Fatalf("transition to OFFLINE failed: %v", err)
	}
	if err := m.Transition(StateListening, "retry"); err == nil {
		t.Fatalf("transition out of OFFLINE accepted")
	}
}

func TestMachineNotifiesListeners(t *testing.T) {
	m := NewMachine()
	cap := &captureListener{}
	m.AddListener(cap)

	if err := m.Transition(StateStandby, "standby requested"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	ev, ok := cap.last()
	if !ok {
		t.Fatalf("no state change event captured")
	}
	if ev.FromState != StateListening || ev.ToState != StateStandby {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Reason != "standby requested" {
		t.Fatalf("reason = %q", ev.Reason)
	}
}

func TestMachineDormantResume(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(StateSnooze, "snooze on"); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	// a resume phrase still flows through transcription
	if err := m.Transition(StateTranscribing, "utterance"); err != nil {
		t.Fatalf("transcribe from snooze: %v", err)
	}
	if err := m.Transition(StateListening, "resume phrase"); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestStatePredicates(t *testing.T) {
	busy := []State{StateTranscribing, StatePlanning, StateActing, StateSpeaking}
	for _, s := range busy {
		if !s.Busy() {
			t.Fatalf("%v not busy", s)
		}
	}
	for _, s := range []State{StateListening, StateStandby, StateSnooze, StateTyping, StateOffline} {
		if s.Busy() {
			t.Fatalf("%v reported busy", s)
		}
	}
	if !StateStandby.Dormant() || !StateSnooze.Dormant() || StateListening.Dormant() {
		t.Fatalf("dormant predicate wrong")
	}
}

func TestTokenCancelReason(t *testing.T) {
	tok := NewToken(context.Background())
	if tok.Cancelled() {
		t.Fatalf("fresh token cancelled")
	}
	tok.Cancel(CancelBargeIn)
	tok.Cancel(CancelSuperseded) // first reason wins
	if !tok.Cancelled() {
		t.Fatalf("token not cancelled")
	}
	if got := tok.Reason(); got != CancelBargeIn {
		t.Fatalf("reason = %q, want barge_in", got)
	}
	if err := tok.Context().Err(); !errors.Is(err, context.Canceled) {
		t.Fatalf("context err = %v", err)
	}
}

func TestTokenFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := NewToken(parent)
	cancel()
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatalf("token did not follow parent cancellation")
	}
	if got := tok.Reason(); got != "" {
		t.Fatalf("parent cancellation set reason %q", got)
	}
}

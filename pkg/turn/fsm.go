package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes conversation state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Machine is the conversation finite state machine. Every state accepts a
// transition to Offline, which is terminal; fatal capture errors land there.
type Machine struct {
	currentState State
	mu           sync.RWMutex

	speakingStartTime  time.Time
	listeningStartTime time.Time

	stateChangeListeners []StateListener
}

var validTransitions = map[State][]State{
	StateListening:    {StateTranscribing, StatePlanning, StateStandby, StateSnooze, StateTyping},
	StateTranscribing: {StatePlanning, StateActing, StateSpeaking, StateListening, StateStandby, StateSnooze, StateTyping},
	StatePlanning:     {StateActing, StateSpeaking, StateListening, StateStandby, StateSnooze, StateTyping},
	StateActing:       {StateSpeaking, StateListening, StateStandby, StateSnooze, StateTyping},
	StateSpeaking:     {StateListening, StateStandby, StateSnooze, StateTyping},
	StateStandby:      {StateListening, StateTranscribing, StateSnooze},
	StateSnooze:       {StateListening, StateTranscribing, StateStandby},
	StateTyping:       {StateListening, StateTranscribing},
	StateOffline:      {},
}

// NewMachine creates a state machine starting in Listening.
func NewMachine() *Machine {
	return &Machine{currentState: StateListening}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *Machine) transitionValid(from, to State) bool {
	if to == StateOffline {
		return from != StateOffline
	}
	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transitionValid(m.currentState, state) {
		return &InvalidTransitionError{
			From: m.currentState,
			To:   state,
		}
	}

	oldState := m.currentState
	m.currentState = state

	switch state {
	case StateListening:
		m.listeningStartTime = time.Now()
	case StateSpeaking:
		m.speakingStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners (release lock during notification to avoid deadlocks)
	listeners := make([]StateListener, len(m.stateChangeListeners))
	copy(listeners, m.stateChangeListeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	m.mu.Lock()
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChangeListeners = append(m.stateChangeListeners, listener)
}

// SpeakingFor reports how long the machine has been in Speaking, zero
// otherwise.
func (m *Machine) SpeakingFor() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentState != StateSpeaking {
		return 0
	}
	return time.Since(m.speakingStartTime)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

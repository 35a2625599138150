package turn

type State int

const (
	StateListening State = iota
	StateTranscribing
	StatePlanning
	StateActing
	StateSpeaking
	StateStandby
	StateSnooze
	StateTyping
	StateOffline
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StatePlanning:
		return "PLANNING"
	case StateActing:
		return "ACTING"
	case StateSpeaking:
		return "SPEAKING"
	case StateStandby:
		return "STANDBY"
	case StateSnooze:
		return "SNOOZE"
	case StateTyping:
		return "TYPING_MODE"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether the state belongs to an in-flight turn. Exactly one
// cancellation token is live while the machine sits in a busy state.
func (s State) Busy() bool {
	switch s {
	case StateTranscribing, StatePlanning, StateActing, StateSpeaking:
		return true
	default:
		return false
	}
}

// Dormant reports states that keep capturing audio but suppress the normal
// pipeline until a resume phrase arrives.
func (s State) Dormant() bool {
	return s == StateStandby || s == StateSnooze
}

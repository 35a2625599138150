package metrics

import "time"

// Event names emitted by the capture path and the turn pipeline.
const (
	EventFrameDropped       = "audio.frame_dropped"
	EventFloorReset         = "vad.floor_reset"
	EventUtteranceFinalized = "utterance.finalized"
	EventUtteranceDiscarded = "utterance.discarded"
	EventStateChange        = "turn.state_change"
	EventBargeIn            = "turn.barge_in"
	EventTurnCancelled      = "turn.cancelled"
	EventStageLatency       = "turn.stage_latency"
	EventApology            = "turn.apology"
	EventActionExecuted     = "action.executed"
)

// Count builds a unit counter event.
func Count(name string, tags map[string]string) MetricsEvent {
	return MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: 1,
		Tags:  tags,
	}
}

// StageLatency builds a latency sample for one pipeline stage, in
// milliseconds.
func StageLatency(stage string, d time.Duration) MetricsEvent {
	return MetricsEvent{
		Name:  EventStageLatency,
		Time:  time.Now(),
		Value: float64(d.Milliseconds()),
		Tags:  map[string]string{"stage": stage},
	}
}

package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Capture failures are fatal; the engine goes offline.
	ReasonCaptureInit   ReasonCode = "capture_init"
	ReasonCaptureStream ReasonCode = "capture_stream"

	ReasonTranscription      ReasonCode = "transcription"
	ReasonTranscriptionRetry ReasonCode = "transcription_retry"
	ReasonSTTRateLimit       ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen     ReasonCode = "stt_circuit_open"

	ReasonPlanning     ReasonCode = "planning"
	ReasonPlanInvalid  ReasonCode = "plan_invalid"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonAction ReasonCode = "action"

	ReasonSpeechConnect ReasonCode = "speech_connect"
	ReasonSpeechStream  ReasonCode = "speech_stream"
	ReasonPlayback      ReasonCode = "playback"

	ReasonConfig ReasonCode = "config"
)

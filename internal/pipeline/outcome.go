package pipeline

// Stage identifies a step of the turn pipeline. Failed outcomes carry the
// stage at which processing stopped.
type Stage int

const (
	// StageActivity is the initial voice-activity check.
	StageActivity Stage = iota

	// StageSegmentation extracts speech segments from the raw audio.
	StageSegmentation

	// StageTranscription converts the selected speech segment to text.
	StageTranscription

	// StageContext loads recent conversation history.
	StageContext

	// StageGeneration produces the assistant's reply text.
	StageGeneration

	// StageSynthesis renders the reply text as speech.
	StageSynthesis

	// StagePersistence stores the completed turn.
	StagePersistence

	// StageComplete marks a turn that ran through the whole pipeline.
	StageComplete
)

// String returns the lowercase stage name used in logs and metric labels.
func (s Stage) String() string {
	switch s {
	case StageActivity:
		return "activity"
	case StageSegmentation:
		return "segmentation"
	case StageTranscription:
		return "transcription"
	case StageContext:
		return "context"
	case StageGeneration:
		return "generation"
	case StageSynthesis:
		return "synthesis"
	case StagePersistence:
		return "persistence"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// FallbackResponse is the reply text used when generation fails. The turn
// still completes so the caller gets an audible answer instead of an error.
const FallbackResponse = "I'm sorry, I couldn't process your request."

// Outcome is the result of one pipeline run.
//
// A successful outcome carries the transcript, the reply text, and usually
// the synthesised reply audio. When synthesis failed the outcome is still
// successful but ResponseAudio is nil (text-only degradation). A failed
// outcome carries the stage that stopped processing and a human-readable
// message.
type Outcome struct {
	// Success reports whether the turn produced a response.
	Success bool

	// Stage is [StageComplete] on success, otherwise the stage that failed.
	Stage Stage

	// SessionID is the session the turn ran under. Always set, even when the
	// request carried no session id (one is generated).
	SessionID string

	// Transcript is the recognised user speech. Empty on early failures.
	Transcript string

	// ResponseText is the assistant's reply text.
	ResponseText string

	// ResponseAudio is the synthesised reply. Nil when synthesis failed or
	// was skipped.
	ResponseAudio []byte

	// SampleRate echoes the input payload's sample rate in Hz. Providers may
	// synthesise at a different rate (the OpenAI speech endpoint returns
	// 24 kHz PCM); this field describes the request, not ResponseAudio.
	SampleRate int

	// ErrMessage describes the failure for unsuccessful outcomes. Successful
	// outcomes set it too when a best-effort stage was absorbed, so callers
	// can tell a clean turn from a degraded one.
	ErrMessage string
}

// Result returns the outcome's result label for metrics and logs:
// "failed", "degraded" (successful but without audio), or "completed".
func (o Outcome) Result() string {
	switch {
	case !o.Success:
		return "failed"
	case len(o.ResponseAudio) == 0:
		return "degraded"
	default:
		return "completed"
	}
}

// failure builds a failed outcome for the given stage.
func failure(stage Stage, sessionID, transcript, message string) Outcome {
	return Outcome{
		Success:    false,
		Stage:      stage,
		SessionID:  sessionID,
		Transcript: transcript,
		ErrMessage: message,
	}
}

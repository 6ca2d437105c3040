package orchestrator

// State is the voice turn state machine position. Only one turn runs at a
// time; while the machine is not Idle, new gestures are ignored.
type State int

const (
	Idle State = iota
	Listening
	Transcribing
	AwaitingReply
	Synthesizing
	Speaking
	ErrorState
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case AwaitingReply:
		return "awaiting_reply"
	case Synthesizing:
		return "synthesizing"
	case Speaking:
		return "speaking"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome summarizes how a turn ended.
type Outcome string

const (
	// OutcomeSpoken: the reply was synthesized remotely and played back.
	OutcomeSpoken Outcome = "spoken"
	// OutcomeSpokenLocal: remote synthesis or playback failed and the
	// on-device speaker carried the reply.
	OutcomeSpokenLocal Outcome = "spoken_local"
	// OutcomeNoSpeech: the utterance contained no speech; nothing was sent
	// downstream.
	OutcomeNoSpeech Outcome = "no_speech"
	// OutcomeFailed: the turn ended without any spoken response.
	OutcomeFailed Outcome = "failed"
)

// Notice is a user-facing message the embedding UI should surface.
type Notice struct {
	Code    string
	Message string
}

var (
	noticeNoSpeech = Notice{Code: "no_speech", Message: "No speech detected. Please try again."}
	noticeSTTError = Notice{Code: "stt_error", Message: "Sorry, speech recognition failed. Please try again."}
	noticeVoiceOut = Notice{Code: "voice_unavailable", Message: "Voice output is unavailable right now. Please read the reply on screen."}
)

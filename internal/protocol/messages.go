package protocol

import "time"

// Transcript is the speech-to-text output for one utterance.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReplyRequest is the body posted to the agent endpoint.
type ReplyRequest struct {
	Text string `json:"text"`
}

// ReplyResponse mirrors the agent wire format. Upstream agents are
// inconsistent about which key carries the reply; Text, Reply and Message are
// checked in that order. OK is a pointer so absence can be told apart from an
// explicit false.
type ReplyResponse struct {
	OK      *bool  `json:"ok,omitempty"`
	Text    string `json:"text,omitempty"`
	Reply   string `json:"reply,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Speech returns the reply text using the defined key priority, and whether
// the response counts as a success. A present-and-false OK flag is a failure
// regardless of any text field; an absent flag is a success when a usable
// text key exists.
func (r ReplyResponse) Speech() (string, bool) {
	if r.OK != nil && !*r.OK {
		return "", false
	}
	for _, candidate := range []string{r.Text, r.Reply, r.Message} {
		if candidate != "" {
			return candidate, true
		}
	}
	return "", false
}

// Classification is the structured emergency classification attached to a
// reply when the classifier is configured.
type Classification struct {
	EmergencyType string `json:"emergency_type"`
	Severity      string `json:"severity"`
	Response      string `json:"response"`
}

// TranscribeRequest is the JSON envelope accepted by the transcription
// endpoint: base64-encoded audio plus a language hint.
type TranscribeRequest struct {
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
}

// TranscribeResponse is the transcription endpoint reply.
type TranscribeResponse struct {
	Transcript       string  `json:"transcript"`
	DetectedLanguage string  `json:"detected_language"`
	Confidence       float64 `json:"confidence"`
}

// TurnEvent records one pipeline stage transition for a voice turn. Text
// carries the stage's free text (transcript or reply) and is stripped before
// persistence or fan-out unless the privacy scope allows it.
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Stage     string    `json:"stage"`
	Outcome   string    `json:"outcome"`
	Provider  string    `json:"provider,omitempty"`
	Text      string    `json:"text,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProviderStatus is broadcast by the provider registry.
type ProviderStatus struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Healthy   bool      `json:"healthy"`
	LastSeen  time.Time `json:"last_seen"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
}

const (
	SubjectTurnStarted   = "voice.turn.started"
	SubjectTurnCompleted = "voice.turn.completed"
	SubjectTurnFailed    = "voice.turn.failed"

	SubjectTranscriptFinal = "stt.transcript.final"
	SubjectReplyFinal      = "agent.reply.final"
	SubjectAudioReady      = "tts.audio.ready"
	SubjectPlaybackDone    = "playback.done"

	SubjectProviderAnnounce  = "ctrl.provider.announce"
	SubjectProviderHeartbeat = "ctrl.provider.heartbeat"
)

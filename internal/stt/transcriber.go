package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Utterance is one captured unit of spoken audio for a single turn. It is
// consumed exactly once by a Transcriber.
type Utterance struct {
	RawAudio   []byte
	MIMEType   string
	CapturedAt time.Time
}

// Transcript is the outcome of transcribing an utterance. An empty Text is a
// valid terminal state (no speech detected), not an error.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
}

// ErrEmptyAudio is returned when a caller hands over an utterance with no
// payload; capture-unavailable paths must not reach the transcriber.
var ErrEmptyAudio = errors.New("utterance has no audio payload")

// TranscriptionError wraps a provider or transport failure. There is no
// automatic retry: emergency UX favors prompt fallback over retry latency.
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription failed (%s)", e.Reason)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, utt Utterance) (Transcript, error)
}

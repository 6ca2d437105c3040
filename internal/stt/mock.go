package stt

import "context"

type mockTranscriber struct {
	transcript Transcript
	err        error
}

// NewMockTranscriber returns a transcriber that always yields the given
// transcript (or error).
func NewMockTranscriber(transcript Transcript, err error) Transcriber {
	return &mockTranscriber{transcript: transcript, err: err}
}

func (m *mockTranscriber) Transcribe(_ context.Context, utt Utterance) (Transcript, error) {
	if len(utt.RawAudio) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	if m.err != nil {
		return Transcript{}, m.err
	}
	return m.transcript, nil
}

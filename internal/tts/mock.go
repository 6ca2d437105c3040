package tts

import (
	"context"
	"sync"
)

type mockSynth struct {
	audio Audio
	err   error
}

// NewMockSynth returns a synthesizer that always yields the given audio or
// error.
func NewMockSynth(audio Audio, err error) Synthesizer {
	return &mockSynth{audio: audio, err: err}
}

func (m *mockSynth) Synthesize(_ context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrEmptyText
	}
	if m.err != nil {
		return Audio{}, m.err
	}
	return m.audio, nil
}

// MockSpeaker records Speak calls; used where on-device fallback behaviour is
// under test.
type MockSpeaker struct {
	mu     sync.Mutex
	Err    error
	Spoken []string
}

func (m *MockSpeaker) Speak(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Spoken = append(m.Spoken, text)
	return nil
}

// SpokenTexts returns a copy of the recorded utterances.
func (m *MockSpeaker) SpokenTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Spoken...)
}

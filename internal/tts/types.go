package tts

import (
	"context"
	"errors"
	"fmt"
)

// Request contains parameters to synthesize speech. Text must be non-empty;
// callers guard. Voice tags are passed through to providers opaquely.
type Request struct {
	Text   string
	Voice  string
	Rate   string
	Volume string
}

// Audio is one synthesized asset. Bytes are the encoded payload as returned
// by the provider; MIMEType is the declared content type.
type Audio struct {
	Bytes    []byte
	MIMEType string
}

// Synthesizer is the contract for producing audio for a text string.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// ErrAllProvidersFailed reports that every remote provider in the configured
// order failed. Callers fall back to on-device speech; the chain never
// silently returns partial or empty audio.
var ErrAllProvidersFailed = errors.New("all tts providers failed")

// ErrEmptyText is returned when a caller violates the non-empty invariant.
var ErrEmptyText = errors.New("synthesis text must not be empty")

// ProviderError records a single provider's failure. Expected and recovered
// by trying the next provider; never surfaced to the user on its own.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tts provider %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("tts provider %s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

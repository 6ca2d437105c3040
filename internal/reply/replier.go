package reply

import (
	"context"
	"fmt"

	"github.com/crossai-ng/pronto-voice/internal/protocol"
)

// Result is one agent reply for a transcript. Classification is optional and
// only set when a classifier is configured and succeeded in time.
type Result struct {
	Text           string
	Classification *protocol.Classification
}

// ReplyError wraps an agent transport or protocol failure. The orchestrator,
// not this package, decides the fallback text.
type ReplyError struct {
	Reason string
	Err    error
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reply failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("reply failed (%s)", e.Reason)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// Replier abstracts the conversational agent backend.
type Replier interface {
	Reply(ctx context.Context, transcript string) (Result, error)
}

// Classifier abstracts the emergency classification backend.
type Classifier interface {
	Classify(ctx context.Context, transcript, language string) (protocol.Classification, error)
}

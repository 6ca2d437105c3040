package tts

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// LocalSpeaker is the on-device speech capability used as terminal fallback
// when every remote provider has failed. May be absent; the orchestrator
// checks for nil.
type LocalSpeaker interface {
	Speak(ctx context.Context, text string) error
}

type execSpeaker struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecSpeaker wraps a local speech command ("say", "espeak-ng", ...). The
// text is appended as the final argument.
func NewExecSpeaker(command string) (LocalSpeaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse local speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("local speech command empty")
	}
	return &execSpeaker{cmd: args}, nil
}

func (s *execSpeaker) Speak(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args := append([]string{}, s.cmd[1:]...)
	args = append(args, text)
	cmd := exec.CommandContext(ctx, s.cmd[0], args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("local speech command: %w", err)
	}
	return nil
}

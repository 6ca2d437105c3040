package playback

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// Sink renders one audio file. Play blocks until playback finishes or ctx is
// cancelled.
type Sink interface {
	Play(ctx context.Context, path string, mimeType string) error
}

type execSink struct {
	cmd []string
}

// NewExecSink wraps a local player command ("afplay", "mpg123 -q", ...). The
// file path is appended as the final argument; cancellation kills the player.
func NewExecSink(command string) (Sink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	return &execSink{cmd: args}, nil
}

func (s *execSink) Play(ctx context.Context, path string, _ string) error {
	args := append([]string{}, s.cmd[1:]...)
	args = append(args, path)
	cmd := exec.CommandContext(ctx, s.cmd[0], args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback command: %w", err)
	}
	return nil
}

type nullSink struct{}

// NewNullSink discards audio. Used when no player command is configured, so
// headless deployments still drive the full pipeline.
func NewNullSink() Sink { return nullSink{} }

func (nullSink) Play(ctx context.Context, _ string, _ string) error {
	return ctx.Err()
}

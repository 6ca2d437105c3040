package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/tts"
)

// Controller owns the single audio-output resource. At most one Session is
// active at a time: Play tears down the previous session, releasing its
// handle, before the new one starts.
type Controller struct {
	sink  Sink
	grace time.Duration
	dir   string
	log   *slog.Logger

	mu     sync.Mutex
	active *Session
}

// Session wraps one active audio asset plus its cancellation.
type Session struct {
	handle *Handle
	cancel context.CancelFunc
	done   chan error
	timer  *time.Timer
}

// Wait blocks until playback ends, fails, or ctx is cancelled. A nil error
// means natural end or supersession/stop.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle is the browser-object-URL analogue: a temp file holding the decoded
// asset for the sink, released exactly once.
type Handle struct {
	path string
	once sync.Once
}

// Release removes the backing file. Idempotent.
func (h *Handle) Release() {
	h.once.Do(func() {
		_ = os.Remove(h.path)
	})
}

// Path returns the backing file path.
func (h *Handle) Path() string { return h.path }

// NewController builds a playback controller around a sink. Grace is how long
// a handle survives after natural playback end, tolerating stragglers that
// still reference the file.
func NewController(sink Sink, grace time.Duration, log *slog.Logger) *Controller {
	return &Controller{
		sink:  sink,
		grace: grace,
		dir:   os.TempDir(),
		log:   log.With(slog.String("component", "playback")),
	}
}

// Play starts playback of the asset, stopping and releasing any previous
// session first. The returned session's Wait reports how playback ended;
// playback failures are non-fatal and come back through Wait, with the handle
// released regardless.
func (c *Controller) Play(ctx context.Context, audio tts.Audio) (*Session, error) {
	if len(audio.Bytes) == 0 {
		return nil, fmt.Errorf("refusing to play empty audio asset")
	}

	handle, err := c.writeHandle(audio)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.stopLocked()

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &Session{
		handle: handle,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	c.active = session
	c.mu.Unlock()

	go func() {
		err := c.sink.Play(playCtx, handle.Path(), audio.MIMEType)
		if playCtx.Err() != nil {
			// Superseded or stopped; teardown already handled the handle.
			session.done <- nil
			return
		}
		if err != nil {
			c.log.Warn("playback failed", slog.String("error", err.Error()))
			handle.Release()
			session.done <- err
		} else {
			c.scheduleRelease(session)
			session.done <- nil
		}

		c.mu.Lock()
		if c.active == session {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	return session, nil
}

// Stop cancels the active session, if any, and releases its handle.
// Idempotent and safe to call when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.active == nil {
		return
	}
	session := c.active
	c.active = nil
	session.cancel()
	if session.timer != nil {
		session.timer.Stop()
	}
	session.handle.Release()
}

func (c *Controller) scheduleRelease(s *Session) {
	if c.grace <= 0 {
		s.handle.Release()
		return
	}
	c.mu.Lock()
	s.timer = time.AfterFunc(c.grace, s.handle.Release)
	c.mu.Unlock()
}

func (c *Controller) writeHandle(audio tts.Audio) (*Handle, error) {
	file, err := os.CreateTemp(c.dir, "pronto_audio_*"+extensionFor(audio.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("create audio handle: %w", err)
	}
	if _, err := file.Write(audio.Bytes); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("write audio handle: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("close audio handle: %w", err)
	}
	return &Handle{path: file.Name()}, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/playback"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
	"github.com/crossai-ng/pronto-voice/internal/reply"
	"github.com/crossai-ng/pronto-voice/internal/stt"
	"github.com/crossai-ng/pronto-voice/internal/tts"
	"github.com/google/uuid"
)

// ErrBusy reports that a turn is already in flight; the gesture is ignored.
var ErrBusy = errors.New("a voice turn is already in progress")

// TurnResult is the outcome of one complete voice turn.
type TurnResult struct {
	TurnID         string
	Transcript     stt.Transcript
	ReplyText      string
	Classification *protocol.Classification
	Outcome        Outcome
	Notice         *Notice
}

// Deps are the pipeline collaborators. Transcriber may be nil when no capture
// capability exists (callers then use RunTextTurn); Classifier, Local and the
// event publisher are optional.
type Deps struct {
	Transcriber stt.Transcriber
	Replier     reply.Replier
	Classifier  reply.Classifier
	Synth       tts.Synthesizer
	Local       tts.LocalSpeaker
	Player      *playback.Controller
	Events      EventPublisher
}

// EventPublisher receives turn lifecycle events (bus fan-out, event store).
type EventPublisher interface {
	PublishTurnEvent(ctx context.Context, evt protocol.TurnEvent)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStateListener registers a callback invoked on every state transition,
// so the embedding UI can reflect the busy state.
func WithStateListener(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithNoticeListener registers a callback for user-facing notices.
func WithNoticeListener(fn func(Notice)) Option {
	return func(o *Orchestrator) { o.onNotice = fn }
}

// Orchestrator drives the voice turn pipeline: utterance -> transcript ->
// reply -> synthesis -> playback, degrading through the fallback chain rather
// than failing hard. One instance per runtime; turns are strictly sequential.
type Orchestrator struct {
	cfg      config.Config
	deps     Deps
	log      *slog.Logger
	session  string
	onState  func(State)
	onNotice func(Notice)

	state atomic.Int32
	busy  atomic.Bool

	mu         sync.Mutex
	turnCancel context.CancelFunc
}

func New(cfg config.Config, deps Deps, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     logger.With(slog.String("component", "orchestrator")),
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SessionID identifies this orchestrator's page-lifetime session.
func (o *Orchestrator) SessionID() string { return o.session }

// State returns the current machine position.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// CaptureAvailable reports whether a transcriber is wired; when false,
// callers degrade to the manual text path instead of ever invoking RunTurn.
func (o *Orchestrator) CaptureAvailable() bool { return o.deps.Transcriber != nil }

// RunTurn runs one full voice turn from a captured utterance. Returns ErrBusy
// if a turn is already in flight.
func (o *Orchestrator) RunTurn(ctx context.Context, utt stt.Utterance) (TurnResult, error) {
	if o.deps.Transcriber == nil {
		return TurnResult{}, fmt.Errorf("no capture capability: use RunTextTurn")
	}
	end, turnCtx, res, err := o.beginTurn(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	defer end()

	o.setState(Listening)
	o.publish(turnCtx, res.TurnID, "turn", "started", "")

	o.setState(Transcribing)
	start := time.Now()
	transcript, err := o.deps.Transcriber.Transcribe(turnCtx, utt)
	if err != nil {
		o.log.Warn("transcription failed", slog.String("error", err.Error()))
		o.notice(noticeSTTError)
		res.Outcome = OutcomeFailed
		res.Notice = &noticeSTTError
		o.failTurn(turnCtx, res.TurnID, "transcribe")
		return res, nil
	}
	o.publishLatency(turnCtx, res.TurnID, "transcribe", "ok", transcript.Text, start)

	if transcript.Language == "" {
		transcript.Language = o.cfg.STT.Language
	}
	res.Transcript = transcript

	if transcript.Text == "" {
		// Valid terminal state: prompt the user to repeat, touch nothing
		// downstream.
		o.notice(noticeNoSpeech)
		res.Outcome = OutcomeNoSpeech
		res.Notice = &noticeNoSpeech
		o.publish(turnCtx, res.TurnID, "turn", "no_speech", "")
		return res, nil
	}

	return o.completeTurn(turnCtx, res)
}

// RunTranscriptTurn enters the pipeline with an already-recognized
// transcript (client-side recognition), skipping the transcription call.
func (o *Orchestrator) RunTranscriptTurn(ctx context.Context, transcript stt.Transcript) (TurnResult, error) {
	end, turnCtx, res, err := o.beginTurn(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	defer end()

	o.setState(Listening)
	o.publish(turnCtx, res.TurnID, "turn", "started", "")

	if transcript.Language == "" {
		transcript.Language = o.cfg.STT.Language
	}
	res.Transcript = transcript

	if transcript.Text == "" {
		o.notice(noticeNoSpeech)
		res.Outcome = OutcomeNoSpeech
		res.Notice = &noticeNoSpeech
		o.publish(turnCtx, res.TurnID, "turn", "no_speech", "")
		return res, nil
	}

	return o.completeTurn(turnCtx, res)
}

// RunTextTurn is the manual-input path used when capture is unavailable: it
// produces a transcript synthetically and enters the pipeline at the reply
// stage.
func (o *Orchestrator) RunTextTurn(ctx context.Context, text string) (TurnResult, error) {
	return o.RunTranscriptTurn(ctx, stt.Transcript{Text: text, Language: o.cfg.STT.Language, Confidence: 1})
}

// Stop cancels whatever stage is in flight and silences playback,
// returning the machine to Idle. Safe to call at any time.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.turnCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if o.deps.Player != nil {
		o.deps.Player.Stop()
	}
}

func (o *Orchestrator) beginTurn(ctx context.Context) (func(), context.Context, TurnResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, nil, TurnResult{}, ErrBusy
	}

	turnCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.turnCancel = cancel
	o.mu.Unlock()

	end := func() {
		o.mu.Lock()
		o.turnCancel = nil
		o.mu.Unlock()
		cancel()
		o.setState(Idle)
		o.busy.Store(false)
	}

	return end, turnCtx, TurnResult{TurnID: uuid.NewString()}, nil
}

// completeTurn drives reply -> synthesis -> playback for a non-empty
// transcript.
func (o *Orchestrator) completeTurn(ctx context.Context, res TurnResult) (TurnResult, error) {
	transcript := res.Transcript

	o.setState(AwaitingReply)
	start := time.Now()
	replyResult, err := o.deps.Replier.Reply(ctx, transcript.Text)
	say := replyResult.Text
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeFailed
			return res, ctx.Err()
		}
		// Policy, not a bug: the emergency flow must always attempt to speak
		// something back, so a failed agent is replaced by an echo of the
		// caller's own words.
		o.log.Warn("reply failed, substituting fallback text", slog.String("error", err.Error()))
		say = "You said: " + transcript.Text
		o.publishLatency(ctx, res.TurnID, "reply", "fallback", say, start)
	} else {
		o.publishLatency(ctx, res.TurnID, "reply", "ok", say, start)
	}
	res.ReplyText = say

	if o.deps.Classifier != nil {
		if classification, cerr := o.deps.Classifier.Classify(ctx, transcript.Text, transcript.Language); cerr == nil {
			res.Classification = &classification
		} else {
			o.log.Warn("classification failed", slog.String("error", cerr.Error()))
		}
	}

	o.setState(Synthesizing)
	start = time.Now()
	audio, err := o.deps.Synth.Synthesize(ctx, tts.Request{
		Text:   say,
		Voice:  o.cfg.TTS.Voice,
		Rate:   o.cfg.TTS.Rate,
		Volume: o.cfg.TTS.Volume,
	})
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeFailed
			return res, ctx.Err()
		}
		o.publishLatency(ctx, res.TurnID, "synthesize", "all_failed", "", start)
		return o.speakLocally(ctx, res, say)
	}
	o.publishLatency(ctx, res.TurnID, "synthesize", "ok", "", start)

	o.setState(Speaking)
	session, err := o.deps.Player.Play(ctx, audio)
	if err != nil {
		o.log.Warn("playback start failed", slog.String("error", err.Error()))
		return o.speakLocally(ctx, res, say)
	}
	if err := session.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeFailed
			return res, ctx.Err()
		}
		// Decode or output-device failure: non-fatal, the controller already
		// released the asset. One more chance to be heard.
		o.log.Warn("playback failed", slog.String("error", err.Error()))
		return o.speakLocally(ctx, res, say)
	}

	o.publish(ctx, res.TurnID, "playback", "done", "")
	res.Outcome = OutcomeSpoken
	o.publish(ctx, res.TurnID, "turn", "completed", "")
	return res, nil
}

// speakLocally is the terminal fallback: on-device speech synthesis. Only if
// that too is unavailable does the turn surface a failure notice.
func (o *Orchestrator) speakLocally(ctx context.Context, res TurnResult, say string) (TurnResult, error) {
	if o.deps.Local != nil {
		o.setState(Speaking)
		if err := o.deps.Local.Speak(ctx, say); err == nil {
			res.Outcome = OutcomeSpokenLocal
			o.publish(ctx, res.TurnID, "turn", "completed_local", "")
			return res, nil
		} else {
			o.log.Warn("local speech failed", slog.String("error", err.Error()))
		}
	}

	o.notice(noticeVoiceOut)
	res.Outcome = OutcomeFailed
	res.Notice = &noticeVoiceOut
	o.failTurn(ctx, res.TurnID, "speak")
	return res, nil
}

func (o *Orchestrator) failTurn(ctx context.Context, turnID, stage string) {
	o.setState(ErrorState)
	o.publish(ctx, turnID, stage, "failed", "")
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	if o.onState != nil {
		o.onState(s)
	}
}

func (o *Orchestrator) notice(n Notice) {
	if o.onNotice != nil {
		o.onNotice(n)
	}
}

func (o *Orchestrator) publish(ctx context.Context, turnID, stage, outcome, provider string) {
	if o.deps.Events == nil {
		return
	}
	o.deps.Events.PublishTurnEvent(ctx, protocol.TurnEvent{
		SessionID: o.session,
		TurnID:    turnID,
		Stage:     stage,
		Outcome:   outcome,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishLatency(ctx context.Context, turnID, stage, outcome, text string, start time.Time) {
	if o.deps.Events == nil {
		return
	}
	o.deps.Events.PublishTurnEvent(ctx, protocol.TurnEvent{
		SessionID: o.session,
		TurnID:    turnID,
		Stage:     stage,
		Outcome:   outcome,
		Text:      text,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
}

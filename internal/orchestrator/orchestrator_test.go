package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/playback"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
	"github.com/crossai-ng/pronto-voice/internal/reply"
	"github.com/crossai-ng/pronto-voice/internal/stt"
	"github.com/crossai-ng/pronto-voice/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type instantSink struct{}

func (instantSink) Play(ctx context.Context, _ string, _ string) error { return ctx.Err() }

type countingReplier struct {
	calls  atomic.Int32
	result reply.Result
	err    error
}

func (r *countingReplier) Reply(_ context.Context, _ string) (reply.Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return reply.Result{}, r.err
	}
	return r.result, nil
}

type countingSynth struct {
	calls atomic.Int32
	audio tts.Audio
	err   error
	block chan struct{}
}

func (s *countingSynth) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		}
	}
	if s.err != nil {
		return tts.Audio{}, s.err
	}
	return s.audio, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []protocol.TurnEvent
}

func (r *eventRecorder) PublishTurnEvent(_ context.Context, evt protocol.TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func goodAudio() tts.Audio {
	return tts.Audio{Bytes: []byte("some synthesized audio bytes"), MIMEType: "audio/mpeg"}
}

func newTestOrchestrator(t *testing.T, deps Deps, opts ...Option) *Orchestrator {
	t.Helper()
	if deps.Player == nil {
		deps.Player = playback.NewController(instantSink{}, 0, testLogger())
	}
	return New(config.Default(), deps, testLogger(), opts...)
}

func utterance() stt.Utterance {
	return stt.Utterance{RawAudio: []byte("opus"), CapturedAt: time.Now()}
}

func TestFullTurnWithHealthyPipeline(t *testing.T) {
	replier := &countingReplier{result: reply.Result{Text: "Help is coming"}}
	synth := &countingSynth{audio: goodAudio()}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "Fire at Yaba Market", Language: "en", Confidence: 0.9}, nil),
		Replier:     replier,
		Synth:       synth,
	})

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSpoken {
		t.Fatalf("expected spoken outcome, got %q", res.Outcome)
	}
	if res.ReplyText != "Help is coming" {
		t.Fatalf("unexpected reply text: %q", res.ReplyText)
	}
	if res.Transcript.Text != "Fire at Yaba Market" {
		t.Fatalf("unexpected transcript: %+v", res.Transcript)
	}
	if o.State() != Idle {
		t.Fatalf("expected Idle after turn, got %s", o.State())
	}
}

func TestReplyFailureSubstitutesFallbackTextAndStillSpeaks(t *testing.T) {
	replier := &countingReplier{err: &reply.ReplyError{Reason: "timeout"}}
	synth := &countingSynth{audio: goodAudio()}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "Fire at Yaba Market"}, nil),
		Replier:     replier,
		Synth:       synth,
	})

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ReplyText != "You said: Fire at Yaba Market" {
		t.Fatalf("expected fallback text, got %q", res.ReplyText)
	}
	if res.Outcome != OutcomeSpoken {
		t.Fatalf("turn must still reach playback, got %q", res.Outcome)
	}
	if synth.calls.Load() != 1 {
		t.Fatalf("expected synthesis of fallback text, got %d calls", synth.calls.Load())
	}
}

func TestEmptySpeechShortCircuits(t *testing.T) {
	replier := &countingReplier{result: reply.Result{Text: "should not be called"}}
	synth := &countingSynth{audio: goodAudio()}
	var notices []Notice
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: ""}, nil),
		Replier:     replier,
		Synth:       synth,
	}, WithNoticeListener(func(n Notice) { notices = append(notices, n) }))

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoSpeech {
		t.Fatalf("expected no-speech outcome, got %q", res.Outcome)
	}
	if replier.calls.Load() != 0 || synth.calls.Load() != 0 {
		t.Fatalf("no downstream calls expected, got reply=%d synth=%d", replier.calls.Load(), synth.calls.Load())
	}
	if len(notices) != 1 || notices[0].Code != "no_speech" {
		t.Fatalf("expected no-speech notice, got %v", notices)
	}
	if o.State() != Idle {
		t.Fatalf("expected Idle, got %s", o.State())
	}
}

func TestTranscriptionFailureEndsTurnWithoutDownstreamCalls(t *testing.T) {
	replier := &countingReplier{result: reply.Result{Text: "nope"}}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{}, &stt.TranscriptionError{Reason: "provider down"}),
		Replier:     replier,
		Synth:       &countingSynth{audio: goodAudio()},
	})

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", res.Outcome)
	}
	if res.Notice == nil || res.Notice.Code != "stt_error" {
		t.Fatalf("expected stt error notice, got %v", res.Notice)
	}
	if replier.calls.Load() != 0 {
		t.Fatal("reply client must not be called after transcription failure")
	}
}

func TestSynthesisAllFailedFallsBackToLocalSpeaker(t *testing.T) {
	speaker := &tts.MockSpeaker{}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "flood in Lekki"}, nil),
		Replier:     &countingReplier{result: reply.Result{Text: "Stay on high ground"}},
		Synth:       &countingSynth{err: tts.ErrAllProvidersFailed},
		Local:       speaker,
	})

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSpokenLocal {
		t.Fatalf("expected local speech outcome, got %q", res.Outcome)
	}
	spoken := speaker.SpokenTexts()
	if len(spoken) != 1 || spoken[0] != "Stay on high ground" {
		t.Fatalf("expected reply spoken locally, got %v", spoken)
	}
}

func TestSynthesisAndLocalFailureSurfacesNotice(t *testing.T) {
	var notices []Notice
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "help"}, nil),
		Replier:     &countingReplier{result: reply.Result{Text: "coming"}},
		Synth:       &countingSynth{err: tts.ErrAllProvidersFailed},
		Local:       &tts.MockSpeaker{Err: errors.New("no speech device")},
	}, WithNoticeListener(func(n Notice) { notices = append(notices, n) }))

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", res.Outcome)
	}
	if len(notices) != 1 || notices[0].Code != "voice_unavailable" {
		t.Fatalf("expected voice unavailable notice, got %v", notices)
	}
	if o.State() != Idle {
		t.Fatalf("error turns must still return to Idle, got %s", o.State())
	}
}

func TestBusyGuardIgnoresOverlappingTurns(t *testing.T) {
	synth := &countingSynth{audio: goodAudio(), block: make(chan struct{})}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "hello"}, nil),
		Replier:     &countingReplier{result: reply.Result{Text: "hi"}},
		Synth:       synth,
	})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		o.RunTurn(context.Background(), utterance())
	}()

	// Wait for the first turn to reach synthesis.
	deadline := time.Now().Add(2 * time.Second)
	for synth.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first turn never reached synthesis")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := o.RunTextTurn(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping turn, got %v", err)
	}

	close(synth.block)
	<-firstDone

	if _, err := o.RunTextTurn(context.Background(), "third"); errors.Is(err, ErrBusy) {
		t.Fatal("machine should accept a new turn after the previous completed")
	}
}

func TestStateSequenceForHealthyTurn(t *testing.T) {
	var mu sync.Mutex
	var states []State
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "hello"}, nil),
		Replier:     &countingReplier{result: reply.Result{Text: "hi"}},
		Synth:       &countingSynth{audio: goodAudio()},
	}, WithStateListener(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	if _, err := o.RunTurn(context.Background(), utterance()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []State{Listening, Transcribing, AwaitingReply, Synthesizing, Speaking, Idle}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestRunTextTurnSkipsTranscription(t *testing.T) {
	replier := &countingReplier{result: reply.Result{Text: "noted"}}
	o := newTestOrchestrator(t, Deps{
		Replier: replier,
		Synth:   &countingSynth{audio: goodAudio()},
	})

	res, err := o.RunTextTurn(context.Background(), "armed robbery at Oshodi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSpoken {
		t.Fatalf("expected spoken outcome, got %q", res.Outcome)
	}
	if res.Transcript.Text != "armed robbery at Oshodi" {
		t.Fatalf("expected synthetic transcript, got %+v", res.Transcript)
	}
	if res.Transcript.Language != config.Default().STT.Language {
		t.Fatalf("expected configured language tag, got %q", res.Transcript.Language)
	}
}

func TestClassificationAttachedWhenConfigured(t *testing.T) {
	classification := protocol.Classification{EmergencyType: "FIRE", Severity: "CRITICAL", Response: "dispatching"}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "fire!"}, nil),
		Replier:     &countingReplier{result: reply.Result{Text: "help is coming"}},
		Classifier:  staticClassifier{classification},
		Synth:       &countingSynth{audio: goodAudio()},
	})

	res, err := o.RunTurn(context.Background(), utterance())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Classification == nil || res.Classification.EmergencyType != "FIRE" {
		t.Fatalf("expected classification attached, got %+v", res.Classification)
	}
}

type staticClassifier struct {
	c protocol.Classification
}

func (s staticClassifier) Classify(_ context.Context, _, _ string) (protocol.Classification, error) {
	return s.c, nil
}

func TestTurnEventsPublished(t *testing.T) {
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, Deps{
		Transcriber: stt.NewMockTranscriber(stt.Transcript{Text: "hello"}, nil),
		Replier:     &countingReplier{result: reply.Result{Text: "hi"}},
		Synth:       &countingSynth{audio: goodAudio()},
		Events:      rec,
	})

	if _, err := o.RunTurn(context.Background(), utterance()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	stages := make(map[string]bool)
	for _, evt := range rec.events {
		stages[evt.Stage+"/"+evt.Outcome] = true
		if evt.SessionID != o.SessionID() {
			t.Fatalf("event carries wrong session id: %+v", evt)
		}
	}
	for _, want := range []string{"turn/started", "transcribe/ok", "reply/ok", "synthesize/ok", "playback/done", "turn/completed"} {
		if !stages[want] {
			t.Fatalf("missing event %s in %v", want, rec.events)
		}
	}
}

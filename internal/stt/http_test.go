package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
)

func testConfig(url string) config.STTConfig {
	return config.STTConfig{
		Enabled:   true,
		BaseURL:   url,
		Endpoint:  "/api/transcribe",
		Language:  "en-NG",
		TimeoutMS: 2000,
	}
}

func TestTranscribeSuccess(t *testing.T) {
	var gotEnvelope protocol.TranscribeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotEnvelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		json.NewEncoder(w).Encode(protocol.TranscribeResponse{
			Transcript:       "Fire at Yaba Market",
			DetectedLanguage: "en",
			Confidence:       0.92,
		})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(testConfig(srv.URL))
	got, err := tr.Transcribe(context.Background(), Utterance{RawAudio: []byte("opus-bytes"), CapturedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "Fire at Yaba Market" || got.Language != "en" || got.Confidence != 0.92 {
		t.Fatalf("unexpected transcript: %+v", got)
	}

	decoded, err := base64.StdEncoding.DecodeString(gotEnvelope.Audio)
	if err != nil || string(decoded) != "opus-bytes" {
		t.Fatalf("expected base64 audio envelope, got %q (%v)", gotEnvelope.Audio, err)
	}
	if gotEnvelope.Language != "en-NG" {
		t.Fatalf("expected language hint, got %q", gotEnvelope.Language)
	}
}

func TestTranscribeEmptySpeechIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(protocol.TranscribeResponse{Transcript: ""})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(testConfig(srv.URL))
	got, err := tr.Transcribe(context.Background(), Utterance{RawAudio: []byte("x")})
	if err != nil {
		t.Fatalf("empty transcript must not be an error, got %v", err)
	}
	if got.Text != "" {
		t.Fatalf("expected empty text, got %q", got.Text)
	}
}

func TestTranscribeProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(testConfig(srv.URL))
	_, err := tr.Transcribe(context.Background(), Utterance{RawAudio: []byte("x")})
	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	tr := NewHTTPTranscriber(testConfig("http://unused.invalid"))
	_, err := tr.Transcribe(context.Background(), Utterance{})
	if !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestLanguageFallbackHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(protocol.TranscribeResponse{Transcript: "abeg come help me, wahala dey"})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(testConfig(srv.URL))
	got, err := tr.Transcribe(context.Background(), Utterance{RawAudio: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Language != "pcm" {
		t.Fatalf("expected pidgin detection, got %q", got.Language)
	}
}

func TestDetectLanguageFallsBackToConfigured(t *testing.T) {
	if got := DetectLanguage("there is a fire downtown", "en-NG"); got != "en-NG" {
		t.Fatalf("expected configured fallback, got %q", got)
	}
}

package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
)

type httpTranscriber struct {
	url      string
	language string
	client   *http.Client
}

// NewHTTPTranscriber posts utterances to a transcription endpoint as a
// base64 JSON envelope and decodes {transcript, detected_language,
// confidence} replies.
func NewHTTPTranscriber(cfg config.STTConfig) Transcriber {
	return &httpTranscriber{
		url:      cfg.BaseURL + cfg.Endpoint,
		language: cfg.Language,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

func (t *httpTranscriber) Transcribe(ctx context.Context, utt Utterance) (Transcript, error) {
	if len(utt.RawAudio) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	payload := protocol.TranscribeRequest{
		Audio:    base64.StdEncoding.EncodeToString(utt.RawAudio),
		Language: t.language,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Transcript{}, &TranscriptionError{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Transcript{}, &TranscriptionError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Transcript{}, &TranscriptionError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Transcript{}, &TranscriptionError{Reason: fmt.Sprintf("provider status %s", resp.Status)}
	}

	var decoded protocol.TranscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Transcript{}, &TranscriptionError{Reason: "decode response", Err: err}
	}

	language := decoded.DetectedLanguage
	if language == "" {
		language = DetectLanguage(decoded.Transcript, t.language)
	}

	return Transcript{
		Text:       decoded.Transcript,
		Language:   language,
		Confidence: decoded.Confidence,
	}, nil
}

package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/crossai-ng/pronto-voice/internal/config"
)

func chainLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func audioBody(n int) []byte {
	return bytes.Repeat([]byte{0xAB}, n)
}

func audioServer(hits *atomic.Int32, contentType string, body []byte, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write(body)
	}))
}

func chainConfig(providers ...config.TTSProvider) config.TTSConfig {
	return config.TTSConfig{
		Providers:     providers,
		Voice:         "en-NG-EzinneNeural",
		Mode:          "file",
		TimeoutMS:     2000,
		MinAudioBytes: 1024,
		SecureOrigin:  false,
	}
}

func TestChainFirstAcceptableProviderWins(t *testing.T) {
	var hits1, hits2 atomic.Int32
	srv1 := audioServer(&hits1, "audio/mpeg", audioBody(2048), http.StatusOK)
	defer srv1.Close()
	srv2 := audioServer(&hits2, "audio/mpeg", audioBody(2048), http.StatusOK)
	defer srv2.Close()

	chain := NewChain(chainConfig(
		config.TTSProvider{Name: "one", BaseURL: srv1.URL, Endpoint: "/speak"},
		config.TTSProvider{Name: "two", BaseURL: srv2.URL, Endpoint: "/speak"},
	), chainLogger())

	audio, err := chain.Synthesize(context.Background(), Request{Text: "Help is coming", Voice: "en-NG-EzinneNeural"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio.Bytes) != 2048 || audio.MIMEType != "audio/mpeg" {
		t.Fatalf("unexpected audio: %d bytes, %q", len(audio.Bytes), audio.MIMEType)
	}
	if hits1.Load() != 1 {
		t.Fatalf("expected provider one hit once, got %d", hits1.Load())
	}
	if hits2.Load() != 0 {
		t.Fatalf("expected short-circuit before provider two, got %d hits", hits2.Load())
	}
}

func TestChainRejectsNonAudio2xxAndTriesNext(t *testing.T) {
	var hits1, hits2 atomic.Int32
	// 200 with HTML and 50 bytes: must count as failure.
	srv1 := audioServer(&hits1, "text/html", audioBody(50), http.StatusOK)
	defer srv1.Close()
	srv2 := audioServer(&hits2, "audio/mpeg", audioBody(4096), http.StatusOK)
	defer srv2.Close()

	chain := NewChain(chainConfig(
		config.TTSProvider{Name: "one", BaseURL: srv1.URL, Endpoint: "/speak"},
		config.TTSProvider{Name: "two", BaseURL: srv2.URL, Endpoint: "/speak"},
	), chainLogger())

	audio, err := chain.Synthesize(context.Background(), Request{Text: "hello", Voice: "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio.Bytes) != 4096 {
		t.Fatalf("expected provider two audio, got %d bytes", len(audio.Bytes))
	}
	if hits1.Load() != 1 || hits2.Load() != 1 {
		t.Fatalf("expected both providers attempted in order, got %d/%d", hits1.Load(), hits2.Load())
	}
}

func TestChainRejectsUndersizedAudio(t *testing.T) {
	var hits atomic.Int32
	srv := audioServer(&hits, "audio/mpeg", audioBody(100), http.StatusOK)
	defer srv.Close()

	chain := NewChain(chainConfig(
		config.TTSProvider{Name: "tiny", BaseURL: srv.URL, Endpoint: "/speak"},
	), chainLogger())

	_, err := chain.Synthesize(context.Background(), Request{Text: "hello", Voice: "v"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestChainAllProvidersFailed(t *testing.T) {
	var hits1, hits2 atomic.Int32
	srv1 := audioServer(&hits1, "application/json", []byte(`{"error":"x"}`), http.StatusInternalServerError)
	defer srv1.Close()
	srv2 := audioServer(&hits2, "text/plain", []byte("nope"), http.StatusOK)
	defer srv2.Close()

	chain := NewChain(chainConfig(
		config.TTSProvider{Name: "one", BaseURL: srv1.URL, Endpoint: "/speak"},
		config.TTSProvider{Name: "two", BaseURL: srv2.URL, Endpoint: "/speak"},
	), chainLogger())

	audio, err := chain.Synthesize(context.Background(), Request{Text: "hello", Voice: "v"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if len(audio.Bytes) != 0 {
		t.Fatal("chain must never return partial audio on failure")
	}
}

func TestChainSkipsInsecureProvidersOnSecureOrigin(t *testing.T) {
	var hits atomic.Int32
	srv := audioServer(&hits, "audio/mpeg", audioBody(2048), http.StatusOK)
	defer srv.Close()

	cfg := chainConfig(config.TTSProvider{Name: "plain", BaseURL: srv.URL, Endpoint: "/speak"})
	cfg.SecureOrigin = true
	chain := NewChain(cfg, chainLogger())

	_, err := chain.Synthesize(context.Background(), Request{Text: "hello", Voice: "v"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("insecure provider must never be attempted, got %d hits", hits.Load())
	}
}

func TestChainRejectsEmptyText(t *testing.T) {
	chain := NewChain(chainConfig(
		config.TTSProvider{Name: "one", BaseURL: "http://unused.invalid", Endpoint: "/speak"},
	), chainLogger())
	if _, err := chain.Synthesize(context.Background(), Request{}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestChainBreakerStopsHammeringFailingProvider(t *testing.T) {
	var hits atomic.Int32
	srv := audioServer(&hits, "text/plain", []byte("broken"), http.StatusInternalServerError)
	defer srv.Close()

	chain := NewChain(chainConfig(
		config.TTSProvider{Name: "flaky", BaseURL: srv.URL, Endpoint: "/speak"},
	), chainLogger())

	for i := 0; i < 5; i++ {
		chain.Synthesize(context.Background(), Request{Text: "hello", Voice: "v"})
	}
	if hits.Load() != 3 {
		t.Fatalf("expected breaker to open after 3 consecutive failures, provider saw %d requests", hits.Load())
	}
}

func TestProviderSendsExpectedQuery(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audioBody(2048))
	}))
	defer srv.Close()

	p := NewProvider(config.TTSProvider{Name: "q", BaseURL: srv.URL, Endpoint: "/speak"}, "file", 0, 1024)
	_, err := p.Synthesize(context.Background(), Request{
		Text: "How far", Voice: "en-NG-AbeoNeural", Rate: "+0%", Volume: "-10%",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for key, want := range map[string]string{
		"text": "How far", "voice": "en-NG-AbeoNeural", "mode": "file", "rate": "+0%", "volume": "-10%",
	} {
		if len(gotQuery[key]) != 1 || gotQuery[key][0] != want {
			t.Fatalf("query %s: expected %q, got %v", key, want, gotQuery[key])
		}
	}
}

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/orchestrator"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
	"github.com/crossai-ng/pronto-voice/internal/reply"
	"github.com/crossai-ng/pronto-voice/internal/stt"
	"github.com/crossai-ng/pronto-voice/internal/tts"
)

// TurnRunner is the orchestrator surface the gateway drives.
type TurnRunner interface {
	RunTextTurn(ctx context.Context, text string) (orchestrator.TurnResult, error)
	State() orchestrator.State
	SessionID() string
}

// ProviderSource exposes the registry snapshot for the providers endpoint.
type ProviderSource interface {
	Snapshot() []protocol.ProviderStatus
}

// Gateway is the HTTP surface embedding widgets talk to. It normalizes the
// upstream providers behind a stable, same-origin contract so browser clients
// never face the mixed-content or key-divergence problems of calling
// providers directly.
type Gateway struct {
	cfg         config.Config
	log         *slog.Logger
	turns       TurnRunner
	transcriber stt.Transcriber
	replier     reply.Replier
	synth       tts.Synthesizer
	providers   ProviderSource
}

func New(cfg config.Config, turns TurnRunner, transcriber stt.Transcriber, replier reply.Replier, synth tts.Synthesizer, providers ProviderSource, log *slog.Logger) *Gateway {
	return &Gateway{
		cfg:         cfg,
		log:         log.With(slog.String("component", "gateway")),
		turns:       turns,
		transcriber: transcriber,
		replier:     replier,
		synth:       synth,
		providers:   providers,
	}
}

// Register mounts the gateway routes on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/reply", g.cors(http.HandlerFunc(g.handleReply)))
	mux.Handle("POST /api/transcribe", g.cors(http.HandlerFunc(g.handleTranscribe)))
	mux.Handle("GET /api/tts", g.cors(http.HandlerFunc(g.handleTTS)))
	mux.Handle("POST /api/turn", g.cors(http.HandlerFunc(g.handleTurn)))
	mux.Handle("GET /api/providers", g.cors(http.HandlerFunc(g.handleProviders)))
	mux.Handle("GET /agent.config.json", g.cors(http.HandlerFunc(g.handleWidgetConfig)))
	mux.Handle("OPTIONS /", g.cors(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
}

func (g *Gateway) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && g.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) originAllowed(origin string) bool {
	for _, allowed := range g.cfg.Gateway.AllowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type textRequest struct {
	Text string `json:"text"`
}

type replyEnvelope struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleReply proxies the agent and flattens its inconsistent wire format
// into a fixed {ok, text} envelope.
func (g *Gateway) handleReply(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, replyEnvelope{OK: false, Error: "text is required"})
		return
	}

	result, err := g.replier.Reply(r.Context(), req.Text)
	if err != nil {
		g.log.Warn("reply proxy failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, replyEnvelope{OK: false, Error: "agent unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, replyEnvelope{OK: true, Text: result.Text})
}

func (g *Gateway) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if g.transcriber == nil {
		writeJSON(w, http.StatusNotImplemented, replyEnvelope{OK: false, Error: "transcription not configured"})
		return
	}

	var req protocol.TranscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, replyEnvelope{OK: false, Error: "invalid request body"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, replyEnvelope{OK: false, Error: "audio must be base64"})
		return
	}

	transcript, err := g.transcriber.Transcribe(r.Context(), stt.Utterance{RawAudio: raw, CapturedAt: time.Now()})
	if err != nil {
		g.log.Warn("transcription proxy failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, replyEnvelope{OK: false, Error: "transcription unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.TranscribeResponse{
		Transcript:       transcript.Text,
		DetectedLanguage: transcript.Language,
		Confidence:       transcript.Confidence,
	})
}

// handleTTS streams synthesized audio. The response is never cacheable: the
// asset lives exactly as long as this response body.
func (g *Gateway) handleTTS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	if text == "" {
		writeJSON(w, http.StatusBadRequest, replyEnvelope{OK: false, Error: "text is required"})
		return
	}

	req := tts.Request{
		Text:   text,
		Voice:  q.Get("voice"),
		Rate:   q.Get("rate"),
		Volume: q.Get("volume"),
	}
	if req.Voice == "" {
		req.Voice = g.cfg.TTS.Voice
	}
	if req.Rate == "" {
		req.Rate = g.cfg.TTS.Rate
	}
	if req.Volume == "" {
		req.Volume = g.cfg.TTS.Volume
	}

	audio, err := g.synth.Synthesize(r.Context(), req)
	if err != nil {
		if errors.Is(err, tts.ErrAllProvidersFailed) {
			writeJSON(w, http.StatusBadGateway, replyEnvelope{OK: false, Error: "all synthesis providers failed"})
			return
		}
		writeJSON(w, http.StatusBadRequest, replyEnvelope{OK: false, Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", audio.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Bytes)
}

type turnResponse struct {
	TurnID         string                   `json:"turn_id"`
	Transcript     string                   `json:"transcript"`
	Reply          string                   `json:"reply"`
	Outcome        string                   `json:"outcome"`
	Classification *protocol.Classification `json:"classification,omitempty"`
	Notice         string                   `json:"notice,omitempty"`
}

// handleTurn drives a full server-side voice turn from manual text input.
func (g *Gateway) handleTurn(w http.ResponseWriter, r *http.Request) {
	if g.turns == nil {
		writeJSON(w, http.StatusNotImplemented, replyEnvelope{OK: false, Error: "turn pipeline not configured"})
		return
	}

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, replyEnvelope{OK: false, Error: "text is required"})
		return
	}

	res, err := g.turns.RunTextTurn(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, orchestrator.ErrBusy) {
			writeJSON(w, http.StatusConflict, replyEnvelope{OK: false, Error: "a voice turn is already in progress"})
			return
		}
		g.log.Warn("turn failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, replyEnvelope{OK: false, Error: "turn failed"})
		return
	}

	out := turnResponse{
		TurnID:         res.TurnID,
		Transcript:     res.Transcript.Text,
		Reply:          res.ReplyText,
		Outcome:        string(res.Outcome),
		Classification: res.Classification,
	}
	if res.Notice != nil {
		out.Notice = res.Notice.Message
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if g.providers == nil {
		writeJSON(w, http.StatusOK, []protocol.ProviderStatus{})
		return
	}
	writeJSON(w, http.StatusOK, g.providers.Snapshot())
}

type widgetConfig struct {
	Runtime      string            `json:"runtime"`
	Language     string            `json:"language"`
	Voices       []string          `json:"voices"`
	DefaultVoice string            `json:"default_voice"`
	Endpoints    map[string]string `json:"endpoints"`
}

// handleWidgetConfig serves the discovery document embedding widgets fetch
// on load.
func (g *Gateway) handleWidgetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, widgetConfig{
		Runtime:      g.cfg.RuntimeName,
		Language:     g.cfg.STT.Language,
		Voices:       config.DefaultVoices,
		DefaultVoice: g.cfg.TTS.Voice,
		Endpoints: map[string]string{
			"reply":      "/api/reply",
			"transcribe": "/api/transcribe",
			"tts":        "/api/tts",
			"turn":       "/api/turn",
			"providers":  "/api/providers",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/bus"
	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/eventstore"
	"github.com/crossai-ng/pronto-voice/internal/gateway"
	"github.com/crossai-ng/pronto-voice/internal/natsserver"
	"github.com/crossai-ng/pronto-voice/internal/orchestrator"
	"github.com/crossai-ng/pronto-voice/internal/playback"
	"github.com/crossai-ng/pronto-voice/internal/registry"
	"github.com/crossai-ng/pronto-voice/internal/reply"
	"github.com/crossai-ng/pronto-voice/internal/stt"
	"github.com/crossai-ng/pronto-voice/internal/tts"
)

// Runtime owns the process lifecycle: telemetry, bus, event store, the voice
// pipeline and the HTTP surfaces. Start blocks until ctx is cancelled.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	registry    *registry.Registry
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	// The pipeline keeps serving without a bus; event fan-out is the only
	// thing lost.
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		r.logger.Warn("bus unavailable, continuing without event fan-out", slog.String("error", err.Error()))
		busClient = nil
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	pipeline, err := r.buildPipeline(busClient, store)
	if err != nil {
		return err
	}

	if err := store.AppendSession(ctx, pipeline.orch.SessionID(), r.cfg.EventStore.PrivacyScope); err != nil {
		r.logger.Warn("failed to record session", slog.String("error", err.Error()))
	}

	if r.cfg.Registry.Enabled {
		reg, err := registry.New(ctx, r.cfg.Registry, r.cfg.RuntimeName, registry.TargetsFromConfig(r.cfg), busClient, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start provider registry: %w", err)
		}
		r.registry = reg
		defer reg.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	if r.cfg.Gateway.Enabled {
		var providers gateway.ProviderSource
		if r.registry != nil {
			providers = r.registry
		}
		gw := gateway.New(r.cfg, pipeline.orch, pipeline.transcriber, pipeline.replier, pipeline.synth, providers, r.logger)
		gw.Register(mux)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	pipeline.orch.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

type pipeline struct {
	orch        *orchestrator.Orchestrator
	transcriber stt.Transcriber
	replier     reply.Replier
	synth       tts.Synthesizer
}

func (r *Runtime) buildPipeline(busClient *bus.Client, store *eventstore.Store) (*pipeline, error) {
	var transcriber stt.Transcriber
	if r.cfg.STT.Enabled && r.cfg.STT.BaseURL != "" {
		transcriber = stt.NewHTTPTranscriber(r.cfg.STT)
	}

	replier := reply.NewHTTPReplier(r.cfg.Agent)

	var classifier reply.Classifier
	if r.cfg.Agent.ClassifyEndpoint != "" {
		classifier = reply.NewHTTPClassifier(r.cfg.Agent)
	}

	synth := tts.NewChain(r.cfg.TTS, r.logger)

	var local tts.LocalSpeaker
	if r.cfg.TTS.LocalCommand != "" {
		speaker, err := tts.NewExecSpeaker(r.cfg.TTS.LocalCommand)
		if err != nil {
			return nil, fmt.Errorf("invalid local speech command: %w", err)
		}
		local = speaker
	}

	sink := playback.NewNullSink()
	if r.cfg.Playback.Command != "" {
		execSink, err := playback.NewExecSink(r.cfg.Playback.Command)
		if err != nil {
			return nil, fmt.Errorf("invalid playback command: %w", err)
		}
		sink = execSink
	}
	player := playback.NewController(sink, time.Duration(r.cfg.Playback.ReleaseGrace)*time.Millisecond, r.logger)

	orch := orchestrator.New(r.cfg, orchestrator.Deps{
		Transcriber: transcriber,
		Replier:     replier,
		Classifier:  classifier,
		Synth:       synth,
		Local:       local,
		Player:      player,
		Events:      newEventPublisher(busClient, store, r.logger),
	}, r.logger)

	return &pipeline{
		orch:        orch,
		transcriber: transcriber,
		replier:     replier,
		synth:       synth,
	}, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports 200 even when upstream providers are down: the
// pipeline degrades through its fallback chain instead of going unready.
func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if r.registry != nil && r.registry.Degraded() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready (degraded)"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

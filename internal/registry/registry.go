package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/bus"
	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Target is one upstream provider to health-check. Kind is one of
// agent, stt or tts.
type Target struct {
	Name string
	Kind string
	URL  string
}

type announceMessage struct {
	Runtime   string                    `json:"runtime"`
	Providers []protocol.ProviderStatus `json:"providers"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Registry probes provider endpoints on an interval and keeps the latest
// health snapshot. Remote runtimes sharing the bus contribute their view via
// announce and heartbeat messages.
type Registry struct {
	cfg     config.RegistryConfig
	runtime string
	log     *slog.Logger
	bus     *bus.Client
	client  *http.Client
	targets []Target

	mu        sync.RWMutex
	providers map[string]*protocol.ProviderStatus

	ticker *time.Ticker
	cancel context.CancelFunc
	subs   []*nats.Subscription
	meter  metric.Meter
}

// New starts the probe loop. busClient may be nil when the runtime operates
// without a bus; announce and heartbeat fan-out is skipped then.
func New(ctx context.Context, cfg config.RegistryConfig, runtimeName string, targets []Target, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:       cfg,
		runtime:   runtimeName,
		log:       log.With(slog.String("component", "provider-registry")),
		bus:       busClient,
		client:    &http.Client{Timeout: time.Duration(cfg.ProbeTimeoutMS) * time.Millisecond},
		targets:   targets,
		providers: make(map[string]*protocol.ProviderStatus),
		meter:     otel.Meter("github.com/crossai-ng/pronto-voice/registry"),
		cancel:    cancel,
	}

	for _, t := range targets {
		r.providers[t.Name] = &protocol.ProviderStatus{Name: t.Name, Kind: t.Kind}
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if r.bus != nil {
		if err := r.subscribe(); err != nil {
			r.cancel()
			return nil, err
		}
	}

	r.probeAll(ctx)
	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce providers", slog.String("error", err.Error()))
	}

	r.ticker = time.NewTicker(time.Duration(cfg.ProbeIntervalMS) * time.Millisecond)
	go r.run(ctx)

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.ticker != nil {
		r.ticker.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectProviderAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectProviderHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ticker.C:
			r.probeAll(ctx)
			if err := r.publishHeartbeats(); err != nil {
				r.log.Warn("failed to publish heartbeats", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	for _, t := range r.targets {
		healthy, latency := r.probe(ctx, t)
		r.update(t.Name, t.Kind, healthy, latency)
	}
}

// probe treats any response below 500 as alive: provider 4xx still proves the
// endpoint is reachable and serving.
func (r *Registry) probe(ctx context.Context, t Target) (bool, int64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return false, 0
	}
	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return false, 0
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError, time.Since(start).Milliseconds()
}

func (r *Registry) update(name, kind string, healthy bool, latency int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.providers[name]
	if !ok {
		status = &protocol.ProviderStatus{Name: name, Kind: kind}
		r.providers[name] = status
	}
	if kind != "" {
		status.Kind = kind
	}
	status.Healthy = healthy
	status.LastSeen = time.Now().UTC()
	if latency > 0 {
		status.LatencyMS = latency
	}
}

func (r *Registry) announce() error {
	if r.bus == nil {
		return nil
	}
	msg := announceMessage{
		Runtime:   r.runtime,
		Providers: r.Snapshot(),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.bus.Conn().Publish(protocol.SubjectProviderAnnounce, payload)
}

func (r *Registry) publishHeartbeats() error {
	if r.bus == nil {
		return nil
	}
	for _, status := range r.Snapshot() {
		payload, err := json.Marshal(status)
		if err != nil {
			return err
		}
		subject := fmt.Sprintf("%s.%s", protocol.SubjectProviderHeartbeat, status.Name)
		if err := r.bus.Conn().Publish(subject, payload); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Runtime == r.runtime {
		return
	}
	for _, p := range announcement.Providers {
		r.update(p.Name, p.Kind, p.Healthy, p.LatencyMS)
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var status protocol.ProviderStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	r.update(status.Name, status.Kind, status.Healthy, status.LatencyMS)
}

// Snapshot returns the known providers sorted by name.
func (r *Registry) Snapshot() []protocol.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ProviderStatus, 0, len(r.providers))
	for _, status := range r.providers {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Degraded reports whether any probed provider is currently unhealthy. The
// pipeline keeps serving through its fallback chain; this only feeds the
// readiness report.
func (r *Registry) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, status := range r.providers {
		if !status.Healthy {
			return true
		}
	}
	return false
}

// HealthyCount returns healthy providers of the given kind.
func (r *Registry) HealthyCount(kind string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for _, status := range r.providers {
		if status.Kind == kind && status.Healthy {
			n++
		}
	}
	return n
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	known, err := r.meter.Int64ObservableGauge("pronto.providers.known", metric.WithDescription("Number of known providers"))
	if err != nil {
		return err
	}
	healthy, err := r.meter.Int64ObservableGauge("pronto.providers.healthy", metric.WithDescription("Number of healthy providers"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, up := r.snapshotCounts()
		obs.ObserveInt64(known, total)
		obs.ObserveInt64(healthy, up)
		return nil
	}, known, healthy)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total, up int64
	for _, status := range r.providers {
		total++
		if status.Healthy {
			up++
		}
	}
	return total, up
}

// TargetsFromConfig derives the probe targets from the runtime config: the
// conversational agent, the transcription backend when enabled, and every
// synthesis provider in fallback order.
func TargetsFromConfig(cfg config.Config) []Target {
	var targets []Target
	if cfg.Agent.BaseURL != "" {
		targets = append(targets, Target{Name: "agent", Kind: "agent", URL: cfg.Agent.BaseURL + cfg.Agent.Endpoint})
	}
	if cfg.STT.Enabled && cfg.STT.BaseURL != "" {
		targets = append(targets, Target{Name: "stt", Kind: "stt", URL: cfg.STT.BaseURL + cfg.STT.Endpoint})
	}
	for _, p := range cfg.TTS.Providers {
		targets = append(targets, Target{Name: p.Name, Kind: "tts", URL: p.BaseURL + p.Endpoint})
	}
	return targets
}

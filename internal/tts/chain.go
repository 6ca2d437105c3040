package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/sony/gobreaker"
)

// Chain tries remote providers strictly in configured order and stops at the
// first acceptable response. Providers are never raced; at most one request
// is in flight at a time.
type Chain struct {
	providers    []*Provider
	breakers     map[string]*gobreaker.CircuitBreaker
	secureOrigin bool
	log          *slog.Logger
}

func NewChain(cfg config.TTSConfig, log *slog.Logger) *Chain {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	c := &Chain{
		secureOrigin: cfg.SecureOrigin,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
		log:          log.With(slog.String("component", "tts-chain")),
	}
	for _, pc := range cfg.Providers {
		provider := NewProvider(pc, cfg.Mode, timeout, cfg.MinAudioBytes)
		c.providers = append(c.providers, provider)
		c.breakers[provider.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    provider.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return c
}

// Synthesize iterates the provider order. A provider returning a non-audio or
// undersized payload counts as failed even on a 2xx status; the next provider
// in order is tried. If every provider fails the chain returns
// ErrAllProvidersFailed for the caller's on-device fallback.
func (c *Chain) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrEmptyText
	}

	attempted := 0
	for _, provider := range c.providers {
		if c.secureOrigin && !provider.Secure() {
			c.log.Debug("skipping insecure provider on secure origin",
				slog.String("provider", provider.Name()))
			continue
		}
		attempted++

		result, err := c.breakers[provider.Name()].Execute(func() (interface{}, error) {
			return provider.Synthesize(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				c.log.Debug("provider breaker open", slog.String("provider", provider.Name()))
			} else {
				c.log.Warn("tts provider failed", slog.String("provider", provider.Name()),
					slog.String("error", err.Error()))
			}
			if ctx.Err() != nil {
				return Audio{}, ctx.Err()
			}
			continue
		}
		return result.(Audio), nil
	}

	if attempted == 0 {
		return Audio{}, fmt.Errorf("no eligible providers on secure origin: %w", ErrAllProvidersFailed)
	}
	return Audio{}, ErrAllProvidersFailed
}

// ProviderNames returns the configured provider order, used by the registry
// and the widget config endpoint.
func (c *Chain) ProviderNames() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

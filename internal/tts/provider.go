package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
)

// audioContentType matches MIME types the chain accepts as playable audio.
var audioContentType = regexp.MustCompile(`(?i)^(audio/|application/ogg|application/octet-stream)`)

// Provider is one remote TTS backend reached over HTTP:
// GET {base}{endpoint}?text=&voice=&mode=file[&rate=&volume=].
type Provider struct {
	name     string
	base     string
	endpoint string
	mode     string
	minBytes int
	client   *http.Client
}

func NewProvider(cfg config.TTSProvider, mode string, timeout time.Duration, minBytes int) *Provider {
	return &Provider{
		name:     cfg.Name,
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		endpoint: cfg.Endpoint,
		mode:     mode,
		minBytes: minBytes,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return p.name }

// Secure reports whether the provider endpoint uses https. On a secure
// origin, insecure providers are filtered out before any attempt because the
// browser embedding the widget would block the mixed-content request anyway.
func (p *Provider) Secure() bool {
	return strings.HasPrefix(p.base, "https://")
}

func (p *Provider) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrEmptyText
	}

	query := url.Values{}
	query.Set("text", req.Text)
	query.Set("voice", req.Voice)
	if p.mode != "" {
		query.Set("mode", p.mode)
	}
	if req.Rate != "" {
		query.Set("rate", req.Rate)
	}
	if req.Volume != "" {
		query.Set("volume", req.Volume)
	}

	target := fmt.Sprintf("%s%s?%s", p.base, p.endpoint, query.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Audio{}, &ProviderError{Provider: p.name, Reason: "build request", Err: err}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Audio{}, &ProviderError{Provider: p.name, Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Audio{}, &ProviderError{Provider: p.name, Reason: fmt.Sprintf("status %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, &ProviderError{Provider: p.name, Reason: "read body", Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if !audioContentType.MatchString(contentType) {
		return Audio{}, &ProviderError{Provider: p.name, Reason: fmt.Sprintf("non-audio content type %q", contentType)}
	}
	if len(body) < p.minBytes {
		return Audio{}, &ProviderError{Provider: p.name, Reason: fmt.Sprintf("undersized payload (%d bytes)", len(body))}
	}

	return Audio{Bytes: body, MIMEType: contentType}, nil
}

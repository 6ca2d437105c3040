package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
)

type httpReplier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPReplier posts {text} to the configured agent endpoint and extracts
// the reply using the text > reply > message key priority.
func NewHTTPReplier(cfg config.AgentConfig) Replier {
	return &httpReplier{
		url:     cfg.BaseURL + cfg.Endpoint,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		client:  &http.Client{},
	}
}

func (r *httpReplier) Reply(ctx context.Context, transcript string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(protocol.ReplyRequest{Text: transcript})
	if err != nil {
		return Result{}, &ReplyError{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, &ReplyError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, &ReplyError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &ReplyError{Reason: fmt.Sprintf("agent status %s", resp.Status)}
	}

	var decoded protocol.ReplyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, &ReplyError{Reason: "decode response", Err: err}
	}

	text, ok := decoded.Speech()
	if !ok {
		reason := "agent reported failure"
		if decoded.Error != "" {
			reason = fmt.Sprintf("agent reported failure: %s", decoded.Error)
		} else if decoded.OK == nil {
			reason = "agent response carried no usable text"
		}
		return Result{}, &ReplyError{Reason: reason}
	}

	return Result{Text: text}, nil
}

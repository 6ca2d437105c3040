package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/crossai-ng/pronto-voice/internal/config"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
)

// FallbackClassification is used whenever the classifier response cannot be
// parsed. A deterministic middle-of-the-road answer so dispatch never stalls
// on a malformed model reply.
var FallbackClassification = protocol.Classification{
	EmergencyType: "OTHER",
	Severity:      "MEDIUM",
	Response:      "Emergency reported. Dispatching appropriate response team.",
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

type httpClassifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPClassifier posts {transcript, language} to the classify endpoint.
// Classifier backends wrap an LLM and sometimes decorate the JSON with prose,
// so the first JSON object found in the body is what gets parsed.
func NewHTTPClassifier(cfg config.AgentConfig) Classifier {
	return &httpClassifier{
		url:     cfg.BaseURL + cfg.ClassifyEndpoint,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		client:  &http.Client{},
	}
}

func (c *httpClassifier) Classify(ctx context.Context, transcript, language string) (protocol.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"transcript": transcript, "language": language})
	if err != nil {
		return FallbackClassification, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return FallbackClassification, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return FallbackClassification, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FallbackClassification, fmt.Errorf("classifier status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return FallbackClassification, err
	}

	return ParseClassification(raw), nil
}

// ParseClassification extracts a classification from a raw classifier body,
// tolerating surrounding prose. Unparseable input yields the fallback.
func ParseClassification(raw []byte) protocol.Classification {
	match := jsonObjectPattern.Find(raw)
	if match == nil {
		return FallbackClassification
	}
	var decoded protocol.Classification
	if err := json.Unmarshal(match, &decoded); err != nil {
		return FallbackClassification
	}
	if decoded.EmergencyType == "" || decoded.Severity == "" {
		return FallbackClassification
	}
	return decoded
}

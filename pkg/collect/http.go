package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/tinywatch/pkg/rawlog"
)

// HTTPSink writes batches to a remote watcherd through
// POST /v1/sources/{source}/samples, for collectors running on another
// host.
type HTTPSink struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSink creates a sink posting to the daemon at baseURL, e.g.
// "http://127.0.0.1:8080".
func NewHTTPSink(baseURL, apiKey string) (*HTTPSink, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	return &HTTPSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Write sends records as one request.
func (s *HTTPSink) Write(ctx context.Context, source string, records []rawlog.Record) error {
	if len(records) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{"samples": records})
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	endpoint := s.baseURL + "/v1/sources/" + url.PathEscape(source) + "/samples"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

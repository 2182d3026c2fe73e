// Package explain hands emitted alerts to an external explanation service and
// attaches the returned text to the alert.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Request is the context sent for one alert.
type Request struct {
	AlertID        string                    `json:"alert_id"`
	Kind           string                    `json:"kind"`
	Service        string                    `json:"service"`
	Severity       string                    `json:"severity"`
	Score          float64                   `json:"score"`
	Summary        string                    `json:"summary"`
	Window         extractors.WindowSummary  `json:"window"`
	RecentMessages []string                  `json:"recent_messages,omitempty"`
	Signatures     []models.MessageSignature `json:"signatures,omitempty"`
}

type response struct {
	Explanation string `json:"explanation"`
}

// Client calls the explanation endpoint over HTTP.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client for endpoint. apiKey is sent as a bearer token when set.
func NewClient(endpoint, apiKey string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, utils.ConfigurationError("explain.client", "endpoint is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Explain returns the explanation text for req.
func (c *Client) Explain(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", utils.TransientIOError("explain.client", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("explanation service returned %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", utils.TransientIOError("explain.client", "request rejected", err)
		}
		return "", utils.NewAppError("explain.client", "request rejected", err)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.Explanation) == "" {
		return "", utils.NewAppError("explain.client", "empty explanation", nil)
	}
	return out.Explanation, nil
}

// Package oracle implements the HTTP client for the external reasoning
// service that proposes trading actions. The service receives the current
// engine state and replies with a structured proposal payload; the engine
// owns all parsing and validation of that payload.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantara/perpbot/internal/domain"
)

// maxResponseBytes bounds the proposal payload size.
const maxResponseBytes = 1 << 20

// SnapshotSource produces the state snapshot sent as decision context.
type SnapshotSource func() domain.StateSnapshot

// Client calls the decision service over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	source   SnapshotSource
	client   *http.Client
}

var _ domain.DecisionOracle = (*Client)(nil)

// NewClient creates a Client for the given endpoint. The per-call deadline is
// enforced by the caller's context; the transport timeout here is only a
// safety net.
func NewClient(endpoint, apiKey string, source SnapshotSource) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		source:   source,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Propose posts the current state snapshot to the decision service and
// returns the raw proposal payload.
func (c *Client) Propose(ctx context.Context) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"snapshot": c.source(),
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal context: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("oracle: read response: %w", err)
	}
	return payload, nil
}

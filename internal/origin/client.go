// Package origin holds the outbound REST client for the origin server: the
// acknowledge and backlog-listing calls the pipeline depends on, plus the
// endpoint CRUD pass-through used by the management surface.
package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/credentials"
	"github.com/eventqueue/agent/internal/domain"
	"github.com/eventqueue/agent/internal/retry"
)

// Client calls the origin's REST API, authenticated with the static API
// key/secret pair from the credential provider.
type Client struct {
	baseURL    string
	creds      *credentials.Provider
	httpClient *http.Client
	policy     retry.Policy
}

// New creates a Client for the origin at baseURL with a 30-second timeout
// and the default three-attempt retry policy.
func New(baseURL string, creds *credentials.Provider) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.Default,
	}
}

// Acknowledge tells the origin to stop tracking id: it has been consumed
// locally. Connection failures and non-2xx responses are retried up to three
// attempts with exponential backoff. Exhaustion yields false, never an error —
// a missed acknowledge is non-fatal and is retried the next time the origin
// redelivers the same id.
func (c *Client) Acknowledge(ctx context.Context, id uuid.UUID) bool {
	err := c.policy.Do(ctx, func() error {
		return c.do(ctx, http.MethodDelete, "/api/calls/"+id.String(), nil, nil)
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("origin acknowledge failed")
		return false
	}
	return true
}

// ListPending fetches the origin's current backlog for this agent. Failure is
// returned to the caller: this path feeds an explicit user-triggered listing
// and must not degrade into a silent empty list.
func (c *Client) ListPending(ctx context.Context) ([]domain.Notification, error) {
	var backlog []domain.Notification
	if err := c.do(ctx, http.MethodGet, "/api/calls", nil, &backlog); err != nil {
		return nil, fmt.Errorf("list pending calls: %w", err)
	}
	return backlog, nil
}

// ─── Endpoint CRUD pass-through ──────────────────────────────────────────────

// Endpoint is a registered destination on the origin side.
type Endpoint struct {
	ID             uuid.UUID  `json:"id"`
	DestinationURL string     `json:"destination_url"`
	Description    string     `json:"description"`
	Created        time.Time  `json:"created"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
}

// EndpointRequest creates or updates an Endpoint.
type EndpointRequest struct {
	DestinationURL string `json:"destination_url"`
	Description    string `json:"description"`
}

func (c *Client) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var endpoints []Endpoint
	if err := c.do(ctx, http.MethodGet, "/api/endpoints", nil, &endpoints); err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return endpoints, nil
}

func (c *Client) CreateEndpoint(ctx context.Context, req EndpointRequest) error {
	if err := c.do(ctx, http.MethodPost, "/api/endpoints", req, nil); err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

func (c *Client) UpdateEndpoint(ctx context.Context, id uuid.UUID, req EndpointRequest) error {
	if err := c.do(ctx, http.MethodPut, "/api/endpoints/"+id.String(), req, nil); err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	return nil
}

func (c *Client) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/api/endpoints/"+id.String(), nil, nil); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// do executes one authenticated JSON request. A non-2xx status is an error;
// when result is non-nil the response body is decoded into it.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	key, secret, err := c.creds.KeyPair()
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", key)
	req.Header.Set("X-Api-Secret", secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("origin %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("origin %s %s: status %d", method, path, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode origin response: %w", err)
		}
	}
	return nil
}

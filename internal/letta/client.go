// ABOUTME: Typed HTTP client for the Letta-compatible agent runtime API
// ABOUTME: Wraps calls in a circuit breaker and normalizes upstream errors

package letta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker/v2"
)

// ErrUpstreamUnavailable is returned when the runtime cannot be reached or
// answers with a server error.
var ErrUpstreamUnavailable = errors.New("upstream agent runtime unavailable")

// ErrAgentNotFound is returned when the runtime reports 404 for a resource.
var ErrAgentNotFound = errors.New("agent not found")

// Circuit breaker defaults. The breaker opens after consecutive upstream
// failures so a dead runtime fails fast instead of stacking timeouts.
const (
	breakerMaxFailures uint32 = 5
	breakerTimeout            = 30 * time.Second
	breakerInterval           = 60 * time.Second
)

// retryBackoff is the pause before the single retry of an idempotent read.
const retryBackoff = 250 * time.Millisecond

// Client is a typed client for the agent runtime HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the runtime at baseURL. The apiKey is sent as a
// bearer token on every request. Timeout bounds each individual request.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "letta"),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "letta",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Only unavailability trips the breaker; 404s and client
			// errors mean the runtime is healthy.
			return !errors.Is(err, ErrUpstreamUnavailable)
		},
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateBlock creates a memory block on the runtime and returns it.
func (c *Client) CreateBlock(ctx context.Context, label, value string) (*Block, error) {
	var block Block
	err := c.do(ctx, http.MethodPost, "/v1/blocks/", nil, map[string]string{
		"label": label,
		"value": value,
	}, &block)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// AttachBlock attaches a memory block to an agent's core memory.
func (c *Client) AttachBlock(ctx context.Context, agentID, blockID string) error {
	path := fmt.Sprintf("/v1/agents/%s/core-memory/blocks/attach/%s", agentID, blockID)
	return c.do(ctx, http.MethodPatch, path, nil, nil, nil)
}

// DetachBlock detaches a memory block from an agent's core memory.
func (c *Client) DetachBlock(ctx context.Context, agentID, blockID string) error {
	path := fmt.Sprintf("/v1/agents/%s/core-memory/blocks/detach/%s", agentID, blockID)
	return c.do(ctx, http.MethodPatch, path, nil, nil, nil)
}

// UpdateBlock replaces a block's value.
func (c *Client) UpdateBlock(ctx context.Context, blockID, value string) error {
	path := fmt.Sprintf("/v1/blocks/%s", blockID)
	return c.do(ctx, http.MethodPatch, path, nil, map[string]string{"value": value}, nil)
}

// ListAgents lists agents, optionally filtered by tags. With matchAll set,
// only agents carrying every tag are returned. Idempotent; retried once.
func (c *Client) ListAgents(ctx context.Context, tags []string, matchAll bool) ([]Agent, error) {
	query := url.Values{}
	for _, tag := range tags {
		query.Add("tags", tag)
	}
	if len(tags) > 0 {
		query.Set("matchAllTags", strconv.FormatBool(matchAll))
	}

	var agents []Agent
	if err := c.doIdempotent(ctx, "/v1/agents/", query, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// CreateAgent creates a new agent on the runtime.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodPost, "/v1/agents/", nil, req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgent fetches a single agent by ID. Idempotent; retried once.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var agent Agent
	if err := c.doIdempotent(ctx, "/v1/agents/"+agentID, nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// UpdateAgent applies a partial update to an agent and returns the result.
func (c *Client) UpdateAgent(ctx context.Context, agentID string, fields map[string]any) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, http.MethodPut, "/v1/agents/"+agentID, nil, fields, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// DeleteAgent removes an agent from the runtime.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/agents/"+agentID, nil, nil, nil)
}

// ListMessages returns an agent's message history. Idempotent; retried once.
func (c *Client) ListMessages(ctx context.Context, agentID string, limit int) ([]Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var messages []Message
	if err := c.doIdempotent(ctx, "/v1/agents/"+agentID+"/messages", query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage submits messages to an agent and returns its responses.
// Never retried: a duplicate send is a duplicate conversation turn.
func (c *Client) SendMessage(ctx context.Context, agentID string, messages []MessageInput) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	err := c.do(ctx, http.MethodPost, "/v1/agents/"+agentID+"/messages", nil,
		map[string][]MessageInput{"messages": messages}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListArchivalMemory returns an agent's archival passages. Idempotent;
// retried once.
func (c *Client) ListArchivalMemory(ctx context.Context, agentID string, limit int, after, before string) ([]Passage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		query.Set("after", after)
	}
	if before != "" {
		query.Set("before", before)
	}

	var passages []Passage
	if err := c.doIdempotent(ctx, "/v1/agents/"+agentID+"/archival-memory", query, &passages); err != nil {
		return nil, err
	}
	return passages, nil
}

// doIdempotent performs a GET with at most one retry on upstream
// unavailability. Writes never go through this path: attach, detach, and
// send must not be duplicated.
func (c *Client) doIdempotent(ctx context.Context, path string, query url.Values, out any) error {
	err := c.do(ctx, http.MethodGet, path, query, nil, out)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryBackoff):
	}

	c.logger.Debug("retrying idempotent read", "path", path)
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// do performs a single HTTP request through the circuit breaker and decodes
// the JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, payload)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrUpstreamUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s %s", ErrAgentNotFound, method, path)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("upstream rejected %s %s: status %d: %s",
				method, path, resp.StatusCode, truncate(string(data), 200))
		}

		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open", ErrUpstreamUnavailable)
		}
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// truncate shortens s to at most n bytes for error messages, backing up to
// the nearest rune boundary so the result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

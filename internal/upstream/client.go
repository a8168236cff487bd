// Package upstream talks to the orchestrator API that owns the actual
// air-quality data and agents. The gateway relays its JSON payloads
// without re-modelling them.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/respiro/gateway/internal/config"
)

// ErrNotFound is returned when the orchestrator has no data for a resource
// yet (HTTP 404).
var ErrNotFound = errors.New("upstream: not found")

// StatusError is any other non-2xx response from the orchestrator.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Code, e.Body)
}

// AgentForecastCycle and friends name the remote agent actions the
// orchestrator exposes.
const (
	AgentForecastCycle  = "forecast-cycle"
	AgentEnforcement    = "enforcement"
	AgentAccountability = "accountability-report"
)

type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
}

func New(cfg config.UpstreamConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		maxRetries: uint64(cfg.MaxRetries),
	}
}

// BaseURL returns the configured orchestrator base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Status fetches the orchestrator state.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/status")
}

// Forecast fetches the latest forecast data.
func (c *Client) Forecast(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/forecast")
}

// Sensors fetches the latest sensor readings.
func (c *Client) Sensors(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/sensors")
}

// Logs fetches up to limit recent agent log entries.
func (c *Client) Logs(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.get(ctx, fmt.Sprintf("/logs?limit=%d", limit))
}

// RunAgent triggers a remote agent action. Agent runs are never retried:
// re-firing an enforcement cycle on a timeout is worse than reporting the
// failure.
func (c *Client) RunAgent(ctx context.Context, name string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/"+name+"/run", nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: run %s: %w", name, err)
	}
	defer resp.Body.Close()

	return readBody(resp)
}

// get performs a GET with bounded exponential-backoff retries. 4xx responses
// are permanent; network failures and 5xx are retried.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	var out json.RawMessage

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("upstream: building request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("upstream: %s: %w", path, err)
		}
		defer resp.Body.Close()

		body, err := readBody(resp)
		if err != nil {
			var se *StatusError
			if errors.Is(err, ErrNotFound) || (errors.As(err, &se) && se.Code < 500) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = body
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return out, nil
}

func readBody(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("upstream: reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	}
	return json.RawMessage(body), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

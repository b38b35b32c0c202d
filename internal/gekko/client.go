// Package gekko is a client for a self-hosted Gekko trading server.
package gekko

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
	"strings"
	"time"
)

// DefaultBaseURL is where a local Gekko server listens by default.
const DefaultBaseURL = "http://localhost:3000"

// ErrEmptyConfig is returned when StartTrading is called without configuration.
var ErrEmptyConfig = errors.New("trading configuration cannot be empty")

// Client talks to the Gekko REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL and
// a non-positive timeout selects 10 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetExchangeInfo returns the server's description of exchange.
func (c *Client) GetExchangeInfo(ctx context.Context, exchange string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/exchanges/"+url.PathEscape(exchange), nil, &out); err != nil {
		return nil, fmt.Errorf("retrieve exchange info: %w", err)
	}
	return out, nil
}

// ListStrategies returns the trading strategies the server offers.
func (c *Client) ListStrategies(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/strategies", nil, &out); err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	return out, nil
}

// StartTrading starts a trading session and returns its ID. The ID is
// empty when the server does not report one.
func (c *Client) StartTrading(ctx context.Context, cfg map[string]any) (string, error) {
	if len(cfg) == 0 {
		return "", ErrEmptyConfig
	}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/trade", cfg, &out); err != nil {
		return "", fmt.Errorf("start trading: %w", err)
	}
	return out.SessionID, nil
}

// StopTrading stops a trading session. It reports true only when the
// server answers 200; transport failures report false.
func (c *Client) StopTrading(ctx context.Context, sessionID string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/trade/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("Gekko stop request failed", "session_id", sessionID, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gekko: unexpected status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

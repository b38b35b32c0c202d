// Package market is a client for the CoinGecko v3 REST API.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/agora-labs/internal/metrics"
)

// DefaultBaseURL is the public CoinGecko v3 endpoint.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Listing defaults.
const (
	DefaultTopLimit  = 10
	DefaultListLimit = 100
)

const (
	apiKeyHeader = "x-cg-demo-api-key"
	maxBodyBytes = 10 << 20
)

var (
	// ErrCoinIDRequired is returned when GetCoinByID is called with an empty id.
	ErrCoinIDRequired = errors.New("coin id is required")
	// ErrCoinNotFound is returned when the upstream answers 404 for a coin.
	ErrCoinNotFound = errors.New("coin not found")
	// ErrInvalidLimit is returned when a listing limit is not positive.
	ErrInvalidLimit = errors.New("limit must be a positive number")
)

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("coingecko: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("coingecko: unexpected status %d: %s", e.StatusCode, body)
}

// Coin is the normalized view of a coin's USD market data.
type Coin struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	MarketCap float64 `json:"market_cap"`
	Volume24h float64 `json:"volume_24h"`
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int // 0 disables outbound rate limiting
	Timeout           time.Duration
	HTTPClient        *http.Client

	// Cache, when set, short-circuits repeated requests for CacheTTL.
	Cache    Cache
	CacheTTL time.Duration
}

// Client fetches coin data from CoinGecko.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	cache    Cache
	cacheTTL time.Duration
}

// NewClient creates a Client. An empty BaseURL selects DefaultBaseURL.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:  baseURL,
		apiKey:   opts.APIKey,
		http:     httpClient,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
	}
	if opts.RequestsPerMinute > 0 {
		every := time.Minute / time.Duration(opts.RequestsPerMinute)
		c.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
	return c
}

type coinDetail struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
		MarketCap    map[string]float64 `json:"market_cap"`
		TotalVolume  map[string]float64 `json:"total_volume"`
	} `json:"market_data"`
}

type marketItem struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
	MarketCap    float64 `json:"market_cap"`
	TotalVolume  float64 `json:"total_volume"`
}

func (m marketItem) coin() Coin {
	return Coin{
		ID:        m.ID,
		Symbol:    m.Symbol,
		Name:      m.Name,
		Price:     m.CurrentPrice,
		MarketCap: m.MarketCap,
		Volume24h: m.TotalVolume,
	}
}

// GetCoinByID fetches a single coin with its USD price, market cap and volume.
func (c *Client) GetCoinByID(ctx context.Context, id string) (Coin, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Coin{}, ErrCoinIDRequired
	}

	var detail coinDetail
	err := c.get(ctx, "coin", "/coins/"+url.PathEscape(id), nil, &detail)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return Coin{}, fmt.Errorf("%w: %s", ErrCoinNotFound, id)
		}
		return Coin{}, fmt.Errorf("fetch coin %s: %w", id, err)
	}

	return Coin{
		ID:        detail.ID,
		Symbol:    detail.Symbol,
		Name:      detail.Name,
		Price:     detail.MarketData.CurrentPrice["usd"],
		MarketCap: detail.MarketData.MarketCap["usd"],
		Volume24h: detail.MarketData.TotalVolume["usd"],
	}, nil
}

// GetTopCryptocurrencies lists the top limit coins by market cap.
func (c *Client) GetTopCryptocurrencies(ctx context.Context, limit int) ([]Coin, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	coins, err := c.markets(ctx, "top", limit, false)
	if err != nil {
		return nil, fmt.Errorf("fetch top cryptocurrencies: %w", err)
	}
	return coins, nil
}

// GetCoinList lists coins by market cap without sparkline data. A
// non-positive limit selects DefaultListLimit.
func (c *Client) GetCoinList(ctx context.Context, limit int) ([]Coin, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	coins, err := c.markets(ctx, "list", limit, true)
	if err != nil {
		return nil, fmt.Errorf("fetch coin list: %w", err)
	}
	return coins, nil
}

func (c *Client) markets(ctx context.Context, endpoint string, limit int, noSparkline bool) ([]Coin, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("page", "1")
	if noSparkline {
		q.Set("sparkline", "false")
	}

	var items []marketItem
	if err := c.get(ctx, endpoint, "/coins/markets", q, &items); err != nil {
		return nil, err
	}

	coins := make([]Coin, len(items))
	for i, it := range items {
		coins[i] = it.coin()
	}
	return coins, nil
}

// get performs a GET against path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	key := path
	if len(query) > 0 {
		key += "?" + query.Encode()
	}

	if c.cache != nil {
		body, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			slog.Warn("Market cache read failed", "key", key, "error", err)
		case ok:
			if err := json.Unmarshal(body, out); err == nil {
				metrics.MarketRequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
				return nil
			}
			slog.Warn("Discarding undecodable cached market response", "key", key)
		}
	}

	body, err := c.fetch(ctx, key)
	if err != nil {
		metrics.MarketRequestsTotal.WithLabelValues(endpoint, metrics.StatusError).Inc()
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.MarketRequestsTotal.WithLabelValues(endpoint, metrics.StatusError).Inc()
		return fmt.Errorf("decode response: %w", err)
	}
	metrics.MarketRequestsTotal.WithLabelValues(endpoint, metrics.StatusSuccess).Inc()

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			slog.Warn("Market cache write failed", "key", key, "error", err)
		}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, pathAndQuery string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

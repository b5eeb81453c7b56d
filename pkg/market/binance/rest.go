// Package binance reads public Binance spot market data. It never signs
// requests and carries no API key, so it cannot place orders.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	mainnetREST = "https://api.binance.com"
	testnetREST = "https://testnet.binance.vision"
)

// Client wraps the public REST endpoints with a client-side rate limit.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a REST client; testnet switches the base URL. The
// limiter keeps well under the exchange's per-IP request weight.
func NewClient(testnet bool) *Client {
	base := mainnetREST
	if testnet {
		base = testnetREST
	}
	return &Client{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

// WithLimiter replaces the request limiter.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil)
	return err
}

// Price returns the last traded price for symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	body, err := c.do(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	p, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || p <= 0 {
		return 0, fmt.Errorf("invalid price %q for %s", resp.Price, symbol)
	}
	return p, nil
}

// Ticker24h returns the rolling 24h statistics for symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	body, err := c.do(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return Ticker24h{}, err
	}
	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Ticker24h{}, fmt.Errorf("decode 24h ticker: %w", err)
	}
	return Ticker24h{
		Symbol:             raw.Symbol,
		LastPrice:          toFloat(raw.LastPrice),
		PriceChangePercent: toFloat(raw.PriceChangePercent),
		High:               toFloat(raw.HighPrice),
		Low:                toFloat(raw.LowPrice),
		Volume:             toFloat(raw.Volume),
		QuoteVolume:        toFloat(raw.QuoteVolume),
	}, nil
}

// BookTicker returns the best bid/ask for symbol.
func (c *Client) BookTicker(ctx context.Context, symbol string) (BookTicker, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	body, err := c.do(ctx, "/api/v3/ticker/bookTicker", params)
	if err != nil {
		return BookTicker{}, err
	}
	var raw struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return BookTicker{}, fmt.Errorf("decode book ticker: %w", err)
	}
	return BookTicker{Symbol: raw.Symbol, BidPrice: toFloat(raw.BidPrice), AskPrice: toFloat(raw.AskPrice)}, nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	u := c.BaseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}

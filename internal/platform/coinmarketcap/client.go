// Package coinmarketcap is a MarketDataSource backed by the CoinMarketCap
// Pro API.
package coinmarketcap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const (
	DefaultBaseURL = "https://pro-api.coinmarketcap.com"
	quotesPath     = "/v1/cryptocurrency/quotes/latest"
)

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// Client fetches USD quotes for crypto symbols.
type Client struct {
	http *resty.Client
}

// New creates a client. 429 and 5xx responses are retried with backoff.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-CMC_PRO_API_KEY", cfg.APIKey).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(8 * cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &Client{http: rc}
}

type status struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type usdQuote struct {
	Price            float64 `json:"price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange1h  float64 `json:"percent_change_1h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	PercentChange7d  float64 `json:"percent_change_7d"`
	MarketCap        float64 `json:"market_cap"`
}

type quotesResponse struct {
	Status status `json:"status"`
	Data   map[string]struct {
		Symbol string              `json:"symbol"`
		Quote  map[string]usdQuote `json:"quote"`
	} `json:"data"`
}

// GetMarketData returns the latest USD quote for asset.
func (c *Client) GetMarketData(ctx context.Context, asset string) (domain.MarketData, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return domain.MarketData{}, fmt.Errorf("coinmarketcap: empty symbol: %w", domain.ErrInvalidParameters)
	}
	op := "coinmarketcap: quote " + symbol

	var out quotesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "convert": "USD"}).
		SetResult(&out).
		SetError(&out).
		Get(quotesPath)
	if err != nil {
		return domain.MarketData{}, domain.CollaboratorError(op, domain.ErrSourceUnavailable, err)
	}

	if resp.IsError() {
		// An unknown symbol is reported as a 400 naming the parameter.
		if resp.StatusCode() == http.StatusBadRequest && strings.Contains(strings.ToLower(out.Status.ErrorMessage), "symbol") {
			return domain.MarketData{}, fmt.Errorf("%s: %w", op, domain.ErrAssetNotFound)
		}
		return domain.MarketData{}, fmt.Errorf("%s: status %d %s: %w",
			op, resp.StatusCode(), out.Status.ErrorMessage, domain.ErrSourceUnavailable)
	}

	entry, ok := out.Data[symbol]
	if !ok {
		return domain.MarketData{}, fmt.Errorf("%s: %w", op, domain.ErrAssetNotFound)
	}
	q, ok := entry.Quote["USD"]
	if !ok {
		return domain.MarketData{}, fmt.Errorf("%s: no USD quote: %w", op, domain.ErrSourceUnavailable)
	}
	return domain.MarketData{
		CurrentPrice:     q.Price,
		MarketCap:        q.MarketCap,
		Volume24h:        q.Volume24h,
		PercentChange1h:  q.PercentChange1h,
		PercentChange24h: q.PercentChange24h,
		PercentChange7d:  q.PercentChange7d,
	}, nil
}

var _ domain.MarketDataSource = (*Client)(nil)

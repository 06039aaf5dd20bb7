// Package marketdata is the client for the external live-quote provider.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"autotrader/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Quote is one live quote from the market-data provider.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	Timestamp time.Time `json:"timestamp"`
}

// Client fetches live quotes over the provider's REST API.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewClient creates a market-data client.
func NewClient(cfg config.MarketData, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-API-KEY", cfg.ApiKey)

	return &Client{
		client:  client,
		logger:  logger.Named("marketdata"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}
}

// GetLiveQuote fetches the current quote for one symbol.
func (c *Client) GetLiveQuote(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&Quote{}).
		Execute(http.MethodGet, "/quote")
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("quote request for %s failed with status %s", symbol, resp.Status())
	}

	quote := resp.Result().(*Quote)
	if quote.Price <= 0 {
		return nil, fmt.Errorf("provider returned empty quote for %s", symbol)
	}
	return quote, nil
}

// Package prediction is the client for the external ML-prediction provider.
package prediction

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"autotrader/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Prediction is one model output for a symbol over the configured horizon.
type Prediction struct {
	Symbol         string  `json:"symbol"`
	PredictedPrice float64 `json:"predicted_price"`
	Confidence     float64 `json:"confidence"` // in [0,1]
}

// Client fetches model predictions over the provider's REST API.
type Client struct {
	client  *resty.Client
	horizon string
	logger  *zap.Logger
}

// NewClient creates a prediction client.
func NewClient(cfg config.Prediction, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	return &Client{
		client:  client,
		horizon: cfg.Horizon,
		logger:  logger.Named("prediction"),
	}
}

// GetPrediction fetches the model's prediction for a symbol. It returns
// (nil, nil) when the model has no prediction for the symbol.
func (c *Client) GetPrediction(ctx context.Context, symbol string) (*Prediction, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("horizon", c.horizon).
		SetResult(&Prediction{}).
		Execute(http.MethodGet, "/predict")
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction for %s: %w", symbol, err)
	}
	if resp.StatusCode() == http.StatusNoContent || resp.StatusCode() == http.StatusNotFound {
		return nil, nil // model has nothing for this symbol
	}
	if resp.IsError() {
		return nil, fmt.Errorf("prediction request for %s failed with status %s", symbol, resp.Status())
	}

	pred := resp.Result().(*Prediction)
	if pred.PredictedPrice <= 0 {
		return nil, nil
	}
	return pred, nil
}

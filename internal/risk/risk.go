// Package risk scores proposed automated orders before they reach a broker.
// The score is in [0,1]; the scheduler rejects anything above its configured
// ceiling. Scoring happens exactly once per signal and rejection is terminal
// for that cycle.
package risk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"autotrader/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ProposedOrder is the order shape handed to the assessor.
type ProposedOrder struct {
	TenantID       string  `json:"tenant_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price"`
	Confidence     float64 `json:"confidence"`
	AvailableFunds float64 `json:"available_funds"`
}

// Assessor scores a proposed order. Implementations may call out to an
// external risk manager.
type Assessor interface {
	Assess(ctx context.Context, order ProposedOrder) (float64, error)
}

// RemoteAssessor calls the external risk-manager service.
type RemoteAssessor struct {
	client *resty.Client
	logger *zap.Logger
}

var _ Assessor = (*RemoteAssessor)(nil)

// NewRemoteAssessor creates an assessor backed by the configured risk manager.
func NewRemoteAssessor(cfg config.Risk, logger *zap.Logger) *RemoteAssessor {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	return &RemoteAssessor{
		client: client,
		logger: logger.Named("risk"),
	}
}

type assessResponse struct {
	RiskScore float64 `json:"risk_score"`
}

// Assess posts the proposed order to the risk manager and returns its score.
func (a *RemoteAssessor) Assess(ctx context.Context, order ProposedOrder) (float64, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(order).
		SetResult(&assessResponse{}).
		Execute(http.MethodPost, "/assess")
	if err != nil {
		return 0, fmt.Errorf("risk assessment failed: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("risk assessment failed with status %s", resp.Status())
	}
	return resp.Result().(*assessResponse).RiskScore, nil
}

// HeuristicAssessor is the built-in fallback scorer used when no external risk
// manager is configured. It scores concentration (order notional against
// available funds) and discounts by model confidence.
type HeuristicAssessor struct{}

var _ Assessor = HeuristicAssessor{}

// Assess scores the order locally.
func (HeuristicAssessor) Assess(_ context.Context, order ProposedOrder) (float64, error) {
	if order.Quantity <= 0 || order.Price <= 0 {
		return 1, nil // malformed orders are maximum risk
	}

	notional := order.Quantity * order.Price
	concentration := 0.0
	if order.AvailableFunds > 0 {
		concentration = notional / order.AvailableFunds
		if concentration > 1 {
			concentration = 1
		}
	} else {
		concentration = 1
	}

	// Low-confidence signals carry more risk than the same order size backed
	// by a confident model.
	doubt := 1 - order.Confidence
	if doubt < 0 {
		doubt = 0
	}

	score := 0.6*concentration + 0.4*doubt
	if score > 1 {
		score = 1
	}
	return score, nil
}

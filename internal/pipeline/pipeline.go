// Package pipeline turns a live quote plus a model prediction into a sized
// trading signal, or into no signal at all when mode thresholds are unmet.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/marketdata"
	"autotrader/internal/prediction"
	"go.uber.org/zap"
)

// QuoteProvider supplies live quotes. Satisfied by marketdata.Client.
type QuoteProvider interface {
	GetLiveQuote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

// Predictor supplies model predictions; (nil, nil) means the model has none.
// Satisfied by prediction.Client.
type Predictor interface {
	GetPrediction(ctx context.Context, symbol string) (*prediction.Prediction, error)
}

// Signal is one buy/sell recommendation, produced at most once per
// tenant/symbol/cycle and consumed immediately by the risk gate and broker
// manager.
type Signal struct {
	Symbol         string
	Side           string // broker.OrderSideBuy or broker.OrderSideSell
	Confidence     float64
	CurrentPrice   float64
	PredictedPrice float64
	Quantity       float64 // whole units, always >= 1
	Reason         string
	CreatedAt      time.Time
	ExpectedReturn float64
	Mode           string
}

// Score ranks signals within one tenant's cycle: confidence times the
// magnitude of the expected move, descending.
func (s *Signal) Score() float64 {
	return s.Confidence * math.Abs(s.ExpectedReturn)
}

// Pipeline evaluates tenant/symbol pairs into signals.
type Pipeline struct {
	quotes    QuoteProvider
	predictor Predictor
	modes     config.Modes
	logger    *zap.Logger
}

// NewPipeline creates a decision pipeline.
func NewPipeline(quotes QuoteProvider, predictor Predictor, modes config.Modes, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		quotes:    quotes,
		predictor: predictor,
		modes:     modes,
		logger:    logger.Named("pipeline"),
	}
}

// Evaluate runs the decision steps for one tenant/symbol. A nil signal with a
// nil error means "no signal": data unavailable, thresholds unmet, or the
// sized quantity fell below one unit.
func (p *Pipeline) Evaluate(ctx context.Context, tenantID, symbol, mode string, availableFunds float64) (*Signal, error) {
	thresholds, ok := p.modes.Thresholds(mode)
	if !ok {
		return nil, fmt.Errorf("mode %q does not trade", mode)
	}

	quote, err := p.quotes.GetLiveQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote unavailable for %s: %w", symbol, err)
	}

	pred, err := p.predictor.GetPrediction(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("prediction unavailable for %s: %w", symbol, err)
	}
	if pred == nil || pred.Confidence < p.modes.ConfidenceFloor {
		return nil, nil // model silent or below the hard floor
	}

	expectedReturn := (pred.PredictedPrice - quote.Price) / quote.Price

	if math.Abs(expectedReturn) < thresholds.MinReturn || pred.Confidence < thresholds.MinConfidence {
		return nil, nil
	}

	side := broker.OrderSideBuy
	if expectedReturn < 0 {
		side = broker.OrderSideSell
	}

	quantity := PositionSize(availableFunds, thresholds.MaxFraction, pred.Confidence, expectedReturn, quote.Price)
	if quantity < 1 {
		return nil, nil // conviction too small to buy a single unit
	}

	signal := &Signal{
		Symbol:         symbol,
		Side:           side,
		Confidence:     pred.Confidence,
		CurrentPrice:   quote.Price,
		PredictedPrice: pred.PredictedPrice,
		Quantity:       quantity,
		Reason: fmt.Sprintf("model expects %.2f%% move (confidence %.0f%%, mode %s)",
			expectedReturn*100, pred.Confidence*100, mode),
		CreatedAt:      time.Now(),
		ExpectedReturn: expectedReturn,
		Mode:           mode,
	}

	p.logger.Debug("Signal generated",
		zap.String("tenant", tenantID),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("expected_return", expectedReturn),
		zap.Float64("confidence", pred.Confidence),
		zap.Float64("quantity", quantity),
	)
	return signal, nil
}

// PositionSize computes the whole-unit quantity for a signal. Size scales
// with both conviction (confidence) and move magnitude (expected return,
// saturating at a 10% move), and the mode's max fraction of available funds
// caps the tail.
func PositionSize(availableFunds, maxFraction, confidence, expectedReturn, price float64) float64 {
	if price <= 0 {
		return 0
	}
	magnitude := math.Min(math.Abs(expectedReturn)*10, 1)
	return math.Floor(availableFunds * maxFraction * confidence * magnitude / price)
}

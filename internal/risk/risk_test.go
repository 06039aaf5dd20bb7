package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"autotrader/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeuristicAssessor(t *testing.T) {
	a := HeuristicAssessor{}

	// Small, confident order: low score.
	score, err := a.Assess(context.Background(), ProposedOrder{
		Symbol: "AAPL", Side: "BUY",
		Quantity: 2, Price: 100, Confidence: 0.9, AvailableFunds: 10000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.02+0.4*0.1, score, 1e-9)

	// Order consuming all funds with a shaky model: near the top of the scale.
	score, err = a.Assess(context.Background(), ProposedOrder{
		Quantity: 100, Price: 100, Confidence: 0.6, AvailableFunds: 10000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.6+0.4*0.4, score, 1e-9)

	// Concentration is capped at 1 even when the notional exceeds funds.
	over, err := a.Assess(context.Background(), ProposedOrder{
		Quantity: 1000, Price: 100, Confidence: 0.6, AvailableFunds: 10000,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.6+0.4*0.4, over, 1e-9)
}

func TestHeuristicAssessorMalformedOrders(t *testing.T) {
	a := HeuristicAssessor{}

	for _, order := range []ProposedOrder{
		{Quantity: 0, Price: 100, AvailableFunds: 1000},
		{Quantity: 1, Price: 0, AvailableFunds: 1000},
		{Quantity: 1, Price: 100, Confidence: 0.9, AvailableFunds: 0},
	} {
		score, err := a.Assess(context.Background(), order)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.6, "degenerate inputs score as high risk")
	}
}

func TestRemoteAssessor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/assess", r.URL.Path)

		var order ProposedOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		assert.Equal(t, "t1", order.TenantID)
		assert.Equal(t, "AAPL", order.Symbol)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"risk_score": 0.42}`))
	}))
	defer server.Close()

	a := NewRemoteAssessor(config.Risk{BaseURL: server.URL, Timeout: 5}, zap.NewNop())
	score, err := a.Assess(context.Background(), ProposedOrder{
		TenantID: "t1", Symbol: "AAPL", Side: "BUY",
		Quantity: 1, Price: 100, Confidence: 0.8, AvailableFunds: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.42, score)
}

func TestRemoteAssessorServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewRemoteAssessor(config.Risk{BaseURL: server.URL, Timeout: 5}, zap.NewNop())
	_, err := a.Assess(context.Background(), ProposedOrder{Symbol: "AAPL"})
	assert.Error(t, err)
}

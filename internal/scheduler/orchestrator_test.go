package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/database"
	"autotrader/internal/models"
	"autotrader/internal/notify"
	"autotrader/internal/pipeline"
	"autotrader/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubAdapter is a minimal in-memory Adapter for scheduler tests.
type stubAdapter struct {
	mu       sync.Mutex
	name     string
	state    broker.ConnectionState
	cash     float64
	quote    *broker.Quote
	placeErr error
	placed   []*broker.Order

	openOrders []broker.OrderUpdate
	cancelled  []string
}

func newStubAdapter(name string, cash float64) *stubAdapter {
	return &stubAdapter{
		name:  name,
		state: broker.StateConnected,
		cash:  cash,
		quote: &broker.Quote{Bid: 99, Ask: 101, Price: 100},
	}
}

func (s *stubAdapter) Name() string                        { return s.name }
func (s *stubAdapter) State() broker.ConnectionState       { return s.state }
func (s *stubAdapter) Connect(context.Context) error       { return nil }
func (s *stubAdapter) Disconnect(context.Context) error    { return nil }
func (s *stubAdapter) IsMarketOpen(context.Context) (bool, error) { return true, nil }

func (s *stubAdapter) GetAccountInfo(context.Context) (*broker.AccountInfo, error) {
	return &broker.AccountInfo{Cash: s.cash, BuyingPower: s.cash, Equity: s.cash, Currency: "USD"}, nil
}

func (s *stubAdapter) GetPositions(context.Context) ([]broker.Position, error) { return nil, nil }

func (s *stubAdapter) GetPosition(context.Context, string) (*broker.Position, error) {
	return nil, nil
}

func (s *stubAdapter) GetQuote(_ context.Context, symbol string) (*broker.Quote, error) {
	if s.quote == nil {
		return nil, broker.ErrMarketData
	}
	q := *s.quote
	q.Symbol = symbol
	return &q, nil
}

func (s *stubAdapter) GetQuotes(_ context.Context, symbols []string) (map[string]broker.Quote, error) {
	out := make(map[string]broker.Quote, len(symbols))
	for _, sym := range symbols {
		if q, err := s.GetQuote(context.Background(), sym); err == nil {
			out[sym] = *q
		}
	}
	return out, nil
}

func (s *stubAdapter) PlaceOrder(_ context.Context, order *broker.Order) (*broker.OrderUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	s.placed = append(s.placed, order)
	return &broker.OrderUpdate{OrderID: "stub-" + order.Symbol, Status: broker.OrderStatusNew}, nil
}

func (s *stubAdapter) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, orderID)
	return nil
}

func (s *stubAdapter) GetOrderStatus(context.Context, string) (*broker.OrderUpdate, error) {
	return nil, nil
}

func (s *stubAdapter) GetOrders(context.Context, broker.OrderFilter) ([]broker.OrderUpdate, error) {
	return s.openOrders, nil
}

func (s *stubAdapter) placedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, o := range s.placed {
		out = append(out, o.Symbol)
	}
	return out
}

// stubEvaluator returns canned signals keyed by symbol.
type stubEvaluator struct {
	signals map[string]*pipeline.Signal
	err     error
}

func (s *stubEvaluator) Evaluate(_ context.Context, _, symbol, _ string, _ float64) (*pipeline.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.signals[symbol], nil
}

// stubClock is a MarketClock pinned open or closed.
type stubClock bool

func (c stubClock) IsOpen(string, time.Time) bool { return bool(c) }

// fixedScore is an Assessor returning one score for every order.
type fixedScore float64

func (f fixedScore) Assess(context.Context, risk.ProposedOrder) (float64, error) {
	return float64(f), nil
}

type testEnv struct {
	orchestrator *Orchestrator
	store        *database.Store
	adapter      *stubAdapter
	evaluator    *stubEvaluator
	now          time.Time
}

func setupEnv(t *testing.T, dailyLimit int) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	store := database.NewStore(db)

	adapter := newStubAdapter("stub", 100000)
	brokers := broker.NewManager(zap.NewNop())
	brokers.Add(adapter, true)

	evaluator := &stubEvaluator{signals: map[string]*pipeline.Signal{}}

	cfg := config.Scheduler{
		TickInterval:        30,
		ClosedTickInterval:  300,
		MaxConcurrency:      4,
		FundsBudgetFraction: 0.8,
		MinAvailableFunds:   100,
		BackoffThreshold:    3,
		Exchange:            "NYSE",
	}
	plans := map[string]config.Plan{"pro": {DailyTradeLimit: dailyLimit}}

	env := &testEnv{
		store:     store,
		adapter:   adapter,
		evaluator: evaluator,
		now:       time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC),
	}
	env.orchestrator = NewOrchestrator(
		zap.NewNop(), cfg, plans, 0.7,
		store, brokers, evaluator, fixedScore(0.1), notify.NopNotifier{}, stubClock(true),
	)
	env.orchestrator.now = func() time.Time { return env.now }
	return env
}

// addTenant seeds an entitled, enabled tenant watching the given symbols.
func (e *testEnv) addTenant(t *testing.T, tenantID, watchlist string) {
	require.NoError(t, e.store.SaveSubscription(&models.Subscription{
		TenantID:  tenantID,
		Plan:      "pro",
		Active:    true,
		ExpiresAt: e.now.Add(365 * 24 * time.Hour),
	}))
	require.NoError(t, e.store.SaveTenantSettings(&models.TenantSettings{
		TenantID:      tenantID,
		Enabled:       true,
		Mode:          models.ModeModerate,
		PrimaryBroker: "stub",
		Watchlist:     watchlist,
		Plan:          "pro",
	}))
}

func buySignal(symbol string, confidence, expectedReturn, price, qty float64) *pipeline.Signal {
	return &pipeline.Signal{
		Symbol:         symbol,
		Side:           broker.OrderSideBuy,
		Confidence:     confidence,
		CurrentPrice:   price,
		PredictedPrice: price * (1 + expectedReturn),
		Quantity:       qty,
		ExpectedReturn: expectedReturn,
		Mode:           models.ModeModerate,
		CreatedAt:      time.Now(),
	}
}

func recordsFor(t *testing.T, store *database.Store, tenantID string) []models.ExecutionRecord {
	recs, err := store.RecentExecutionRecords(100)
	require.NoError(t, err)
	var out []models.ExecutionRecord
	for _, r := range recs {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

func TestCycle_ExecutesSignalsInRankedOrder(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL,MSFT,TSLA")
	env.evaluator.signals = map[string]*pipeline.Signal{
		"AAPL": buySignal("AAPL", 0.70, 0.02, 100, 1), // score 0.014
		"MSFT": buySignal("MSFT", 0.90, 0.04, 100, 1), // score 0.036
		"TSLA": buySignal("TSLA", 0.80, 0.03, 100, 1), // score 0.024
	}

	require.NoError(t, env.orchestrator.cycle(context.Background()))

	assert.Equal(t, []string{"MSFT", "TSLA", "AAPL"}, env.adapter.placedSymbols(),
		"signals execute best score first")

	recs := recordsFor(t, env.store, "t1")
	assert.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, models.ExecutionStatusExecuted, r.Status)
		assert.NotEmpty(t, r.BrokerOrderID)
	}
}

func TestCycle_DisabledTenantNeverExecutes(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)

	require.NoError(t, env.orchestrator.Disable(context.Background(), "t1"))
	require.NoError(t, env.orchestrator.cycle(context.Background()))

	assert.Empty(t, env.adapter.placedSymbols())
	assert.Empty(t, recordsFor(t, env.store, "t1"))
}

func TestCycle_RespectsDailyLimit(t *testing.T) {
	env := setupEnv(t, 2)
	env.addTenant(t, "t1", "AAPL,MSFT,TSLA")
	env.evaluator.signals = map[string]*pipeline.Signal{
		"AAPL": buySignal("AAPL", 0.9, 0.04, 100, 1),
		"MSFT": buySignal("MSFT", 0.8, 0.03, 100, 1),
		"TSLA": buySignal("TSLA", 0.7, 0.02, 100, 1),
	}

	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Len(t, env.adapter.placedSymbols(), 2, "daily limit caps executions")

	// A later cycle the same day must not execute anything further: the
	// persisted record count is the source of truth.
	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Len(t, env.adapter.placedSymbols(), 2)
}

func TestCycle_RespectsFundsBudget(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL,MSFT")
	// Cash 100000, budget 80000. Best signal consumes 60000, the next would
	// push past the budget.
	env.evaluator.signals = map[string]*pipeline.Signal{
		"AAPL": buySignal("AAPL", 0.9, 0.04, 600, 100), // 60000 notional
		"MSFT": buySignal("MSFT", 0.8, 0.03, 300, 100), // 30000 notional
	}

	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Equal(t, []string{"AAPL"}, env.adapter.placedSymbols(),
		"budget is checked before each execution")
}

func TestCycle_RiskRejectionIsTerminal(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)
	env.orchestrator.assessor = fixedScore(0.9) // above the 0.7 ceiling

	require.NoError(t, env.orchestrator.cycle(context.Background()))

	assert.Empty(t, env.adapter.placedSymbols(), "rejected signals never reach a broker")
	recs := recordsFor(t, env.store, "t1")
	require.Len(t, recs, 1)
	assert.Equal(t, models.ExecutionStatusRejected, recs[0].Status)
	assert.Equal(t, "risk_rejected", recs[0].ReasonCode)

	// Rejected records do not consume the daily budget.
	count, err := env.store.CountTradesToday("t1", env.now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCycle_BrokerFailureRecordedAsFailed(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)
	env.adapter.placeErr = broker.ErrOrder

	require.NoError(t, env.orchestrator.cycle(context.Background()))

	recs := recordsFor(t, env.store, "t1")
	require.Len(t, recs, 1)
	assert.Equal(t, models.ExecutionStatusFailed, recs[0].Status)
	assert.Equal(t, "order_error", recs[0].ReasonCode)
}

func TestCycle_SymbolFailureContained(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL,MSFT")
	env.evaluator.signals = map[string]*pipeline.Signal{
		"MSFT": buySignal("MSFT", 0.8, 0.03, 100, 1),
		// AAPL yields no signal at all.
	}

	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Equal(t, []string{"MSFT"}, env.adapter.placedSymbols())
}

func TestPause_IsTimeBoundAndSelfClears(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)

	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))
	require.NoError(t, env.orchestrator.Pause(context.Background(), "t1", 10*time.Minute, "cooling off"))

	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Empty(t, env.adapter.placedSymbols(), "paused tenants are excluded from execution")

	// Advance past the window: eligibility returns with no Resume call.
	env.now = env.now.Add(11 * time.Minute)
	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Equal(t, []string{"AAPL"}, env.adapter.placedSymbols())
}

func TestResume_ClearsPauseEarly(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)

	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))
	require.NoError(t, env.orchestrator.Pause(context.Background(), "t1", time.Hour, "lunch"))
	require.NoError(t, env.orchestrator.Resume(context.Background(), "t1"))

	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Equal(t, []string{"AAPL"}, env.adapter.placedSymbols())
}

func TestEmergencyStop_ImmediateForFutureCycles(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)
	env.adapter.openOrders = []broker.OrderUpdate{{OrderID: "open-1", Status: broker.OrderStatusNew}}

	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))
	require.NoError(t, env.orchestrator.EmergencyStop(context.Background(), "t1", "fat finger"))

	// Open broker orders are cancelled best-effort.
	assert.Equal(t, []string{"open-1"}, env.adapter.cancelled)

	// The persisted flag is forced off.
	settings, err := env.store.TenantSettings("t1")
	require.NoError(t, err)
	assert.False(t, settings.Enabled)

	// No subsequent cycle executes a new signal for this tenant.
	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Empty(t, env.adapter.placedSymbols())
	assert.Empty(t, recordsFor(t, env.store, "t1"))
}

func TestEmergencyStop_BlocksInFlightCycleUnit(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)
	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))

	// A cycle that started before the stop holds its own settings snapshot.
	snapshot, err := env.store.TenantSettings("t1")
	require.NoError(t, err)

	require.NoError(t, env.orchestrator.EmergencyStop(context.Background(), "t1", "fat finger"))

	// The in-flight unit must resolve the stopped session, not mint a fresh
	// eligible one.
	require.NoError(t, env.orchestrator.processTenant(context.Background(), snapshot))
	assert.Empty(t, env.adapter.placedSymbols())
	assert.Empty(t, recordsFor(t, env.store, "t1"))

	// The tombstone also blocks pause/resume until a fresh Enable.
	assert.ErrorIs(t, env.orchestrator.Pause(context.Background(), "t1", time.Minute, "x"), ErrNoActiveSession)
	assert.False(t, env.orchestrator.StatusFor(context.Background(), "t1").HasActiveSession)
}

func TestDisable_BlocksInFlightCycleUnit(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)
	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))

	snapshot, err := env.store.TenantSettings("t1")
	require.NoError(t, err)

	require.NoError(t, env.orchestrator.Disable(context.Background(), "t1"))

	require.NoError(t, env.orchestrator.processTenant(context.Background(), snapshot))
	assert.Empty(t, env.adapter.placedSymbols())
	assert.Empty(t, recordsFor(t, env.store, "t1"))
}

func TestEnable_ReplacesStoppedSession(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)

	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))
	require.NoError(t, env.orchestrator.EmergencyStop(context.Background(), "t1", "fat finger"))

	// Re-enabling installs a fresh session; trading resumes.
	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))
	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Equal(t, []string{"AAPL"}, env.adapter.placedSymbols())
}

func TestEnable_Preconditions(t *testing.T) {
	env := setupEnv(t, 10)

	// No subscription at all.
	err := env.orchestrator.Enable(context.Background(), "ghost", models.ModeModerate)
	assert.ErrorIs(t, err, ErrNotEntitled)

	// Expired subscription.
	require.NoError(t, env.store.SaveSubscription(&models.Subscription{
		TenantID:  "expired",
		Plan:      "pro",
		Active:    true,
		ExpiresAt: env.now.Add(-time.Hour),
	}))
	err = env.orchestrator.Enable(context.Background(), "expired", models.ModeModerate)
	assert.ErrorIs(t, err, ErrNotEntitled)

	// Broker offline.
	env.addTenant(t, "t1", "AAPL")
	env.adapter.state = broker.StateDisconnected
	err = env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate)
	assert.ErrorIs(t, err, ErrBrokerOffline)

	// Invalid mode.
	env.adapter.state = broker.StateConnected
	err = env.orchestrator.Enable(context.Background(), "t1", "yolo")
	assert.ErrorIs(t, err, ErrInvalidMode)

	// All preconditions met.
	assert.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeConservative))
	settings, err := env.store.TenantSettings("t1")
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.Equal(t, models.ModeConservative, settings.Mode)
}

func TestStatusFor_AlwaysSucceeds(t *testing.T) {
	env := setupEnv(t, 10)

	// Unknown tenant: zero-value status, no panic, no error.
	status := env.orchestrator.StatusFor(context.Background(), "ghost")
	assert.False(t, status.Enabled)
	assert.True(t, status.IsMarketOpen)
	assert.False(t, status.HasActiveSession)

	env.addTenant(t, "t1", "AAPL")
	require.NoError(t, env.orchestrator.Enable(context.Background(), "t1", models.ModeModerate))
	env.evaluator.signals["AAPL"] = buySignal("AAPL", 0.9, 0.03, 100, 1)
	require.NoError(t, env.orchestrator.cycle(context.Background()))

	status = env.orchestrator.StatusFor(context.Background(), "t1")
	assert.True(t, status.Enabled)
	assert.Equal(t, models.ModeModerate, status.Mode)
	assert.True(t, status.HasActiveSession)
	assert.True(t, status.PrimaryBrokerConnected)
	assert.Equal(t, 1, status.TradesToday)
	assert.Equal(t, 9, status.RemainingTrades)
}

func TestBackoffInterval(t *testing.T) {
	env := setupEnv(t, 10)

	base := env.orchestrator.cfg.TickIntervalDuration()
	closed := env.orchestrator.cfg.ClosedTickIntervalDuration()

	assert.Equal(t, 2*base, env.orchestrator.backoffInterval(3))
	assert.Equal(t, 4*base, env.orchestrator.backoffInterval(4))
	// Never beyond the closed-market interval.
	assert.Equal(t, closed, env.orchestrator.backoffInterval(10))
}

func TestRestoreSessions(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.addTenant(t, "t2", "MSFT")

	env.orchestrator.restoreSessions()

	_, ok := env.orchestrator.sessions.get("t1")
	assert.True(t, ok)
	_, ok = env.orchestrator.sessions.get("t2")
	assert.True(t, ok)
}

func TestTeardownClosed_ClearsSessions(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.orchestrator.restoreSessions()

	env.orchestrator.teardownClosed()
	_, ok := env.orchestrator.sessions.get("t1")
	assert.False(t, ok)
}

func TestCycle_EvaluatorErrorContainedToTenant(t *testing.T) {
	env := setupEnv(t, 10)
	env.addTenant(t, "t1", "AAPL")
	env.evaluator.err = errors.New("prediction service down")

	// The cycle itself must not fail.
	require.NoError(t, env.orchestrator.cycle(context.Background()))
	assert.Empty(t, env.adapter.placedSymbols())
}

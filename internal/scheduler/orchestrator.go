// Package scheduler runs the automated trading control loop: while the
// market is open it enumerates eligible tenants, runs the decision pipeline
// and risk gate per tenant and symbol, and dispatches accepted signals to the
// broker manager, under per-tenant daily limits and pause/stop controls.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/models"
	"autotrader/internal/notify"
	"autotrader/internal/pipeline"
	"autotrader/internal/risk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Control-surface errors returned to the API layer.
var (
	ErrNotEntitled     = errors.New("scheduler: tenant subscription does not allow automation")
	ErrBrokerOffline   = errors.New("scheduler: primary broker is not connected")
	ErrInvalidMode     = errors.New("scheduler: mode does not trade")
	ErrNoActiveSession = errors.New("scheduler: no active session for tenant")
)

// Store is the persistence surface the orchestrator needs. Satisfied by
// database.Store; the orchestrator never assumes a storage technology.
type Store interface {
	CreateExecutionRecord(rec *models.ExecutionRecord) error
	UpdateExecutionRecord(rec *models.ExecutionRecord) error
	CountTradesToday(tenantID string, now time.Time) (int, error)
	TenantSettings(tenantID string) (*models.TenantSettings, error)
	SaveTenantSettings(settings *models.TenantSettings) error
	EnabledTenants() ([]models.TenantSettings, error)
	Subscription(tenantID string) (*models.Subscription, error)
}

// SignalEvaluator produces at most one signal per tenant/symbol evaluation.
// Satisfied by pipeline.Pipeline.
type SignalEvaluator interface {
	Evaluate(ctx context.Context, tenantID, symbol, mode string, availableFunds float64) (*pipeline.Signal, error)
}

// MarketClock gates the loop on market hours. Satisfied by market.Calendar.
type MarketClock interface {
	IsOpen(exchange string, now time.Time) bool
}

// Status is the tenant-facing automation snapshot. It always reflects the
// most recent known state, even when a broker is unreachable.
type Status struct {
	Enabled                bool   `json:"enabled"`
	Mode                   string `json:"mode"`
	TradesToday            int    `json:"trades_today"`
	RemainingTrades        int    `json:"remaining_trades"`
	IsMarketOpen           bool   `json:"is_market_open"`
	HasActiveSession       bool   `json:"has_active_session"`
	PrimaryBrokerConnected bool   `json:"primary_broker_connected"`
}

// Orchestrator is the top-level control loop plus the control surface the
// API layer calls into.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       config.Scheduler
	plans     map[string]config.Plan
	riskLimit float64

	store    Store
	brokers  *broker.Manager
	signals  SignalEvaluator
	assessor risk.Assessor
	notifier notify.Notifier
	calendar MarketClock

	sessions *sessionRegistry

	// now is the clock; swapped out in tests.
	now func() time.Time
}

// NewOrchestrator wires the orchestrator from its collaborators.
func NewOrchestrator(
	logger *zap.Logger,
	cfg config.Scheduler,
	plans map[string]config.Plan,
	riskLimit float64,
	store Store,
	brokers *broker.Manager,
	signals SignalEvaluator,
	assessor risk.Assessor,
	notifier notify.Notifier,
	calendar MarketClock,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger.Named("scheduler"),
		cfg:       cfg,
		plans:     plans,
		riskLimit: riskLimit,
		store:     store,
		brokers:   brokers,
		signals:   signals,
		assessor:  assessor,
		notifier:  notifier,
		calendar:  calendar,
		sessions:  newSessionRegistry(),
		now:       time.Now,
	}
}

// Run drives the scheduling loop until the context is cancelled. While the
// market is open it ticks at the configured interval; while closed it tears
// down session bookkeeping and ticks slowly. Three consecutive cycle-level
// failures stretch the tick instead of busy-looping.
func (o *Orchestrator) Run(ctx context.Context) {
	o.restoreSessions()

	interval := o.cfg.TickIntervalDuration()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	consecutiveFailures := 0

	o.logger.Info("Starting scheduling loop",
		zap.Duration("tick", o.cfg.TickIntervalDuration()),
		zap.Duration("closed_tick", o.cfg.ClosedTickIntervalDuration()),
		zap.String("exchange", o.cfg.Exchange))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Stopping scheduling loop")
			return
		case <-timer.C:
		}

		if o.calendar.IsOpen(o.cfg.Exchange, o.now()) {
			if err := o.cycle(ctx); err != nil {
				consecutiveFailures++
				o.logger.Error("Cycle failed", zap.Error(err), zap.Int("consecutive", consecutiveFailures))
			} else {
				consecutiveFailures = 0
			}

			interval = o.cfg.TickIntervalDuration()
			if consecutiveFailures >= o.cfg.BackoffThreshold {
				interval = o.backoffInterval(consecutiveFailures)
				o.logger.Warn("Backing off after repeated cycle failures",
					zap.Duration("interval", interval))
			}
		} else {
			o.teardownClosed()
			interval = o.cfg.ClosedTickIntervalDuration()
		}

		timer.Reset(interval)
	}
}

// backoffInterval stretches the tick after repeated failures, capped at the
// closed-market interval.
func (o *Orchestrator) backoffInterval(failures int) time.Duration {
	interval := o.cfg.TickIntervalDuration()
	for i := o.cfg.BackoffThreshold; i <= failures; i++ {
		interval *= 2
		if interval >= o.cfg.ClosedTickIntervalDuration() {
			return o.cfg.ClosedTickIntervalDuration()
		}
	}
	return interval
}

// restoreSessions rebuilds the in-memory session set from the persisted
// enabled flags, which are the source of truth across restarts.
func (o *Orchestrator) restoreSessions() {
	tenants, err := o.store.EnabledTenants()
	if err != nil {
		o.logger.Error("Failed to restore sessions", zap.Error(err))
		return
	}
	now := o.now()
	for _, t := range tenants {
		o.sessions.getOrCreate(t.TenantID, t.Mode, now)
	}
	o.logger.Info("Restored tenant sessions", zap.Int("count", len(tenants)))
}

// teardownClosed drops per-tenant session bookkeeping while the market is
// closed. Sessions are rebuilt from persisted state on the next open tick.
func (o *Orchestrator) teardownClosed() {
	o.sessions.clear()
	o.logger.Debug("Market closed, session bookkeeping cleared")
}

// cycle runs one scheduling pass over all enabled tenants with bounded
// parallelism. Per-tenant failures are contained; only a failure to even
// enumerate tenants counts as a cycle-level failure.
func (o *Orchestrator) cycle(ctx context.Context) error {
	tenants, err := o.store.EnabledTenants()
	if err != nil {
		return fmt.Errorf("could not list enabled tenants: %w", err)
	}

	concurrency := o.cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, t := range tenants {
		wg.Add(1)
		sem <- struct{}{}
		go func(settings models.TenantSettings) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.processTenant(ctx, &settings); err != nil {
				o.logger.Warn("Tenant cycle aborted",
					zap.String("tenant", settings.TenantID), zap.Error(err))
			}
		}(t)
	}

	wg.Wait()
	return nil
}

// processTenant runs the decision-and-execution unit for one tenant. Any
// error aborts this tenant's cycle only.
func (o *Orchestrator) processTenant(ctx context.Context, settings *models.TenantSettings) error {
	now := o.now()
	sess := o.sessions.getOrCreate(settings.TenantID, settings.Mode, now)
	sess.SetMode(settings.Mode)

	if sess.IsStopped() {
		return nil
	}
	if sess.IsPaused(now) {
		o.logger.Debug("Tenant paused, skipping", zap.String("tenant", settings.TenantID))
		return nil
	}

	sub, err := o.store.Subscription(settings.TenantID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.Entitled(now) {
		o.logger.Debug("Tenant not entitled, skipping", zap.String("tenant", settings.TenantID))
		return nil
	}

	plan, ok := o.plans[sub.Plan]
	if !ok {
		o.logger.Warn("Unknown plan, skipping tenant",
			zap.String("tenant", settings.TenantID), zap.String("plan", sub.Plan))
		return nil
	}

	adapter, err := o.primaryBroker(settings)
	if err != nil {
		return err
	}
	if adapter.State() != broker.StateConnected {
		o.logger.Debug("Primary broker not connected, skipping tenant",
			zap.String("tenant", settings.TenantID), zap.String("broker", adapter.Name()))
		return nil
	}

	account, err := adapter.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account info unavailable: %w", err)
	}
	if account.Cash < o.cfg.MinAvailableFunds {
		o.logger.Debug("Available funds below minimum, skipping tenant",
			zap.String("tenant", settings.TenantID), zap.Float64("cash", account.Cash))
		return nil
	}

	tradesToday, err := o.store.CountTradesToday(settings.TenantID, now)
	if err != nil {
		return err
	}
	remaining := plan.DailyTradeLimit - tradesToday
	if remaining <= 0 {
		o.logger.Debug("Daily trade limit reached, skipping tenant",
			zap.String("tenant", settings.TenantID))
		return nil
	}

	signals := o.collectSignals(ctx, settings, account.Cash)
	if len(signals) == 0 {
		return nil
	}

	// Ranked order: conviction times move magnitude, best first.
	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Score() > signals[j].Score()
	})

	o.executeSignals(ctx, sess, settings, signals, account.Cash, remaining)
	return nil
}

// primaryBroker resolves a tenant's primary broker, falling back to the
// registry default when none is configured.
func (o *Orchestrator) primaryBroker(settings *models.TenantSettings) (broker.Adapter, error) {
	if settings.PrimaryBroker != "" {
		return o.brokers.Get(settings.PrimaryBroker)
	}
	return o.brokers.Default()
}

// collectSignals evaluates every watch-listed symbol for the tenant. A
// failure on one symbol aborts that symbol only.
func (o *Orchestrator) collectSignals(ctx context.Context, settings *models.TenantSettings, funds float64) []*pipeline.Signal {
	var signals []*pipeline.Signal
	for _, symbol := range settings.WatchedSymbols() {
		signal, err := o.signals.Evaluate(ctx, settings.TenantID, symbol, settings.Mode, funds)
		if err != nil {
			o.logger.Warn("Signal evaluation failed",
				zap.String("tenant", settings.TenantID),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		if signal != nil {
			signals = append(signals, signal)
		}
	}
	return signals
}

// executeSignals walks the ranked signals and executes while the tenant's
// remaining-trade and funds budgets allow. Budgets are checked before each
// execution, never pre-reserved, so two signals cannot double-spend the same
// funds. Exactly one execution record is written per signal that reaches the
// risk gate.
func (o *Orchestrator) executeSignals(ctx context.Context, sess *Session, settings *models.TenantSettings, signals []*pipeline.Signal, funds float64, remaining int) {
	budget := funds * o.cfg.FundsBudgetFraction
	spent := 0.0

	for _, signal := range signals {
		// Emergency stop and pause take effect before the next execution,
		// even mid-cycle.
		if sess.IsStopped() || sess.IsPaused(o.now()) {
			return
		}
		if remaining <= 0 {
			return
		}
		cost := signal.Quantity * signal.CurrentPrice
		if spent+cost > budget {
			o.logger.Debug("Funds budget exhausted for this cycle",
				zap.String("tenant", settings.TenantID),
				zap.String("symbol", signal.Symbol))
			return
		}

		executed := o.executeSignal(ctx, settings, signal, funds)
		if executed {
			spent += cost
			remaining--
		}
	}
}

// executeSignal risk-gates and dispatches one signal and writes its
// execution record. It returns true when the signal consumed budget (reached
// a broker), false when it was rejected or failed before dispatch.
func (o *Orchestrator) executeSignal(ctx context.Context, settings *models.TenantSettings, signal *pipeline.Signal, funds float64) bool {
	l := o.logger.With(
		zap.String("tenant", settings.TenantID),
		zap.String("symbol", signal.Symbol),
		zap.String("side", signal.Side),
		zap.Float64("quantity", signal.Quantity),
	)

	rec := &models.ExecutionRecord{
		Reference:      uuid.NewString(),
		TenantID:       settings.TenantID,
		Symbol:         signal.Symbol,
		Side:           signal.Side,
		Quantity:       signal.Quantity,
		Price:          signal.CurrentPrice,
		Confidence:     signal.Confidence,
		ExpectedReturn: signal.ExpectedReturn,
		Status:         models.ExecutionStatusPending,
	}

	// The risk gate runs exactly once per signal, before broker dispatch.
	score, err := o.assessor.Assess(ctx, risk.ProposedOrder{
		TenantID:       settings.TenantID,
		Symbol:         signal.Symbol,
		Side:           signal.Side,
		Quantity:       signal.Quantity,
		Price:          signal.CurrentPrice,
		Confidence:     signal.Confidence,
		AvailableFunds: funds,
	})
	if err != nil {
		rec.Status = models.ExecutionStatusFailed
		rec.ReasonCode = "risk_unavailable"
		if err := o.store.CreateExecutionRecord(rec); err != nil {
			l.Error("Failed to persist execution record", zap.Error(err))
		}
		l.Warn("Risk assessment unavailable, signal dropped", zap.Error(err))
		return false
	}
	if score > o.riskLimit {
		rec.Status = models.ExecutionStatusRejected
		rec.ReasonCode = "risk_rejected"
		if err := o.store.CreateExecutionRecord(rec); err != nil {
			l.Error("Failed to persist execution record", zap.Error(err))
		}
		l.Info("Signal rejected by risk gate", zap.Float64("score", score))
		return false
	}

	// Persist the pending record before dispatch so a crash mid-loop cannot
	// double-spend the daily budget on restart.
	if err := o.store.CreateExecutionRecord(rec); err != nil {
		l.Error("Failed to persist execution record, signal not dispatched", zap.Error(err))
		return false
	}

	order := &broker.Order{
		ClientOrderID: rec.Reference,
		Symbol:        signal.Symbol,
		Side:          signal.Side,
		Type:          broker.OrderTypeMarket,
		AssetType:     broker.AssetTypeEquity,
		Quantity:      signal.Quantity,
	}

	update, brokerName, err := o.brokers.RouteOrder(ctx, order, settings.PrimaryBroker)
	rec.BrokerName = brokerName
	if err != nil {
		rec.Status = models.ExecutionStatusFailed
		rec.ReasonCode = reasonFromError(err)
		if uerr := o.store.UpdateExecutionRecord(rec); uerr != nil {
			l.Error("Failed to update execution record", zap.Error(uerr))
		}
		l.Warn("Order placement failed", zap.Error(err))
		return true // the attempt reached a broker and consumed budget
	}

	rec.Status = models.ExecutionStatusExecuted
	rec.BrokerOrderID = update.OrderID
	if err := o.store.UpdateExecutionRecord(rec); err != nil {
		l.Error("Failed to update execution record", zap.Error(err))
	}

	o.notifier.SendAutoTradeNotification(ctx, settings.TenantID, signal.Symbol, signal.Side, signal.Quantity, signal.CurrentPrice)
	l.Info("Signal executed",
		zap.String("broker", brokerName),
		zap.String("broker_order_id", update.OrderID),
		zap.String("reason", signal.Reason))
	return true
}

// reasonFromError maps the broker error taxonomy onto record reason codes.
func reasonFromError(err error) string {
	switch {
	case errors.Is(err, broker.ErrAuthentication):
		return "broker_auth"
	case errors.Is(err, broker.ErrConnection):
		return "broker_connection"
	case errors.Is(err, broker.ErrRateLimited):
		return "broker_rate_limit"
	case errors.Is(err, broker.ErrMarketData):
		return "market_data"
	default:
		return "order_error"
	}
}

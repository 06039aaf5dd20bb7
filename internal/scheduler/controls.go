package scheduler

import (
	"context"
	"fmt"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/models"
	"go.uber.org/zap"
)

// Enable turns automation on for a tenant in the given mode. It fails when
// the tenant lacks an active entitlement or a connected primary broker.
func (o *Orchestrator) Enable(ctx context.Context, tenantID, mode string) error {
	if mode != models.ModeConservative && mode != models.ModeModerate && mode != models.ModeAggressive {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	now := o.now()
	sub, err := o.store.Subscription(tenantID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.Entitled(now) {
		return ErrNotEntitled
	}

	settings, err := o.store.TenantSettings(tenantID)
	if err != nil {
		return err
	}
	if settings == nil {
		settings = &models.TenantSettings{TenantID: tenantID, Plan: sub.Plan}
	}

	adapter, err := o.primaryBroker(settings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerOffline, err)
	}
	if adapter.State() != broker.StateConnected {
		return ErrBrokerOffline
	}

	settings.Enabled = true
	settings.Mode = mode
	settings.Plan = sub.Plan
	if err := o.store.SaveTenantSettings(settings); err != nil {
		return err
	}

	// A fresh session replaces any stopped tombstone from an earlier disable
	// or emergency stop.
	o.sessions.replace(tenantID, mode, now)
	o.logger.Info("Automation enabled",
		zap.String("tenant", tenantID), zap.String("mode", mode))
	return nil
}

// Disable turns automation off. The persisted flag is the source of truth on
// restart; the stopped session stays in the registry so an in-flight cycle
// cannot recreate an eligible one, and is dropped at market-close teardown.
func (o *Orchestrator) Disable(ctx context.Context, tenantID string) error {
	// Stop the session first. A cycle already holding this tenant's settings
	// snapshot resolves the same session and skips it.
	o.sessions.getOrCreate(tenantID, models.ModeDisabled, o.now()).Stop()

	settings, err := o.store.TenantSettings(tenantID)
	if err != nil {
		return err
	}
	if settings == nil {
		return ErrNoActiveSession
	}

	settings.Enabled = false
	settings.Mode = models.ModeDisabled
	if err := o.store.SaveTenantSettings(settings); err != nil {
		return err
	}

	o.logger.Info("Automation disabled", zap.String("tenant", tenantID))
	return nil
}

// Pause excludes the tenant from order placement for the given duration. The
// window self-clears; no Resume call is needed once it elapses.
func (o *Orchestrator) Pause(ctx context.Context, tenantID string, d time.Duration, reason string) error {
	sess, ok := o.sessions.get(tenantID)
	if !ok || sess.IsStopped() {
		return ErrNoActiveSession
	}
	sess.Pause(d, reason, o.now())
	o.logger.Info("Automation paused",
		zap.String("tenant", tenantID),
		zap.Duration("duration", d),
		zap.String("reason", reason))
	return nil
}

// Resume clears a pause window early.
func (o *Orchestrator) Resume(ctx context.Context, tenantID string) error {
	sess, ok := o.sessions.get(tenantID)
	if !ok || sess.IsStopped() {
		return ErrNoActiveSession
	}
	sess.Resume()
	o.logger.Info("Automation resumed", zap.String("tenant", tenantID))
	return nil
}

// EmergencyStop immediately stops a tenant's automation: no new signal is
// generated or executed from this point on, the persisted enabled flag is
// forced off, and open broker orders are cancelled best-effort. Already
// dispatched in-flight placements are not recalled. The stopped session stays
// in the registry as a tombstone so a cycle that enumerated this tenant
// before the stop cannot recreate an eligible session; market-close teardown
// drops it, and Enable installs a fresh one.
func (o *Orchestrator) EmergencyStop(ctx context.Context, tenantID, reason string) error {
	// Mark the session stopped first so a concurrently running cycle stops
	// executing before anything else happens.
	o.sessions.getOrCreate(tenantID, models.ModeDisabled, o.now()).Stop()

	settings, err := o.store.TenantSettings(tenantID)
	if err != nil {
		return err
	}
	if settings == nil {
		return ErrNoActiveSession
	}
	settings.Enabled = false
	settings.Mode = models.ModeDisabled
	if err := o.store.SaveTenantSettings(settings); err != nil {
		return err
	}

	o.cancelOpenOrders(ctx, settings)

	o.notifier.SendEmergencyNotification(ctx, tenantID, reason)
	o.logger.Warn("Emergency stop",
		zap.String("tenant", tenantID), zap.String("reason", reason))
	return nil
}

// cancelOpenOrders attempts to cancel the tenant's open orders at its primary
// broker. Failures are logged only; cancellation is best-effort.
func (o *Orchestrator) cancelOpenOrders(ctx context.Context, settings *models.TenantSettings) {
	adapter, err := o.primaryBroker(settings)
	if err != nil {
		o.logger.Warn("No broker to cancel orders at",
			zap.String("tenant", settings.TenantID), zap.Error(err))
		return
	}

	orders, err := adapter.GetOrders(ctx, broker.OrderFilter{Status: broker.OrderStatusNew})
	if err != nil {
		o.logger.Warn("Could not list open orders for cancellation",
			zap.String("tenant", settings.TenantID), zap.Error(err))
		return
	}

	for _, order := range orders {
		if err := adapter.CancelOrder(ctx, order.OrderID); err != nil {
			o.logger.Warn("Best-effort cancel failed",
				zap.String("tenant", settings.TenantID),
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}
	}
}

// StatusFor reports the tenant's automation snapshot. It never fails: fields
// that cannot be refreshed fall back to the most recent known state.
func (o *Orchestrator) StatusFor(ctx context.Context, tenantID string) Status {
	now := o.now()
	status := Status{
		IsMarketOpen: o.calendar.IsOpen(o.cfg.Exchange, now),
	}

	settings, err := o.store.TenantSettings(tenantID)
	if err != nil || settings == nil {
		status.HasActiveSession = o.hasActiveSession(tenantID)
		return status
	}
	status.Enabled = settings.Enabled
	status.Mode = settings.Mode
	status.HasActiveSession = o.hasActiveSession(tenantID)

	if adapter, err := o.primaryBroker(settings); err == nil {
		status.PrimaryBrokerConnected = adapter.State() == broker.StateConnected
	}

	if trades, err := o.store.CountTradesToday(tenantID, now); err == nil {
		status.TradesToday = trades
		if plan, ok := o.plans[settings.Plan]; ok {
			status.RemainingTrades = plan.DailyTradeLimit - trades
			if status.RemainingTrades < 0 {
				status.RemainingTrades = 0
			}
		}
	}

	return status
}

// hasActiveSession reports whether the tenant has a session that is not a
// stopped tombstone.
func (o *Orchestrator) hasActiveSession(tenantID string) bool {
	sess, ok := o.sessions.get(tenantID)
	return ok && !sess.IsStopped()
}

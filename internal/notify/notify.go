// Package notify delivers fire-and-forget notifications. Delivery failures
// are logged and never propagate into the trading path.
package notify

import (
	"context"
	"net/http"
	"time"

	"autotrader/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier is the notification surface the orchestrator depends on.
type Notifier interface {
	SendAutoTradeNotification(ctx context.Context, tenantID, symbol, side string, quantity, price float64)
	SendEmergencyNotification(ctx context.Context, tenantID, reason string)
}

// WebhookNotifier posts notification events to a configured webhook.
type WebhookNotifier struct {
	client *resty.Client
	logger *zap.Logger
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(cfg config.Notify, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(cfg.WebhookURL).
		SetTimeout(5 * time.Second)

	return &WebhookNotifier{
		client: client,
		logger: logger.Named("notify"),
	}
}

func (n *WebhookNotifier) post(ctx context.Context, event string, payload map[string]any) {
	payload["event"] = event
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Execute(http.MethodPost, "")
	if err != nil {
		n.logger.Warn("Notification delivery failed", zap.String("event", event), zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Warn("Notification rejected by webhook",
			zap.String("event", event), zap.String("status", resp.Status()))
	}
}

// SendAutoTradeNotification reports one executed automated trade.
func (n *WebhookNotifier) SendAutoTradeNotification(ctx context.Context, tenantID, symbol, side string, quantity, price float64) {
	n.post(ctx, "auto_trade", map[string]any{
		"tenant_id": tenantID,
		"symbol":    symbol,
		"side":      side,
		"quantity":  quantity,
		"price":     price,
	})
}

// SendEmergencyNotification reports an emergency stop.
func (n *WebhookNotifier) SendEmergencyNotification(ctx context.Context, tenantID, reason string) {
	n.post(ctx, "emergency_stop", map[string]any{
		"tenant_id": tenantID,
		"reason":    reason,
	})
}

// NopNotifier discards all notifications. Used in tests and when no webhook
// is configured.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) SendAutoTradeNotification(context.Context, string, string, string, float64, float64) {
}

func (NopNotifier) SendEmergencyNotification(context.Context, string, string) {}

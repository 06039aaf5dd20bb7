// Package broker defines the normalized contract every brokerage vendor
// adapter satisfies, plus the Manager that owns the configured adapters and
// builds aggregate operations (consolidated positions, best quote, smart
// order routing) on top of them.
package broker

import (
	"context"
)

// Adapter is the capability set one vendor integration implements. Each call
// is independently failable; callers decide about retries. Adapters keep to
// their vendor's call budget internally (they delay rather than fail when the
// budget is exceeded), so callers never need to know vendor rate limits.
type Adapter interface {
	// Name returns the registry name of this connection.
	Name() string

	// Connect establishes an authenticated session. It is idempotent: calling
	// it on an already-connected adapter is a no-op. Authentication failures
	// surface as ErrAuthentication, transient network failures as ErrConnection.
	Connect(ctx context.Context) error

	// Disconnect tears down the session.
	Disconnect(ctx context.Context) error

	// State reports the current connection state.
	State() ConnectionState

	// IsMarketOpen is the vendor's best-effort market-open flag. The shared
	// market calendar may override it.
	IsMarketOpen(ctx context.Context) (bool, error)

	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	GetQuote(ctx context.Context, symbol string) (*Quote, error)

	// GetQuotes returns quotes for the symbols it could resolve. A failure on
	// one symbol is logged and omitted, never fatal for the batch.
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)

	// PlaceOrder validates the order against the adapter's supported asset
	// and order types before any network call, then submits it. The returned
	// update carries the vendor order id and an initial, non-filled status.
	PlaceOrder(ctx context.Context, order *Order) (*OrderUpdate, error)

	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*OrderUpdate, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]OrderUpdate, error)
}

// Capabilities declares what an adapter can trade, consulted by PlaceOrder
// validation before any network I/O.
type Capabilities struct {
	AssetTypes []string
	OrderTypes []string
}

// Supports reports whether an order's asset and order types are declared.
func (c Capabilities) Supports(order *Order) bool {
	return contains(c.AssetTypes, order.AssetType) && contains(c.OrderTypes, order.Type)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ValidateOrder performs the adapter-independent order checks shared by all
// implementations: side, quantity, and declared capability support.
func ValidateOrder(order *Order, caps Capabilities) error {
	if order == nil {
		return wrapf(ErrOrder, "nil order")
	}
	if order.Side != OrderSideBuy && order.Side != OrderSideSell {
		return wrapf(ErrOrder, "invalid side %q", order.Side)
	}
	if order.Quantity <= 0 {
		return wrapf(ErrOrder, "invalid quantity %f", order.Quantity)
	}
	if order.Type == OrderTypeLimit && order.LimitPrice <= 0 {
		return wrapf(ErrOrder, "limit order without limit price")
	}
	if !caps.Supports(order) {
		return wrapf(ErrOrder, "unsupported asset/order type %s/%s", order.AssetType, order.Type)
	}
	return nil
}

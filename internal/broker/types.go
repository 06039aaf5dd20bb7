package broker

import "time"

// Order sides and types shared by every adapter.
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	AssetTypeEquity = "EQUITY"
	AssetTypeCrypto = "CRYPTO"
)

// Order statuses an adapter may report.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// ConnectionState of one adapter inside the registry.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// Quote is a normalized live quote from one broker.
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

// Position is a normalized holding at one broker.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"` // signed; negative means short
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AccountInfo is a normalized account snapshot.
type AccountInfo struct {
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	Equity      float64 `json:"equity"`
	Currency    string  `json:"currency"`
}

// Order is a normalized order request handed to an adapter.
type Order struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	AssetType     string  `json:"asset_type"`
	Quantity      float64 `json:"quantity"`
	LimitPrice    float64 `json:"limit_price,omitempty"` // LIMIT orders only
}

// OrderUpdate is the normalized state of a placed order.
type OrderUpdate struct {
	OrderID      string    `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Status       string    `json:"status"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// OrderFilter narrows a GetOrders listing. Zero values match everything.
type OrderFilter struct {
	Symbol string
	Status string
	Since  time.Time
}

// Matches reports whether an order update passes the filter.
func (f OrderFilter) Matches(u OrderUpdate) bool {
	if f.Symbol != "" && u.Symbol != f.Symbol {
		return false
	}
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && u.SubmittedAt.Before(f.Since) {
		return false
	}
	return true
}

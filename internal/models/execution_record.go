package models

import "gorm.io/gorm"

// Execution record statuses.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusExecuted  = "executed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
	ExecutionStatusRejected  = "rejected"
)

// ExecutionRecord is the durable audit entry for one attempted automated
// trade. Exactly one record is written per signal that reaches the risk gate,
// whatever the outcome.
type ExecutionRecord struct {
	gorm.Model
	Reference      string  `gorm:"uniqueIndex;not null" json:"reference"` // client-side uuid
	TenantID       string  `gorm:"index;not null" json:"tenant_id"`
	Symbol         string  `gorm:"index;not null" json:"symbol"`
	Side           string  `json:"side"` // "BUY" or "SELL"
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price"`
	Confidence     float64 `json:"confidence"`
	ExpectedReturn float64 `json:"expected_return"`
	Status         string  `gorm:"index" json:"status"`
	ReasonCode     string  `json:"reason_code"`
	BrokerName     string  `json:"broker_name"`
	BrokerOrderID  string  `json:"broker_order_id,omitempty"`
	RealizedPnL    float64 `json:"realized_pnl,omitempty"` // filled in later by settlement
}

// DailyLimitStatuses lists the statuses that consume one unit of the tenant's
// daily trade budget. Rejected signals never reached a broker and do not
// count; failed and cancelled ones released their unit.
func DailyLimitStatuses() []string {
	return []string{ExecutionStatusPending, ExecutionStatusExecuted}
}

// CountsTowardDailyLimit reports whether this record consumes one unit of the
// tenant's daily trade budget.
func (r *ExecutionRecord) CountsTowardDailyLimit() bool {
	for _, s := range DailyLimitStatuses() {
		if r.Status == s {
			return true
		}
	}
	return false
}

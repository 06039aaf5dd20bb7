package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription is the entitlement record consulted before a tenant may enable
// automation or be scheduled.
type Subscription struct {
	gorm.Model
	TenantID  string    `gorm:"uniqueIndex;not null" json:"tenant_id"`
	Plan      string    `gorm:"not null" json:"plan"`
	Active    bool      `gorm:"default:true" json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Entitled reports whether the subscription grants automated trading at time now.
func (s *Subscription) Entitled(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

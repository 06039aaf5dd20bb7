package models

import (
	"strings"

	"gorm.io/gorm"
)

// Trading modes a tenant can select.
const (
	ModeDisabled     = "disabled"
	ModeConservative = "conservative"
	ModeModerate     = "moderate"
	ModeAggressive   = "aggressive"
)

// TenantSettings is the persisted automation state of one tenant. The Enabled
// flag here is the source of truth across restarts; the in-memory session set
// is rebuilt from it.
type TenantSettings struct {
	gorm.Model
	TenantID      string `gorm:"uniqueIndex;not null" json:"tenant_id"`
	Enabled       bool   `gorm:"default:false" json:"enabled"`
	Mode          string `gorm:"default:disabled" json:"mode"`
	PrimaryBroker string `json:"primary_broker"`
	Watchlist     string `json:"watchlist"` // comma-separated symbols
	Plan          string `json:"plan"`
}

// WatchedSymbols splits the stored watchlist into symbols, skipping blanks.
func (t *TenantSettings) WatchedSymbols() []string {
	var out []string
	for _, s := range strings.Split(t.Watchlist, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

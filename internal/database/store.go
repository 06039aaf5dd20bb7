package database

import (
	"errors"
	"fmt"
	"time"

	"autotrader/internal/models"
	"gorm.io/gorm"
)

// Store wraps the database handle with the queries the orchestrator needs.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateExecutionRecord inserts a new execution record.
func (s *Store) CreateExecutionRecord(rec *models.ExecutionRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	return nil
}

// UpdateExecutionRecord persists changes to an existing execution record.
func (s *Store) UpdateExecutionRecord(rec *models.ExecutionRecord) error {
	if err := s.db.Save(rec).Error; err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	return nil
}

// CountTradesToday returns how many of a tenant's execution records since the
// local midnight of now consume the daily trade budget. This persisted count
// is the source of truth for the daily limit, not any in-memory counter.
func (s *Store) CountTradesToday(tenantID string, now time.Time) (int, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int64
	err := s.db.Model(&models.ExecutionRecord{}).
		Where("tenant_id = ? AND created_at >= ? AND status IN ?",
			tenantID, midnight, models.DailyLimitStatuses()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count today's trades: %w", err)
	}
	return int(count), nil
}

// RecentExecutionRecords returns the most recent records, newest first.
func (s *Store) RecentExecutionRecords(limit int) ([]models.ExecutionRecord, error) {
	var recs []models.ExecutionRecord
	err := s.db.Order("created_at desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	return recs, nil
}

// TenantSettings fetches one tenant's persisted automation settings, or nil
// if the tenant has never configured automation.
func (s *Store) TenantSettings(tenantID string) (*models.TenantSettings, error) {
	var settings models.TenantSettings
	err := s.db.Where("tenant_id = ?", tenantID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for tenant %s: %w", tenantID, err)
	}
	return &settings, nil
}

// SaveTenantSettings upserts a tenant's automation settings.
func (s *Store) SaveTenantSettings(settings *models.TenantSettings) error {
	var existing models.TenantSettings
	err := s.db.Where("tenant_id = ?", settings.TenantID).First(&existing).Error
	switch {
	case err == nil:
		settings.ID = existing.ID
		settings.CreatedAt = existing.CreatedAt
		if err := s.db.Save(settings).Error; err != nil {
			return fmt.Errorf("failed to update settings for tenant %s: %w", settings.TenantID, err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(settings).Error; err != nil {
			return fmt.Errorf("failed to create settings for tenant %s: %w", settings.TenantID, err)
		}
	default:
		return fmt.Errorf("failed to look up settings for tenant %s: %w", settings.TenantID, err)
	}
	return nil
}

// EnabledTenants returns the settings of every tenant with automation enabled.
func (s *Store) EnabledTenants() ([]models.TenantSettings, error) {
	var tenants []models.TenantSettings
	if err := s.db.Where("enabled = ?", true).Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled tenants: %w", err)
	}
	return tenants, nil
}

// SaveSubscription upserts a tenant's entitlement record.
func (s *Store) SaveSubscription(sub *models.Subscription) error {
	var existing models.Subscription
	err := s.db.Where("tenant_id = ?", sub.TenantID).First(&existing).Error
	switch {
	case err == nil:
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		if err := s.db.Save(sub).Error; err != nil {
			return fmt.Errorf("failed to update subscription for tenant %s: %w", sub.TenantID, err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription for tenant %s: %w", sub.TenantID, err)
		}
	default:
		return fmt.Errorf("failed to look up subscription for tenant %s: %w", sub.TenantID, err)
	}
	return nil
}

// Subscription fetches a tenant's entitlement record, or nil if none exists.
func (s *Store) Subscription(tenantID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.Where("tenant_id = ?", tenantID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription for tenant %s: %w", tenantID, err)
	}
	return &sub, nil
}

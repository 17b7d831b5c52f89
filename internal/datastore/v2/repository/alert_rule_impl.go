package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"gorm.io/gorm"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

func (r *alertRuleRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Conditions", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC, id ASC")
	})
}

// ListRules returns alert rules matching the given filter.
func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	query := r.preloaded(ctx)

	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.FarmID != "" {
		query = query.Where("farm_id = ?", filter.FarmID)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.BuiltIn != nil {
		query = query.Where("built_in = ?", *filter.BuiltIn)
	}

	if err := query.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single alert rule by ID with its conditions.
// Returns ErrAlertRuleNotFound if the rule does not exist.
func (r *alertRuleRepository) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	if err := r.preloaded(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

// CreateRule creates a new alert rule with its conditions.
func (r *alertRuleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// UpdateRule replaces an alert rule, deleting existing conditions first.
func (r *alertRuleRepository) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == 0 {
		return fmt.Errorf("failed to update alert rule: missing rule ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&entities.AlertCondition{}).Error; err != nil {
			return fmt.Errorf("failed to delete old conditions: %w", err)
		}
		// fresh IDs so the replaced conditions are inserted, not updated
		for i := range rule.Conditions {
			rule.Conditions[i].ID = 0
			rule.Conditions[i].RuleID = rule.ID
		}
		if err := tx.Save(rule).Error; err != nil {
			return fmt.Errorf("failed to update alert rule: %w", err)
		}
		return nil
	})
}

// DeleteRule deletes an alert rule and its conditions.
func (r *alertRuleRepository) DeleteRule(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&entities.AlertCondition{}).Error; err != nil {
			return fmt.Errorf("failed to delete conditions of alert rule %d: %w", id, err)
		}
		result := tx.Delete(&entities.AlertRule{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete alert rule %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlertRuleNotFound
		}
		return nil
	})
}

// ToggleRule activates or deactivates an alert rule.
func (r *alertRuleRepository) ToggleRule(ctx context.Context, id uint, active bool) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// GetActiveRules returns the active rules of one tenant.
func (r *alertRuleRepository) GetActiveRules(ctx context.Context, tenantID string) ([]entities.AlertRule, error) {
	active := true
	return r.ListRules(ctx, AlertRuleFilter{TenantID: tenantID, Active: &active})
}

// DeleteBuiltInRules deletes the built-in rules of a tenant.
func (r *alertRuleRepository) DeleteBuiltInRules(ctx context.Context, tenantID string) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&entities.AlertRule{}).Select("id").Where("tenant_id = ? AND built_in = ?", tenantID, true)
		if err := tx.Where("rule_id IN (?)", ids).Delete(&entities.AlertCondition{}).Error; err != nil {
			return fmt.Errorf("failed to delete built-in conditions: %w", err)
		}
		result := tx.Where("tenant_id = ? AND built_in = ?", tenantID, true).Delete(&entities.AlertRule{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete built-in alert rules: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// SaveHistory saves an alert history entry.
func (r *alertRuleRepository) SaveHistory(ctx context.Context, history *entities.AlertHistory) error {
	if err := r.db.WithContext(ctx).Omit("Rule").Create(history).Error; err != nil {
		return fmt.Errorf("failed to save alert history: %w", err)
	}
	return nil
}

// ListHistory returns alert history entries matching the filter with pagination.
func (r *alertRuleRepository) ListHistory(ctx context.Context, filter AlertHistoryFilter) ([]entities.AlertHistory, int64, error) {
	var items []entities.AlertHistory
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		if filter.TenantID != "" {
			db = db.Where("tenant_id = ?", filter.TenantID)
		}
		if filter.RuleID > 0 {
			db = db.Where("rule_id = ?", filter.RuleID)
		}
		return db
	}

	if err := r.db.WithContext(ctx).Model(&entities.AlertHistory{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert history: %w", err)
	}

	query := r.db.WithContext(ctx).Scopes(scope).Order("fired_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert history: %w", err)
	}
	return items, total, nil
}

// DeleteHistoryBefore deletes alert history entries older than the given time.
func (r *alertRuleRepository) DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("fired_at < ?", before).Delete(&entities.AlertHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete alert history before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}

// CountRulesByName returns the number of tenant rules with the given name.
func (r *alertRuleRepository) CountRulesByName(ctx context.Context, tenantID, name string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.AlertRule{}).
		Where("tenant_id = ? AND name = ?", tenantID, name).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules by name: %w", err)
	}
	return count, nil
}

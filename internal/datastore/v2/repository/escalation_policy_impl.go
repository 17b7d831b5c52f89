package repository

import (
	"context"
	"fmt"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"gorm.io/gorm"
)

type escalationPolicyRepository struct {
	db *gorm.DB
}

// NewEscalationPolicyRepository creates a new EscalationPolicyRepository.
func NewEscalationPolicyRepository(db *gorm.DB) EscalationPolicyRepository {
	return &escalationPolicyRepository{db: db}
}

func (r *escalationPolicyRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Levels", func(db *gorm.DB) *gorm.DB {
		return db.Order("level ASC")
	})
}

// ListPolicies returns a tenant's policies ordered by ID.
func (r *escalationPolicyRepository) ListPolicies(ctx context.Context, tenantID string, activeOnly bool) ([]entities.EscalationPolicy, error) {
	var policies []entities.EscalationPolicy
	query := r.preloaded(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("id ASC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalation policies for tenant %s: %w", tenantID, err)
	}
	return policies, nil
}

// GetPolicy returns a policy with its levels, or ErrPolicyNotFound.
func (r *escalationPolicyRepository) GetPolicy(ctx context.Context, id uint) (*entities.EscalationPolicy, error) {
	var policy entities.EscalationPolicy
	if err := r.preloaded(ctx).First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get escalation policy %d: %w", id, err)
	}
	return &policy, nil
}

// CreatePolicy inserts a policy and its levels.
func (r *escalationPolicyRepository) CreatePolicy(ctx context.Context, policy *entities.EscalationPolicy) error {
	if err := r.db.WithContext(ctx).Create(policy).Error; err != nil {
		return fmt.Errorf("failed to create escalation policy: %w", err)
	}
	return nil
}

// UpdatePolicy replaces a policy and all of its levels.
func (r *escalationPolicyRepository) UpdatePolicy(ctx context.Context, policy *entities.EscalationPolicy) error {
	if policy.ID == 0 {
		return fmt.Errorf("failed to update escalation policy: missing policy ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("policy_id = ?", policy.ID).Delete(&entities.EscalationLevel{}).Error; err != nil {
			return fmt.Errorf("failed to delete old levels: %w", err)
		}
		for i := range policy.Levels {
			policy.Levels[i].ID = 0
			policy.Levels[i].PolicyID = policy.ID
		}
		if err := tx.Save(policy).Error; err != nil {
			return fmt.Errorf("failed to update escalation policy: %w", err)
		}
		return nil
	})
}

// DeletePolicy removes a policy and its levels.
func (r *escalationPolicyRepository) DeletePolicy(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("policy_id = ?", id).Delete(&entities.EscalationLevel{}).Error; err != nil {
			return fmt.Errorf("failed to delete levels of escalation policy %d: %w", id, err)
		}
		result := tx.Delete(&entities.EscalationPolicy{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete escalation policy %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrPolicyNotFound
		}
		return nil
	})
}

package repository

import (
	"context"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
)

// EscalationPolicyRepository persists escalation policies and their levels.
type EscalationPolicyRepository interface {
	ListPolicies(ctx context.Context, tenantID string, activeOnly bool) ([]entities.EscalationPolicy, error)
	GetPolicy(ctx context.Context, id uint) (*entities.EscalationPolicy, error)
	CreatePolicy(ctx context.Context, policy *entities.EscalationPolicy) error
	UpdatePolicy(ctx context.Context, policy *entities.EscalationPolicy) error
	DeletePolicy(ctx context.Context, id uint) error
}

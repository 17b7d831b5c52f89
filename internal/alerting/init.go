package alerting

import (
	"context"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/logger"
)

// Settings configures Initialize.
type Settings struct {
	Engine               EngineConfig
	SeedTenants          []string
	HistoryRetentionDays int
}

// Initialize seeds the built-in rules of every seed tenant, creates the
// engine and starts history cleanup.
func Initialize(
	ctx context.Context,
	repo repository.AlertRuleRepository,
	settings Settings,
	log logger.Logger,
	opts ...EngineOption,
) (*Engine, error) {
	for _, tenantID := range settings.SeedTenants {
		if err := seedDefaultRules(ctx, repo, tenantID, log); err != nil {
			return nil, err
		}
	}

	engine := NewEngine(repo, settings.Engine, log, opts...)
	engine.StartHistoryCleanup(settings.HistoryRetentionDays)

	log.Info("alerting engine initialized",
		logger.Int("seed_tenants", len(settings.SeedTenants)),
		logger.String("strategy", string(engine.strategy)))

	return engine, nil
}

// seedDefaultRules ensures all built-in default rules exist for a tenant. It
// checks by name so partial seeds from previous runs self-heal on restart.
func seedDefaultRules(ctx context.Context, repo repository.AlertRuleRepository, tenantID string, log logger.Logger) error {
	existing, err := repo.ListRules(ctx, repository.AlertRuleFilter{TenantID: tenantID})
	if err != nil {
		return err
	}

	existingNames := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingNames[existing[i].Name] = struct{}{}
	}

	defaults := DefaultRules(tenantID)
	var created int
	for i := range defaults {
		if _, exists := existingNames[defaults[i].Name]; exists {
			continue
		}
		if err := repo.CreateRule(ctx, &defaults[i]); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		log.Info("seeded default alert rules",
			logger.String("tenant_id", tenantID),
			logger.Int("created", created))
	}
	return nil
}

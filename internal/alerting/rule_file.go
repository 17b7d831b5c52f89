package alerting

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RuleFile is the on-disk format for rules managed outside the API.
type RuleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// RuleDefinition is one rule in a RuleFile. Rules are matched to stored ones
// by tenant and name.
type RuleDefinition struct {
	Tenant      string                `yaml:"tenant"`
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Logic       string                `yaml:"logic"`
	Active      *bool                 `yaml:"active"`
	Farm        *string               `yaml:"farm"`
	Pond        *string               `yaml:"pond"`
	Sensor      *string               `yaml:"sensor"`
	CooldownSec int                   `yaml:"cooldown_sec"`
	Conditions  []ConditionDefinition `yaml:"conditions"`
}

// ConditionDefinition is one condition in a RuleDefinition.
type ConditionDefinition struct {
	Parameter string  `yaml:"parameter"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
	Severity  string  `yaml:"severity"`
}

// LoadRuleFile parses and validates a YAML rule file. Unknown keys are rejected.
func LoadRuleFile(path string) ([]entities.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	rules := make([]entities.AlertRule, 0, len(file.Rules))
	for i := range file.Rules {
		rule := file.Rules[i].toEntity()
		if err := ValidateRule(&rule); err != nil {
			return nil, fmt.Errorf("rule %d in %s: %w", i, path, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (d *RuleDefinition) toEntity() entities.AlertRule {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	logic := d.Logic
	if logic == "" {
		logic = entities.LogicOr
	}
	rule := entities.AlertRule{
		TenantID:    d.Tenant,
		Name:        d.Name,
		Description: d.Description,
		Active:      active,
		Logic:       logic,
		FarmID:      d.Farm,
		PondID:      d.Pond,
		SensorID:    d.Sensor,
		CooldownSec: d.CooldownSec,
	}
	for i, c := range d.Conditions {
		rule.Conditions = append(rule.Conditions, entities.AlertCondition{
			Parameter: c.Parameter,
			Operator:  c.Operator,
			Threshold: c.Threshold,
			Severity:  c.Severity,
			SortOrder: i,
		})
	}
	return rule
}

// ApplyRuleFile upserts every rule of the file and reloads the affected
// tenants. It returns the number of rules written.
func (e *Engine) ApplyRuleFile(ctx context.Context, path string) (int, error) {
	rules, err := LoadRuleFile(path)
	if err != nil {
		return 0, err
	}

	tenants := make(map[string]struct{})
	for i := range rules {
		rule := &rules[i]
		existing, err := e.repo.ListRules(ctx, repository.AlertRuleFilter{TenantID: rule.TenantID})
		if err != nil {
			return i, err
		}
		for j := range existing {
			if existing[j].Name == rule.Name {
				rule.ID = existing[j].ID
				rule.BuiltIn = existing[j].BuiltIn
				break
			}
		}
		if rule.ID != 0 {
			err = e.UpdateRule(ctx, rule)
		} else {
			err = e.CreateRule(ctx, rule)
		}
		if err != nil {
			return i, err
		}
		tenants[rule.TenantID] = struct{}{}
	}

	for tenantID := range tenants {
		if _, err := e.Reload(ctx, tenantID); err != nil {
			return len(rules), err
		}
	}
	return len(rules), nil
}

// WatchRuleFile applies path once and then again on every write until ctx is
// cancelled. A failed reload is logged and the stored rules stay as they were.
func (e *Engine) WatchRuleFile(ctx context.Context, path string) error {
	if _, err := e.ApplyRuleFile(ctx, path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so saves that rename over path are seen.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	e.log.Info("watching rule file", logger.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			n, err := e.ApplyRuleFile(ctx, path)
			if err != nil {
				e.log.Error("rule file reload failed, keeping stored rules",
					logger.String("path", path),
					logger.Error(err))
				continue
			}
			e.log.Info("rule file reloaded",
				logger.String("path", path),
				logger.Int("rules", n))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.log.Error("rule file watcher error", logger.Error(err))
		}
	}
}

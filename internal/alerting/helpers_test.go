package alerting

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
)

var _ repository.AlertRuleRepository = (*memRuleRepo)(nil)

// memRuleRepo is an in-memory AlertRuleRepository.
type memRuleRepo struct {
	mu          sync.Mutex
	nextID      uint
	rules       map[uint]entities.AlertRule
	history     []entities.AlertHistory
	activeCalls int
	activeErr   error
	historyErr  error
}

func newMemRuleRepo(rules ...entities.AlertRule) *memRuleRepo {
	r := &memRuleRepo{rules: make(map[uint]entities.AlertRule)}
	for i := range rules {
		_ = r.CreateRule(context.Background(), &rules[i])
	}
	return r
}

func (r *memRuleRepo) sorted(keep func(*entities.AlertRule) bool) []entities.AlertRule {
	out := make([]entities.AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(&rule) {
			out = append(out, rule)
		}
	}
	slices.SortFunc(out, func(a, b entities.AlertRule) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *memRuleRepo) ListRules(_ context.Context, f repository.AlertRuleFilter) ([]entities.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(rule *entities.AlertRule) bool {
		return (f.TenantID == "" || rule.TenantID == f.TenantID) &&
			(f.Active == nil || rule.Active == *f.Active) &&
			(f.BuiltIn == nil || rule.BuiltIn == *f.BuiltIn)
	}), nil
}

func (r *memRuleRepo) GetRule(_ context.Context, id uint) (*entities.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, repository.ErrAlertRuleNotFound
	}
	return &rule, nil
}

func (r *memRuleRepo) CreateRule(_ context.Context, rule *entities.AlertRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rule.ID = r.nextID
	r.rules[rule.ID] = *rule
	return nil
}

func (r *memRuleRepo) UpdateRule(_ context.Context, rule *entities.AlertRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; !ok {
		return repository.ErrAlertRuleNotFound
	}
	r.rules[rule.ID] = *rule
	return nil
}

func (r *memRuleRepo) DeleteRule(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return repository.ErrAlertRuleNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *memRuleRepo) ToggleRule(_ context.Context, id uint, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return repository.ErrAlertRuleNotFound
	}
	rule.Active = active
	r.rules[id] = rule
	return nil
}

func (r *memRuleRepo) GetActiveRules(_ context.Context, tenantID string) ([]entities.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeCalls++
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	return r.sorted(func(rule *entities.AlertRule) bool {
		return rule.TenantID == tenantID && rule.Active
	}), nil
}

func (r *memRuleRepo) DeleteBuiltInRules(_ context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rule := range r.rules {
		if rule.TenantID == tenantID && rule.BuiltIn {
			delete(r.rules, id)
			n++
		}
	}
	return n, nil
}

func (r *memRuleRepo) SaveHistory(_ context.Context, h *entities.AlertHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.ID = uint(len(r.history) + 1)
	r.history = append(r.history, *h)
	return nil
}

func (r *memRuleRepo) ListHistory(_ context.Context, f repository.AlertHistoryFilter) ([]entities.AlertHistory, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return nil, 0, r.historyErr
	}
	var out []entities.AlertHistory
	for _, h := range r.history {
		if (f.TenantID == "" || h.TenantID == f.TenantID) && (f.RuleID == 0 || h.RuleID == f.RuleID) {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b entities.AlertHistory) int { return b.FiredAt.Compare(a.FiredAt) })
	total := int64(len(out))
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *memRuleRepo) DeleteHistoryBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.history[:0]
	for _, h := range r.history {
		if !h.FiredAt.Before(before) {
			kept = append(kept, h)
		}
	}
	n := int64(len(r.history) - len(kept))
	r.history = kept
	return n, nil
}

func (r *memRuleRepo) CountRulesByName(_ context.Context, tenantID, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Name == name {
			n++
		}
	}
	return n, nil
}

func (r *memRuleRepo) ActiveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCalls
}

func (r *memRuleRepo) History() []entities.AlertHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}

func strPtr(s string) *string { return &s }

// thresholdRule builds a single-condition rule.
func thresholdRule(tenantID, name, param, op string, threshold float64, sev string) entities.AlertRule {
	return entities.AlertRule{
		TenantID: tenantID,
		Name:     name,
		Active:   true,
		Logic:    entities.LogicOr,
		Conditions: []entities.AlertCondition{
			{Parameter: param, Operator: op, Threshold: threshold, Severity: sev},
		},
	}
}

func facts(tenantID string, values map[string]any) *FactContext {
	return &FactContext{
		TenantID:  tenantID,
		FarmID:    "farm-1",
		PondID:    "pond-1",
		SensorID:  "sensor-1",
		Values:    values,
		Timestamp: time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC),
	}
}

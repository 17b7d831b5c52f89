package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAlertRuleJSONKeys guards the snake_case contract consumed by the admin
// UI; scope pointers are omitted when they are wildcards.
func TestAlertRuleJSONKeys(t *testing.T) {
	t.Parallel()

	farm := "farm-1"
	rule := AlertRule{
		ID:       42,
		TenantID: "t1",
		Name:     "Hot pond",
		Active:   true,
		Logic:    LogicAnd,
		FarmID:   &farm,
		Conditions: []AlertCondition{
			{ID: 1, RuleID: 42, Parameter: "temperature", Operator: "GT", Threshold: 30, Severity: "HIGH"},
		},
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"id", "tenant_id", "active", "logic", "farm_id", "conditions", "cooldown_sec"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "pond_id", "wildcard scope should be omitted")
	assert.NotContains(t, m, "TenantID")

	conds, ok := m["conditions"].([]any)
	require.True(t, ok)
	cond, ok := conds[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "temperature", cond["parameter"])
	assert.InDelta(t, 30.0, cond["threshold"], 0)
}

func TestEscalationPolicyJSONKeys(t *testing.T) {
	t.Parallel()

	policy := EscalationPolicy{
		ID:         3,
		TenantID:   "t1",
		Severities: []string{"HIGH", "CRITICAL"},
		MaxRepeats: 2,
		IsDefault:  true,
		Levels: []EscalationLevel{
			{Level: 1, TimeoutMinutes: 15, NotifyTargets: []string{"u1"}, Action: ActionNotify},
		},
	}
	data, err := json.Marshal(policy)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"severities", "levels", "max_repeats", "is_default", "repeat_interval_minutes"} {
		assert.Contains(t, m, key)
	}
}

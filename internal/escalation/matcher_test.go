package escalation

import (
	"testing"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/severity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uintPtr(n uint) *uint { return &n }

var oneLevel = []entities.EscalationLevel{{Level: 1, TimeoutMinutes: 15, NotifyTargets: []string{"operator-1"}}}

func TestMatcher_Specificity(t *testing.T) {
	t.Parallel()

	repo := &staticPolicies{policies: []entities.EscalationPolicy{
		{ID: 1, TenantID: "t1", Name: "default", Levels: oneLevel, Active: true, IsDefault: true, Severities: []string{"INFO"}},
		{ID: 2, TenantID: "t1", Name: "generic", Levels: oneLevel, Active: true, Severities: []string{"HIGH", "CRITICAL"}},
		{ID: 3, TenantID: "t1", Name: "farm", Levels: oneLevel, Active: true, FarmIDs: []string{"farm-1"}},
		{ID: 4, TenantID: "t1", Name: "rule", Levels: oneLevel, Active: true, RuleIDs: []uint{7}},
		{ID: 5, TenantID: "t1", Name: "inactive rule", Levels: oneLevel, Active: false, RuleIDs: []uint{8}},
		{ID: 6, TenantID: "t2", Name: "other tenant", Levels: oneLevel, Active: true, RuleIDs: []uint{7}},
	}}
	m := NewMatcher(repo)

	tests := []struct {
		name   string
		query  MatchQuery
		wantID uint
	}{
		{"rule beats farm", MatchQuery{TenantID: "t1", Severity: severity.High, RuleID: uintPtr(7), FarmID: "farm-1"}, 4},
		{"farm beats generic", MatchQuery{TenantID: "t1", Severity: severity.High, FarmID: "farm-1"}, 3},
		{"generic", MatchQuery{TenantID: "t1", Severity: severity.Critical, FarmID: "farm-9"}, 2},
		{"inactive skipped", MatchQuery{TenantID: "t1", Severity: severity.High, RuleID: uintPtr(8)}, 2},
		{"default fallback", MatchQuery{TenantID: "t1", Severity: severity.Low}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := m.FindMatchingPolicy(t.Context(), tt.query)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantID, p.ID, p.Name)
		})
	}

	p, err := m.FindMatchingPolicy(t.Context(), MatchQuery{TenantID: "t3", Severity: severity.High})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMatcher_SuppressionWindow(t *testing.T) {
	t.Parallel()

	night := entities.SuppressionWindow{Start: "22:00", End: "06:00", Timezone: "UTC"}
	repo := &staticPolicies{policies: []entities.EscalationPolicy{
		{ID: 1, TenantID: "t1", Name: "fallback", Levels: oneLevel, Active: true, IsDefault: true},
		{ID: 2, TenantID: "t1", Name: "day shift", Levels: oneLevel, Active: true, SuppressionWindows: []entities.SuppressionWindow{night}},
	}}
	m := NewMatcher(repo)

	noon := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	p, err := m.FindMatchingPolicy(t.Context(), MatchQuery{TenantID: "t1", Severity: severity.High, At: noon})
	require.NoError(t, err)
	assert.Equal(t, uint(2), p.ID)

	lateNight := time.Date(2026, 3, 3, 23, 30, 0, 0, time.UTC)
	p, err = m.FindMatchingPolicy(t.Context(), MatchQuery{TenantID: "t1", Severity: severity.High, At: lateNight})
	require.NoError(t, err)
	assert.Equal(t, uint(1), p.ID)
}

func TestMatcher_SkipsPoliciesWithoutLevels(t *testing.T) {
	t.Parallel()

	repo := &staticPolicies{policies: []entities.EscalationPolicy{
		{ID: 1, TenantID: "t1", Name: "empty default", Active: true, IsDefault: true},
		{ID: 2, TenantID: "t1", Name: "empty rule", Active: true, RuleIDs: []uint{7}},
		{ID: 3, TenantID: "t1", Name: "generic", Active: true, Levels: oneLevel},
	}}
	m := NewMatcher(repo)

	p, err := m.FindMatchingPolicy(t.Context(), MatchQuery{TenantID: "t1", Severity: severity.High, RuleID: uintPtr(7)})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, uint(3), p.ID)

	repo.policies = repo.policies[:2]
	p, err = m.FindMatchingPolicy(t.Context(), MatchQuery{TenantID: "t1", Severity: severity.High, RuleID: uintPtr(7)})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestInWindow(t *testing.T) {
	t.Parallel()

	// 2026-03-02 is a Monday.
	monday := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }
	tuesday := func(h, m int) time.Time { return time.Date(2026, 3, 3, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		w    entities.SuppressionWindow
		at   time.Time
		want bool
	}{
		{"daytime inside", entities.SuppressionWindow{Start: "09:00", End: "17:00"}, monday(12, 0), true},
		{"daytime end exclusive", entities.SuppressionWindow{Start: "09:00", End: "17:00"}, monday(17, 0), false},
		{"overnight late part", entities.SuppressionWindow{Start: "22:00", End: "06:00"}, monday(23, 0), true},
		{"overnight early part", entities.SuppressionWindow{Start: "22:00", End: "06:00"}, tuesday(5, 59), true},
		{"overnight outside", entities.SuppressionWindow{Start: "22:00", End: "06:00"}, tuesday(6, 0), false},
		{"early part belongs to previous day", entities.SuppressionWindow{Start: "22:00", End: "06:00", Days: []string{"Mon"}}, tuesday(3, 0), true},
		{"day not listed", entities.SuppressionWindow{Start: "22:00", End: "06:00", Days: []string{"Monday"}}, tuesday(23, 0), false},
		{"timezone applied", entities.SuppressionWindow{Start: "09:00", End: "17:00", Timezone: "Asia/Tokyo"}, monday(1, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, inWindow(tt.w, tt.at))
		})
	}
}

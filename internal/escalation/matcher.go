package escalation

import (
	"context"
	"slices"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// PolicyMatcher selects the policy for an incident. A nil policy with a nil
// error means no policy applies.
type PolicyMatcher interface {
	FindMatchingPolicy(ctx context.Context, q MatchQuery) (*entities.EscalationPolicy, error)
}

// MatchQuery describes the incident a policy is selected for.
type MatchQuery struct {
	TenantID string
	Severity severity.Level
	RuleID   *uint
	FarmID   string
	At       time.Time
}

// Matcher picks the most specific active policy: rule-scoped before
// farm-scoped before generic. The tenant default is used only when no other
// policy applies, whatever its own scope. Policies without levels never match.
type Matcher struct {
	repo repository.EscalationPolicyRepository
}

// NewMatcher creates a Matcher over repo.
func NewMatcher(repo repository.EscalationPolicyRepository) *Matcher {
	return &Matcher{repo: repo}
}

// FindMatchingPolicy implements PolicyMatcher.
func (m *Matcher) FindMatchingPolicy(ctx context.Context, q MatchQuery) (*entities.EscalationPolicy, error) {
	policies, err := m.repo.ListPolicies(ctx, q.TenantID, true)
	if err != nil {
		return nil, errors.New(err).
			Component("escalation").
			Category(errors.CategoryDatabase).
			Context("tenant_id", q.TenantID).
			Build()
	}

	var (
		best      *entities.EscalationPolicy
		bestScore = -1
		fallback  *entities.EscalationPolicy
	)
	for i := range policies {
		p := &policies[i]
		if len(p.Levels) == 0 || suppressed(p, q.At) {
			continue
		}
		if p.IsDefault {
			if fallback == nil {
				fallback = p
			}
			continue
		}
		if !appliesTo(p, q) {
			continue
		}
		// Ties keep the lowest ID since policies arrive ordered by ID.
		if score := specificity(p); score > bestScore {
			best, bestScore = p, score
		}
	}
	if best != nil {
		return best, nil
	}
	return fallback, nil
}

func appliesTo(p *entities.EscalationPolicy, q MatchQuery) bool {
	if len(p.Severities) > 0 && !slices.Contains(p.Severities, q.Severity.String()) {
		return false
	}
	if len(p.RuleIDs) > 0 && (q.RuleID == nil || !slices.Contains(p.RuleIDs, *q.RuleID)) {
		return false
	}
	if len(p.FarmIDs) > 0 && (q.FarmID == "" || !slices.Contains(p.FarmIDs, q.FarmID)) {
		return false
	}
	return true
}

func specificity(p *entities.EscalationPolicy) int {
	score := 0
	if len(p.RuleIDs) > 0 {
		score += 2
	}
	if len(p.FarmIDs) > 0 {
		score++
	}
	return score
}

func suppressed(p *entities.EscalationPolicy, at time.Time) bool {
	if at.IsZero() {
		return false
	}
	for _, w := range p.SuppressionWindows {
		if inWindow(w, at) {
			return true
		}
	}
	return false
}

// inWindow reports whether at falls inside w. For windows that wrap past
// midnight the early-morning part belongs to the previous day's window.
func inWindow(w entities.SuppressionWindow, at time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil || start == end {
		return false
	}
	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	var inside bool
	switch {
	case start < end:
		inside = minute >= start && minute < end
	case minute >= start:
		inside = true
	case minute < end:
		inside = true
		day = (day + 6) % 7
	}
	return inside && dayAllowed(w.Days, day)
}

func dayAllowed(days []string, day time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if wd, ok := parseWeekday(d); ok && wd == day {
			return true
		}
	}
	return false
}

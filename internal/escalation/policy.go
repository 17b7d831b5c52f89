// Package escalation selects escalation policies for incidents and drives
// each incident through the policy's levels on cancellable timers.
package escalation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

var validActions = []string{
	entities.ActionNotify,
	entities.ActionPage,
	entities.ActionCall,
	entities.ActionAutoResolve,
}

// ValidatePolicy checks a policy before it is stored. Levels must number
// 1..N without gaps once sorted.
func ValidatePolicy(p *entities.EscalationPolicy) error {
	if p == nil {
		return invalidPolicy("policy is required", 0)
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return invalidPolicy("tenant is required", p.ID)
	}
	if strings.TrimSpace(p.Name) == "" {
		return invalidPolicy("name is required", p.ID)
	}
	if len(p.Levels) == 0 {
		return invalidPolicy("at least one level is required", p.ID)
	}
	if p.RepeatIntervalMinutes < 0 {
		return invalidPolicy("repeat interval must not be negative", p.ID)
	}
	if p.MaxRepeats < 0 {
		return invalidPolicy("max repeats must not be negative", p.ID)
	}
	for _, s := range p.Severities {
		if !severity.Level(s).Valid() {
			return invalidPolicy(fmt.Sprintf("unknown severity %q", s), p.ID)
		}
	}

	levels := sortedLevels(p.Levels)
	for i, lvl := range levels {
		if lvl.Level != i+1 {
			return invalidPolicy(fmt.Sprintf("levels must be sequential from 1: expected %d, got %d", i+1, lvl.Level), p.ID)
		}
		if lvl.TimeoutMinutes <= 0 {
			return invalidPolicy(fmt.Sprintf("level %d timeout must be positive", lvl.Level), p.ID)
		}
		action := actionOf(lvl)
		if !slices.Contains(validActions, action) {
			return invalidPolicy(fmt.Sprintf("level %d has unknown action %q", lvl.Level, lvl.Action), p.ID)
		}
		if action == entities.ActionAutoResolve {
			if i != len(levels)-1 {
				return invalidPolicy("only the last level may auto-resolve", p.ID)
			}
			if i == 0 {
				return invalidPolicy("the first level cannot auto-resolve", p.ID)
			}
			continue
		}
		if len(lvl.NotifyTargets) == 0 {
			return invalidPolicy(fmt.Sprintf("level %d has no notify targets", lvl.Level), p.ID)
		}
	}

	for _, w := range p.SuppressionWindows {
		if err := validateWindow(w); err != nil {
			return invalidPolicy(err.Error(), p.ID)
		}
	}
	return nil
}

func invalidPolicy(msg string, id uint) error {
	return errors.Newf("invalid escalation policy: %s", msg).
		Component("escalation").
		Category(errors.CategoryValidation).
		Context("policy_id", id).
		Build()
}

func actionOf(lvl entities.EscalationLevel) string {
	if lvl.Action == "" {
		return entities.ActionNotify
	}
	return strings.ToUpper(lvl.Action)
}

// sortedLevels returns a copy of levels ordered by level number.
func sortedLevels(levels []entities.EscalationLevel) []entities.EscalationLevel {
	out := slices.Clone(levels)
	slices.SortStableFunc(out, func(a, b entities.EscalationLevel) int { return a.Level - b.Level })
	return out
}

// normalizePolicy sorts levels and fills default actions in place.
func normalizePolicy(p *entities.EscalationPolicy) {
	p.Levels = sortedLevels(p.Levels)
	for i := range p.Levels {
		p.Levels[i].Action = actionOf(p.Levels[i])
	}
	for i, s := range p.Severities {
		p.Severities[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// PolicyService manages a tenant's escalation policies and keeps at most
// one default policy per tenant.
type PolicyService struct {
	repo repository.EscalationPolicyRepository
	log  logger.Logger
}

// NewPolicyService creates a PolicyService.
func NewPolicyService(repo repository.EscalationPolicyRepository, log logger.Logger) *PolicyService {
	return &PolicyService{repo: repo, log: log.Module("escalation")}
}

// Get returns a policy by ID.
func (s *PolicyService) Get(ctx context.Context, id uint) (*entities.EscalationPolicy, error) {
	p, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		return nil, policyNotFoundOr(err, id)
	}
	return p, nil
}

// List returns all policies of a tenant.
func (s *PolicyService) List(ctx context.Context, tenantID string) ([]entities.EscalationPolicy, error) {
	return s.repo.ListPolicies(ctx, tenantID, false)
}

// Create validates and stores a new policy.
func (s *PolicyService) Create(ctx context.Context, p *entities.EscalationPolicy) error {
	if p == nil {
		return invalidPolicy("policy is required", 0)
	}
	normalizePolicy(p)
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	if p.IsDefault {
		if err := s.clearDefault(ctx, p.TenantID, 0); err != nil {
			return err
		}
	}

	active := p.Active
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}
	// The column defaults to true, so an inactive policy needs a second write.
	if !active {
		p.Active = false
		if err := s.repo.UpdatePolicy(ctx, p); err != nil {
			return err
		}
	}
	s.log.Info("escalation policy created",
		logger.Uint64("policy_id", uint64(p.ID)),
		logger.String("tenant_id", p.TenantID),
		logger.Int("levels", len(p.Levels)))
	return nil
}

// Update replaces an existing policy. The tenant of a policy never changes.
func (s *PolicyService) Update(ctx context.Context, p *entities.EscalationPolicy) error {
	if p == nil {
		return invalidPolicy("policy is required", 0)
	}
	existing, err := s.repo.GetPolicy(ctx, p.ID)
	if err != nil {
		return policyNotFoundOr(err, p.ID)
	}
	p.TenantID = existing.TenantID
	p.CreatedAt = existing.CreatedAt
	normalizePolicy(p)
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	if p.IsDefault && !existing.IsDefault {
		if err := s.clearDefault(ctx, p.TenantID, p.ID); err != nil {
			return err
		}
	}
	return s.repo.UpdatePolicy(ctx, p)
}

// Delete removes a policy. The tenant's default policy cannot be deleted.
func (s *PolicyService) Delete(ctx context.Context, id uint) error {
	existing, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		return policyNotFoundOr(err, id)
	}
	if existing.IsDefault {
		return invalidPolicy("the default policy cannot be deleted", id)
	}
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return policyNotFoundOr(err, id)
	}
	return nil
}

// SetDefault makes an active policy the tenant's fallback policy.
func (s *PolicyService) SetDefault(ctx context.Context, tenantID string, id uint) error {
	p, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		return policyNotFoundOr(err, id)
	}
	if p.TenantID != tenantID {
		return policyNotFoundOr(repository.ErrPolicyNotFound, id)
	}
	if !p.Active {
		return invalidPolicy("an inactive policy cannot be the default", id)
	}
	if p.IsDefault {
		return nil
	}
	if err := s.clearDefault(ctx, tenantID, id); err != nil {
		return err
	}
	p.IsDefault = true
	return s.repo.UpdatePolicy(ctx, p)
}

func (s *PolicyService) clearDefault(ctx context.Context, tenantID string, keep uint) error {
	policies, err := s.repo.ListPolicies(ctx, tenantID, false)
	if err != nil {
		return err
	}
	for i := range policies {
		p := &policies[i]
		if !p.IsDefault || p.ID == keep {
			continue
		}
		p.IsDefault = false
		if err := s.repo.UpdatePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func policyNotFoundOr(err error, id uint) error {
	if errors.Is(err, repository.ErrPolicyNotFound) {
		return errors.New(err).
			Component("escalation").
			Category(errors.CategoryNotFound).
			Context("policy_id", id).
			Build()
	}
	return err
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	d, ok := weekdays[s[:3]]
	return d, ok
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func validateWindow(w entities.SuppressionWindow) error {
	start, err := parseClock(w.Start)
	if err != nil {
		return err
	}
	end, err := parseClock(w.End)
	if err != nil {
		return err
	}
	if start == end {
		return fmt.Errorf("suppression window %s-%s is empty", w.Start, w.End)
	}
	for _, d := range w.Days {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("unknown weekday %q", d)
		}
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", w.Timezone)
		}
	}
	return nil
}

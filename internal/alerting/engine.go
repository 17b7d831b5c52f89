package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
)

const (
	// DefaultEvalTimeout bounds the evaluation of a single rule.
	DefaultEvalTimeout = 5 * time.Second
	// saveHistoryTimeout is the context deadline for persisting alert history.
	saveHistoryTimeout = 3 * time.Second
	// cleanupTimeout is the context deadline for the periodic history deletion.
	cleanupTimeout = 5 * time.Second
	// cleanupInterval is how often the history cleanup goroutine runs.
	cleanupInterval = 1 * time.Hour
)

// RuleEvaluator evaluates one rule against one fact context.
type RuleEvaluator func(rule *Rule, fc *FactContext) RuleMatch

// EngineConfig tunes the engine. Zero values select defaults.
type EngineConfig struct {
	CacheTTL    time.Duration
	EvalTimeout time.Duration
	Strategy    Strategy
}

// EvaluationRequest asks the engine to evaluate Facts. RuleIDs, when set,
// restricts evaluation to those rules. An empty Strategy uses the engine default.
type EvaluationRequest struct {
	Facts    *FactContext
	RuleIDs  []uint
	Strategy Strategy
}

// EvaluationResult summarizes one EvaluateRules call.
type EvaluationResult struct {
	Matches   []RuleMatch
	Evaluated int
	TimedOut  int
	Failed    int
	Duration  time.Duration
}

// Engine evaluates facts against cached, tenant-scoped rules.
type Engine struct {
	repo        repository.AlertRuleRepository
	cache       *RuleCache
	evaluator   RuleEvaluator
	metrics     *metrics.Metrics
	log         logger.Logger
	evalTimeout time.Duration
	strategy    Strategy
	now         func() time.Time

	// Cooldown tracking (in-memory, resets on restart)
	cooldowns   map[uint]time.Time // rule ID → last fired time
	cooldownsMu sync.Mutex

	// History cleanup
	cleanupStop chan struct{}
	cleanupMu   sync.Mutex
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEvaluator replaces EvaluateDeclared as the per-rule evaluator.
func WithEvaluator(ev RuleEvaluator) EngineOption {
	return func(e *Engine) { e.evaluator = ev }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for cooldowns.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new alerting rules engine.
func NewEngine(repo repository.AlertRuleRepository, cfg EngineConfig, log logger.Logger, opts ...EngineOption) *Engine {
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = DefaultEvalTimeout
	}
	if !cfg.Strategy.Valid() {
		cfg.Strategy = StrategyBestMatch
	}
	e := &Engine{
		repo:        repo,
		cache:       NewRuleCache(cfg.CacheTTL),
		evaluator:   EvaluateDeclared,
		log:         log.Module("rules"),
		evalTimeout: cfg.EvalTimeout,
		strategy:    cfg.Strategy,
		now:         time.Now,
		cooldowns:   make(map[uint]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetApplicableRules returns the active rules of the request's tenant whose
// scope covers the facts, optionally limited to req.RuleIDs.
func (e *Engine) GetApplicableRules(ctx context.Context, req *EvaluationRequest) ([]*Rule, error) {
	fc := req.Facts
	if fc == nil || fc.TenantID == "" {
		return nil, errors.Newf("evaluation request requires a tenant").
			Component("alerting").
			Category(errors.CategoryValidation).
			Build()
	}

	key := cacheKey(fc.TenantID, fc.FarmID, fc.PondID, fc.SensorID)
	rules, hit := e.cache.Get(key)
	e.metrics.RuleCacheLookup(hit)
	if !hit {
		gen := e.cache.Generation(fc.TenantID)
		stored, err := e.repo.GetActiveRules(ctx, fc.TenantID)
		if err != nil {
			return nil, errors.New(err).
				Component("alerting").
				Category(errors.CategoryDatabase).
				Context("tenant_id", fc.TenantID).
				Build()
		}
		rules = make([]*Rule, 0, len(stored))
		for i := range stored {
			rule, err := CompileRule(&stored[i])
			if err != nil {
				e.log.Warn("skipping invalid stored rule",
					logger.Uint64("rule_id", uint64(stored[i].ID)),
					logger.Error(err))
				continue
			}
			if rule.scopeMatches(fc) {
				rules = append(rules, rule)
			}
		}
		e.cache.SetIfGeneration(fc.TenantID, gen, key, rules)
	}

	if len(req.RuleIDs) == 0 {
		return rules, nil
	}
	wanted := make(map[uint]struct{}, len(req.RuleIDs))
	for _, id := range req.RuleIDs {
		wanted[id] = struct{}{}
	}
	filtered := make([]*Rule, 0, len(req.RuleIDs))
	for _, r := range rules {
		if _, ok := wanted[r.ID]; ok {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// EvaluateRules evaluates every applicable rule under its own timeout. A rule
// that times out or panics counts as a non-match; it never fails the batch.
func (e *Engine) EvaluateRules(ctx context.Context, req *EvaluationRequest) (*EvaluationResult, error) {
	start := time.Now()
	rules, err := e.GetApplicableRules(ctx, req)
	if err != nil {
		return nil, err
	}

	strategy := req.Strategy
	if !strategy.Valid() {
		strategy = e.strategy
	}

	result := &EvaluationResult{}
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match, err := e.evaluateWithTimeout(ctx, rule, req.Facts)
		result.Evaluated++
		switch {
		case errors.IsCategory(err, errors.CategoryTimeout):
			result.TimedOut++
			e.metrics.RuleEvaluated(metrics.OutcomeTimeout)
			e.log.Warn("rule evaluation timed out",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.String("tenant_id", rule.TenantID),
				logger.Duration("timeout", e.evalTimeout))
			continue
		case err != nil:
			result.Failed++
			e.metrics.RuleEvaluated(metrics.OutcomeError)
			e.log.Error("rule evaluation failed",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.Error(err))
			continue
		case !match.Matched:
			e.metrics.RuleEvaluated(metrics.OutcomeNoMatch)
			continue
		}
		e.metrics.RuleEvaluated(metrics.OutcomeMatch)
		result.Matches = append(result.Matches, match)
		if strategy == StrategyFirstMatch {
			break
		}
	}

	if strategy == StrategyBestMatch {
		sort.SliceStable(result.Matches, func(i, j int) bool {
			return result.Matches[i].Severity.Rank() > result.Matches[j].Severity.Rank()
		})
	}
	e.applyCooldowns(result.Matches)

	result.Duration = time.Since(start)
	e.metrics.EvaluationBatch(result.Duration)
	return result, nil
}

func (e *Engine) evaluateWithTimeout(ctx context.Context, rule *Rule, fc *FactContext) (RuleMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, e.evalTimeout)
	defer cancel()

	type outcome struct {
		match RuleMatch
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("rule %d evaluation panicked: %v", rule.ID, r)}
			}
		}()
		done <- outcome{match: e.evaluator(rule, fc)}
	}()

	select {
	case o := <-done:
		return o.match, o.err
	case <-ctx.Done():
		return RuleMatch{Rule: rule}, errors.New(ctx.Err()).
			Component("alerting").
			Category(errors.CategoryTimeout).
			Context("rule_id", rule.ID).
			Build()
	}
}

// applyCooldowns flags matches of rules that fired within their cooldown and
// records the fire time of the others.
func (e *Engine) applyCooldowns(matches []RuleMatch) {
	now := e.now()
	e.cooldownsMu.Lock()
	defer e.cooldownsMu.Unlock()
	for i := range matches {
		rule := matches[i].Rule
		if rule.Cooldown <= 0 {
			continue
		}
		if last, ok := e.cooldowns[rule.ID]; ok && now.Sub(last) < rule.Cooldown {
			matches[i].Suppressed = true
			continue
		}
		e.cooldowns[rule.ID] = now
	}
}

// InvalidateTenant drops every cached rule set of tenantID.
func (e *Engine) InvalidateTenant(tenantID string) {
	n := e.cache.InvalidateTenant(tenantID)
	e.log.Debug("rule cache invalidated",
		logger.String("tenant_id", tenantID),
		logger.Int("entries", n))
}

// Reload invalidates the tenant's cache and checks that its stored rules
// still load. It returns the number of valid active rules.
func (e *Engine) Reload(ctx context.Context, tenantID string) (int, error) {
	e.InvalidateTenant(tenantID)
	stored, err := e.repo.GetActiveRules(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to reload rules for tenant %s: %w", tenantID, err)
	}
	valid := 0
	for i := range stored {
		if _, err := CompileRule(&stored[i]); err == nil {
			valid++
		}
	}
	e.log.Info("rules reloaded",
		logger.String("tenant_id", tenantID),
		logger.Int("active_rules", valid))
	return valid, nil
}

// CreateRule validates and stores a rule.
func (e *Engine) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := e.repo.CreateRule(ctx, rule); err != nil {
		return err
	}
	e.InvalidateTenant(rule.TenantID)
	return nil
}

// UpdateRule validates and replaces a stored rule. The tenant of an existing
// rule cannot change.
func (e *Engine) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	existing, err := e.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.TenantID = existing.TenantID
	rule.CreatedAt = existing.CreatedAt
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := e.repo.UpdateRule(ctx, rule); err != nil {
		return err
	}
	e.InvalidateTenant(rule.TenantID)
	return nil
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, id uint) error {
	existing, err := e.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := e.repo.DeleteRule(ctx, id); err != nil {
		return notFoundOr(err, id)
	}
	e.InvalidateTenant(existing.TenantID)
	return nil
}

// ToggleRule activates or deactivates a rule.
func (e *Engine) ToggleRule(ctx context.Context, id uint, active bool) error {
	existing, err := e.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := e.repo.ToggleRule(ctx, id, active); err != nil {
		return notFoundOr(err, id)
	}
	e.InvalidateTenant(existing.TenantID)
	return nil
}

// GetRule loads a stored rule; unknown ids yield a not-found error.
func (e *Engine) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	rule, err := e.repo.GetRule(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	return rule, nil
}

func notFoundOr(err error, id uint) error {
	if errors.Is(err, repository.ErrAlertRuleNotFound) {
		return errors.New(err).
			Component("alerting").
			Category(errors.CategoryNotFound).
			Context("rule_id", id).
			Build()
	}
	return err
}

// RecordHistory persists an AlertHistory row for a match that opened an incident.
func (e *Engine) RecordHistory(match *RuleMatch, fc *FactContext, incidentID string, riskScore float64) {
	eventJSON, err := json.Marshal(fc.Values)
	if err != nil {
		e.log.Error("failed to marshal fact values", logger.Error(err))
		eventJSON = []byte("{}")
	}
	history := &entities.AlertHistory{
		TenantID:   match.Rule.TenantID,
		RuleID:     match.Rule.ID,
		IncidentID: incidentID,
		Severity:   match.Severity.String(),
		RiskScore:  riskScore,
		FiredAt:    e.now(),
		EventData:  string(eventJSON),
	}
	saveCtx, saveCancel := context.WithTimeout(context.Background(), saveHistoryTimeout)
	defer saveCancel()
	if err := e.repo.SaveHistory(saveCtx, history); err != nil {
		e.log.Error("failed to save alert history",
			logger.Uint64("rule_id", uint64(match.Rule.ID)),
			logger.Error(err))
	}
}

// IncidentStats returns how many times a rule has fired and when it last did.
func (e *Engine) IncidentStats(ctx context.Context, ruleID uint) (count int64, last *time.Time, err error) {
	items, total, err := e.repo.ListHistory(ctx, repository.AlertHistoryFilter{RuleID: ruleID, Limit: 1})
	if err != nil {
		return 0, nil, err
	}
	if len(items) > 0 {
		firedAt := items[0].FiredAt
		last = &firedAt
	}
	return total, last, nil
}

// StartHistoryCleanup starts a background goroutine that periodically deletes
// alert history entries older than retentionDays. A value of 0 disables cleanup.
func (e *Engine) StartHistoryCleanup(retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	// Stop any existing cleanup goroutine before starting a new one.
	e.stopCleanup()
	e.cleanupMu.Lock()
	e.cleanupStop = make(chan struct{})
	stopCh := e.cleanupStop
	e.cleanupMu.Unlock()
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cleanupTimeout)
				deleted, err := e.repo.DeleteHistoryBefore(cleanupCtx, cutoff)
				cleanupCancel()
				if err != nil {
					e.log.Error("alert history cleanup failed", logger.Error(err))
				} else if deleted > 0 {
					e.log.Info("alert history cleanup completed",
						logger.Int64("deleted", deleted),
						logger.Int("retention_days", retentionDays))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

func (e *Engine) stopCleanup() {
	e.cleanupMu.Lock()
	ch := e.cleanupStop
	e.cleanupStop = nil
	e.cleanupMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Stop shuts down background goroutines (history cleanup).
func (e *Engine) Stop() {
	e.stopCleanup()
}

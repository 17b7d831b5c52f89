package alerting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/repository"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/escalation"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
	"github.com/aquasentinel/aquasentinel/internal/risk"
	"github.com/aquasentinel/aquasentinel/internal/severity"
	"github.com/google/uuid"
)

// processTimeout bounds one fact context handled from the bus.
const processTimeout = 30 * time.Second

// Escalator starts the escalation of a newly opened incident.
type Escalator interface {
	StartEscalation(ctx context.Context, incident *entities.Incident, sev severity.Level, ruleID *uint) (*escalation.State, error)
}

// EnvironmentSource reports site conditions for a farm. It may return nil.
type EnvironmentSource func(tenantID, farmID string) *risk.EnvironmentalContext

// Opened describes one incident opened by Process.
type Opened struct {
	Incident   *entities.Incident
	Match      RuleMatch
	Risk       risk.ScoreResult
	Escalation *escalation.State
}

// ProcessResult summarizes one Process call.
type ProcessResult struct {
	Evaluation *EvaluationResult
	Opened     []Opened
	Suppressed int
	Failed     int
}

// Pipeline turns facts into incidents: it evaluates rules, scores each match,
// stores the incident and starts its escalation.
type Pipeline struct {
	engine      *Engine
	tracker     *FactTracker
	calculator  *risk.Calculator
	incidents   repository.IncidentRepository
	escalator   Escalator
	environment EnvironmentSource
	metrics     *metrics.Metrics
	log         logger.Logger
	now         func() time.Time
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithEscalator starts escalations for opened incidents.
func WithEscalator(e Escalator) PipelineOption {
	return func(p *Pipeline) { p.escalator = e }
}

// WithEnvironment supplies environmental context to risk scoring.
func WithEnvironment(src EnvironmentSource) PipelineOption {
	return func(p *Pipeline) { p.environment = src }
}

// WithPipelineMetrics records risk scores.
func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPipelineClock overrides the time source.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline. A nil tracker gets a fresh one.
func NewPipeline(engine *Engine, tracker *FactTracker, calc *risk.Calculator,
	incidents repository.IncidentRepository, log logger.Logger, opts ...PipelineOption,
) *Pipeline {
	if tracker == nil {
		tracker = NewFactTracker()
	}
	p := &Pipeline{
		engine:     engine,
		tracker:    tracker,
		calculator: calc,
		incidents:  incidents,
		log:        log.Module("pipeline"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes fc with a bounded context. It is a FactHandler for FactBus.
func (p *Pipeline) Handle(fc *FactContext) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	if _, err := p.Process(ctx, fc); err != nil {
		p.log.Error("fact processing failed",
			logger.String("tenant_id", fc.TenantID),
			logger.String("sensor_id", fc.SensorID),
			logger.Error(err))
	}
}

// Process records fc, evaluates it with BEST_MATCH and opens one incident per
// match outside its cooldown. Failures after evaluation are logged and
// counted; only evaluation errors are returned.
func (p *Pipeline) Process(ctx context.Context, fc *FactContext) (*ProcessResult, error) {
	if fc == nil || fc.TenantID == "" {
		return nil, errors.Newf("fact context requires a tenant").
			Component("alerting").
			Category(errors.CategoryValidation).
			Build()
	}
	if fc.Timestamp.IsZero() {
		fc.Timestamp = p.now()
	}
	p.tracker.Observe(fc)

	eval, err := p.engine.EvaluateRules(ctx, &EvaluationRequest{Facts: fc, Strategy: StrategyBestMatch})
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{Evaluation: eval}
	for i := range eval.Matches {
		match := eval.Matches[i]
		if match.Suppressed {
			result.Suppressed++
			continue
		}
		opened, err := p.open(ctx, fc, match)
		if err != nil {
			result.Failed++
			p.log.Error("failed to open incident",
				logger.Uint64("rule_id", uint64(match.Rule.ID)),
				logger.String("tenant_id", fc.TenantID),
				logger.Error(err))
			continue
		}
		result.Opened = append(result.Opened, *opened)
	}
	return result, nil
}

func (p *Pipeline) open(ctx context.Context, fc *FactContext, match RuleMatch) (*Opened, error) {
	rule := match.Rule
	lead := leadCondition(match)
	now := p.now()

	rc := risk.Context{
		TenantID:       fc.TenantID,
		RuleSeverity:   match.Severity,
		CurrentValue:   match.Values[lead.Parameter],
		ThresholdValue: lead.Threshold,
		Impact: risk.ImpactContext{
			TenantID:       fc.TenantID,
			AssetID:        assetOf(fc),
			FarmID:         fc.FarmID,
			PondID:         fc.PondID,
			SensorID:       fc.SensorID,
			Severity:       match.Severity,
			AffectedAssets: 1,
		},
		Now: now,
	}
	if lead.Field.Kind == FieldDirect {
		rc.HistoricalValues = p.tracker.History(fc, lead.Field.Name)
	}
	if count, last, err := p.engine.IncidentStats(ctx, rule.ID); err != nil {
		p.log.Warn("incident history unavailable, scoring without it",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.Error(err))
	} else {
		n := int(count)
		rc.PreviousIncidents = &n
		rc.LastIncidentAt = last
	}
	if p.environment != nil {
		rc.Environment = p.environment(fc.TenantID, fc.FarmID)
	}

	score := p.calculator.Calculate(rc)
	p.metrics.RiskScore(score.TotalScore)
	sev := p.calculator.Classifier().ClassifyMulti(risk.MultiCriteria{
		Score:          score.TotalScore,
		RuleSeverity:   match.Severity,
		AffectedAssets: 1,
	})

	incident := &entities.Incident{
		ID:        uuid.NewString(),
		TenantID:  fc.TenantID,
		RuleID:    rule.ID,
		FarmID:    fc.FarmID,
		PondID:    fc.PondID,
		SensorID:  fc.SensorID,
		Severity:  sev.String(),
		Status:    entities.IncidentOpen,
		Title:     incidentTitle(rule, lead, match.Values[lead.Parameter]),
		RiskScore: score.TotalScore,
	}
	if err := p.incidents.SaveIncident(ctx, incident); err != nil {
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryDatabase).
			Context("rule_id", rule.ID).
			Build()
	}
	p.engine.RecordHistory(&match, fc, incident.ID, score.TotalScore)

	p.log.Info("incident opened",
		logger.String("incident_id", incident.ID),
		logger.String("tenant_id", incident.TenantID),
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.String("severity", incident.Severity),
		logger.Float64("risk_score", score.TotalScore))

	opened := &Opened{Incident: incident, Match: match, Risk: score}
	if p.escalator == nil {
		return opened, nil
	}
	ruleID := rule.ID
	state, err := p.escalator.StartEscalation(ctx, incident, sev, &ruleID)
	switch {
	case errors.IsCategory(err, errors.CategoryNotFound):
		p.log.Info("no escalation policy for incident",
			logger.String("incident_id", incident.ID),
			logger.String("severity", incident.Severity))
	case err != nil:
		p.log.Error("failed to start escalation",
			logger.String("incident_id", incident.ID),
			logger.Error(err))
	default:
		opened.Escalation = state
	}
	return opened, nil
}

// leadCondition is the most severe matched condition, first one on ties.
func leadCondition(match RuleMatch) Condition {
	lead := match.MatchedConditions[0]
	for _, c := range match.MatchedConditions[1:] {
		if c.Severity.Rank() > lead.Severity.Rank() {
			lead = c
		}
	}
	return lead
}

func assetOf(fc *FactContext) string {
	switch {
	case fc.PondID != "":
		return fc.PondID
	case fc.FarmID != "":
		return fc.FarmID
	default:
		return fc.SensorID
	}
}

func incidentTitle(rule *Rule, lead Condition, value float64) string {
	return fmt.Sprintf("%s: %s %s %s (observed %s)", rule.Name, lead.Parameter, lead.Operator,
		strconv.FormatFloat(lead.Threshold, 'f', -1, 64), strconv.FormatFloat(value, 'f', 2, 64))
}

package alerting

import (
	"math"
	"strings"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Condition is a compiled threshold comparison.
type Condition struct {
	Parameter string
	Field     FieldRef
	Operator  Operator
	Threshold float64
	Severity  severity.Level
}

// Rule is the evaluation form of an entities.AlertRule.
type Rule struct {
	ID         uint
	TenantID   string
	Name       string
	Logic      Logic
	Active     bool
	FarmID     *string
	PondID     *string
	SensorID   *string
	Cooldown   time.Duration
	Conditions []Condition
}

// RuleMatch is the outcome of evaluating one rule.
type RuleMatch struct {
	Rule              *Rule
	Matched           bool
	MatchedConditions []Condition
	Severity          severity.Level
	// Values holds the resolved value of every matched condition, keyed by parameter.
	Values map[string]float64
	// Suppressed is set when the rule matched inside its cooldown window.
	Suppressed bool
}

// CompileRule validates an entity and converts it to a Rule.
func CompileRule(src *entities.AlertRule) (*Rule, error) {
	if err := ValidateRule(src); err != nil {
		return nil, err
	}
	rule := &Rule{
		ID:         src.ID,
		TenantID:   src.TenantID,
		Name:       src.Name,
		Logic:      Logic(strings.ToUpper(src.Logic)),
		Active:     src.Active,
		FarmID:     src.FarmID,
		PondID:     src.PondID,
		SensorID:   src.SensorID,
		Cooldown:   time.Duration(src.CooldownSec) * time.Second,
		Conditions: make([]Condition, 0, len(src.Conditions)),
	}
	if rule.Logic == "" {
		rule.Logic = LogicOr
	}
	for i := range src.Conditions {
		c := &src.Conditions[i]
		sev, _ := severity.Parse(c.Severity)
		rule.Conditions = append(rule.Conditions, Condition{
			Parameter: c.Parameter,
			Field:     ParseFieldRef(c.Parameter),
			Operator:  Operator(strings.ToUpper(c.Operator)),
			Threshold: c.Threshold,
			Severity:  sev,
		})
	}
	return rule, nil
}

// ValidateRule rejects malformed rules instead of coercing them.
func ValidateRule(src *entities.AlertRule) error {
	invalid := func(msg string, kv ...any) error {
		b := errors.Newf("invalid rule: %s", msg).
			Component("alerting").
			Category(errors.CategoryValidation).
			Context("rule_name", src.Name)
		for i := 0; i+1 < len(kv); i += 2 {
			b = b.Context(kv[i].(string), kv[i+1])
		}
		return b.Build()
	}

	if strings.TrimSpace(src.TenantID) == "" {
		return invalid("tenant is required")
	}
	if strings.TrimSpace(src.Name) == "" {
		return invalid("name is required")
	}
	switch Logic(strings.ToUpper(src.Logic)) {
	case LogicAnd, LogicOr, "":
	default:
		return invalid("unknown logic", "logic", src.Logic)
	}
	if src.CooldownSec < 0 {
		return invalid("cooldown must not be negative", "cooldown_sec", src.CooldownSec)
	}
	if len(src.Conditions) == 0 {
		return invalid("at least one condition is required")
	}
	for i := range src.Conditions {
		c := &src.Conditions[i]
		if strings.TrimSpace(c.Parameter) == "" {
			return invalid("condition parameter is required", "condition", i)
		}
		if !Operator(strings.ToUpper(c.Operator)).Valid() {
			return invalid("unknown operator", "condition", i, "operator", c.Operator)
		}
		if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
			return invalid("threshold must be finite", "condition", i)
		}
		if _, err := severity.Parse(c.Severity); err != nil {
			return invalid("unknown severity", "condition", i, "severity", c.Severity)
		}
	}
	return nil
}

// EvaluateCondition resolves the condition's field in fc and compares it with
// the threshold. Unresolvable values never match.
func EvaluateCondition(cond *Condition, fc *FactContext) bool {
	_, ok := evaluateCondition(cond, fc)
	return ok
}

func evaluateCondition(cond *Condition, fc *FactContext) (float64, bool) {
	value, ok := fc.Resolve(cond.Field)
	if !ok {
		return 0, false
	}
	return value, compare(value, cond.Operator, cond.Threshold)
}

func compare(value float64, op Operator, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return math.Abs(value-threshold) <= eqEpsilon
	default:
		return false
	}
}

// Evaluate matches when any condition matches, regardless of rule.Logic.
func Evaluate(rule *Rule, fc *FactContext) RuleMatch {
	m := RuleMatch{Rule: rule}
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		if value, ok := evaluateCondition(cond, fc); ok {
			m.add(cond, value)
		}
	}
	m.Matched = len(m.MatchedConditions) > 0
	return m
}

// EvaluateWithAnd matches only when every condition matches and stops at the
// first failing one.
func EvaluateWithAnd(rule *Rule, fc *FactContext) RuleMatch {
	m := RuleMatch{Rule: rule}
	if len(rule.Conditions) == 0 {
		return m
	}
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		value, ok := evaluateCondition(cond, fc)
		if !ok {
			return RuleMatch{Rule: rule}
		}
		m.add(cond, value)
	}
	m.Matched = true
	return m
}

// EvaluateDeclared evaluates rule with its declared Logic.
func EvaluateDeclared(rule *Rule, fc *FactContext) RuleMatch {
	if rule.Logic == LogicAnd {
		return EvaluateWithAnd(rule, fc)
	}
	return Evaluate(rule, fc)
}

func (m *RuleMatch) add(cond *Condition, value float64) {
	if m.Values == nil {
		m.Values = make(map[string]float64)
	}
	m.MatchedConditions = append(m.MatchedConditions, *cond)
	m.Values[cond.Parameter] = value
	m.Severity = severity.Max(m.Severity, cond.Severity)
}

// scopeMatches reports whether a rule's farm/pond/sensor scope covers fc.
// A nil scope is a wildcard.
func (r *Rule) scopeMatches(fc *FactContext) bool {
	return scopeEq(r.FarmID, fc.FarmID) && scopeEq(r.PondID, fc.PondID) && scopeEq(r.SensorID, fc.SensorID)
}

func scopeEq(want *string, got string) bool {
	return want == nil || *want == got
}

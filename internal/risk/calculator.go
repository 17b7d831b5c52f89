package risk

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Factor names accepted by SetWeights.
const (
	FactorFrequency = "frequency"
	FactorSeverity  = "severity"
	FactorImpact    = "impact"
	FactorHistory   = "history"
	FactorTrend     = "trend"
	FactorContext   = "context"
)

// factorOrder is the order factors appear in a ScoreResult.
var factorOrder = []string{FactorFrequency, FactorSeverity, FactorImpact, FactorHistory, FactorTrend, FactorContext}

// EnvironmentalContext carries site conditions that raise or lower risk.
type EnvironmentalContext struct {
	StormWarning         bool `json:"storm_warning"`
	ExtremeTemperature   bool `json:"extreme_temperature"`
	PeakSeason           bool `json:"peak_season"`
	CriticalOperation    bool `json:"critical_operation"`
	MaintenanceScheduled bool `json:"maintenance_scheduled"`
}

// Context is the input of Calculate. A nil PreviousIncidents means the
// incident count is unknown. Now anchors recency; a zero Now skips recency.
type Context struct {
	TenantID          string
	RuleSeverity      severity.Level
	CurrentValue      float64
	ThresholdValue    float64
	PreviousIncidents *int
	LastIncidentAt    *time.Time
	HistoricalValues  []float64
	Impact            ImpactContext
	Environment       *EnvironmentalContext
	Now               time.Time
}

// Factor is one weighted contributor to a score.
type Factor struct {
	Category    string  `json:"category"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// ScoreResult is the outcome of Calculate.
type ScoreResult struct {
	Factors         []Factor       `json:"factors"`
	TotalScore      float64        `json:"total_score"`
	Confidence      float64        `json:"confidence"`
	Severity        severity.Level `json:"severity"`
	Recommendations []string       `json:"recommendations"`
	Impact          ImpactResult   `json:"impact"`
	CalculatedAt    time.Time      `json:"calculated_at"`
}

// Calculator computes risk scores. Calculate is pure and safe for
// concurrent use; configuration changes apply to later calls.
type Calculator struct {
	impact     *ImpactAnalyzer
	classifier *Classifier

	mu      sync.RWMutex
	weights map[string]float64
}

// NewCalculator creates a calculator with equal factor weights.
func NewCalculator(impact *ImpactAnalyzer, classifier *Classifier) *Calculator {
	if impact == nil {
		impact = NewImpactAnalyzer()
	}
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Calculator{
		impact:     impact,
		classifier: classifier,
		weights:    DefaultWeights(),
	}
}

// DefaultWeights gives every factor the same weight.
func DefaultWeights() map[string]float64 {
	w := make(map[string]float64, len(factorOrder))
	for _, name := range factorOrder {
		w[name] = 1.0 / float64(len(factorOrder))
	}
	return w
}

// Classifier returns the severity classifier used by the calculator.
func (c *Calculator) Classifier() *Classifier { return c.classifier }

// Impact returns the impact analyzer used by the calculator.
func (c *Calculator) Impact() *ImpactAnalyzer { return c.impact }

// SetWeights overrides the weights of the named factors. Every weight must be
// within [0,1], names must be known and the resulting sum must be positive.
// Invalid input leaves the previous weights in place.
func (c *Calculator) SetWeights(weights map[string]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]float64, len(c.weights))
	for k, v := range c.weights {
		next[k] = v
	}
	for name, w := range weights {
		if !slices.Contains(factorOrder, name) {
			return invalidWeights(fmt.Sprintf("unknown factor %q", name))
		}
		if math.IsNaN(w) || w < 0 || w > 1 {
			return invalidWeights(fmt.Sprintf("weight of %s must be within [0,1]", name))
		}
		next[name] = w
	}
	var sum float64
	for _, w := range next {
		sum += w
	}
	if sum <= 0 {
		return invalidWeights("weights must not all be zero")
	}
	c.weights = next
	return nil
}

func invalidWeights(msg string) error {
	return errors.Newf("invalid risk weights: %s", msg).
		Component("risk").
		Category(errors.CategoryConfiguration).
		Build()
}

// Weights returns a copy of the current weights.
func (c *Calculator) Weights() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.weights))
	for k, v := range c.weights {
		out[k] = v
	}
	return out
}

// Calculate scores rc.
func (c *Calculator) Calculate(rc Context) ScoreResult {
	weights := c.Weights()
	thresholds := c.classifier.Thresholds()

	impact := c.impact.Analyze(rc.Impact)
	values := map[string]float64{
		FactorFrequency: frequencyScore(rc),
		FactorSeverity:  severityScore(rc),
		FactorImpact:    impact.Total,
		FactorHistory:   historyScore(rc.CurrentValue, rc.HistoricalValues),
		FactorTrend:     trendScore(rc.HistoricalValues),
		FactorContext:   contextScore(rc.Environment),
	}

	factors := make([]Factor, 0, len(factorOrder))
	var weighted, applied float64
	for _, name := range factorOrder {
		f := Factor{
			Category:    factorCategory[name],
			Name:        name,
			Value:       values[name],
			Weight:      weights[name],
			Description: factorDescription[name],
		}
		factors = append(factors, f)
		weighted += f.Value * f.Weight
		applied += f.Weight
	}

	total := 0.0
	if applied > 0 {
		total = clamp(weighted / applied)
	}
	sev := classify(thresholds, total)

	return ScoreResult{
		Factors:         factors,
		TotalScore:      total,
		Confidence:      confidence(rc, factors),
		Severity:        sev,
		Recommendations: recommendations(thresholds, total, values),
		Impact:          impact,
		CalculatedAt:    rc.Now,
	}
}

var factorCategory = map[string]string{
	FactorFrequency: "historical",
	FactorSeverity:  "threat",
	FactorImpact:    "business",
	FactorHistory:   "statistical",
	FactorTrend:     "statistical",
	FactorContext:   "environmental",
}

var factorDescription = map[string]string{
	FactorFrequency: "How often and how recently this rule fired",
	FactorSeverity:  "Rule severity and distance from the threshold",
	FactorImpact:    "Weighted business, technical and environmental impact",
	FactorHistory:   "Deviation of the current value from its history",
	FactorTrend:     "Direction and steepness of recent readings",
	FactorContext:   "Weather, season and operational conditions",
}

func frequencyScore(rc Context) float64 {
	n := 0
	if rc.PreviousIncidents != nil {
		n = *rc.PreviousIncidents
	}
	var score float64
	switch {
	case n <= 0:
		score = 10
	case n <= 2:
		score = 30
	case n <= 5:
		score = 50
	case n <= 10:
		score = 70
	default:
		score = 90
	}

	if rc.LastIncidentAt != nil && !rc.Now.IsZero() {
		age := rc.Now.Sub(*rc.LastIncidentAt)
		switch {
		case age < 24*time.Hour:
			score += 20
		case age < 7*24*time.Hour:
			score += 10
		case age > 30*24*time.Hour:
			score -= 10
		}
	}
	return clamp(score)
}

var severityBase = map[severity.Level]float64{
	severity.Critical: 100,
	severity.High:     80,
	severity.Medium:   60,
	severity.Warning:  45,
	severity.Low:      30,
	severity.Info:     10,
}

func severityScore(rc Context) float64 {
	score, ok := severityBase[rc.RuleSeverity]
	if !ok {
		score = 50
	}
	if rc.ThresholdValue != 0 {
		deviation := math.Abs(rc.CurrentValue-rc.ThresholdValue) / math.Abs(rc.ThresholdValue) * 100
		switch {
		case deviation > 50:
			score += 15
		case deviation > 25:
			score += 10
		case deviation > 10:
			score += 5
		}
	}
	return clamp(score)
}

func historyScore(current float64, history []float64) float64 {
	if len(history) < 2 {
		return 50
	}
	mean, stddev := meanStddev(history)
	if stddev == 0 {
		if current == mean {
			return 30
		}
		return 95
	}
	z := math.Abs(current-mean) / stddev
	switch {
	case z > 3:
		return 95
	case z > 2:
		return 80
	case z > 1:
		return 60
	default:
		return 30
	}
}

func trendScore(history []float64) float64 {
	if len(history) < 3 {
		return 50
	}
	mean, _ := meanStddev(history)
	slope := leastSquaresSlope(history)
	// percent of the mean per sample
	normalized := slope / math.Max(math.Abs(mean), 1e-9) * 100
	switch {
	case normalized > 10:
		return 90
	case normalized > 5:
		return 75
	case normalized > 1:
		return 60
	case normalized >= -1:
		return 50
	case normalized >= -5:
		return 35
	default:
		return 20
	}
}

func contextScore(env *EnvironmentalContext) float64 {
	score := 50.0
	if env == nil {
		return score
	}
	score += flag(env.StormWarning, 20)
	score += flag(env.ExtremeTemperature, 15)
	score += flag(env.PeakSeason, 10)
	score += flag(env.CriticalOperation, 15)
	score -= flag(env.MaintenanceScheduled, 10)
	return clamp(score)
}

func confidence(rc Context, factors []Factor) float64 {
	conf := 0.5 + math.Min(0.2, float64(len(rc.HistoricalValues))/50)
	if rc.PreviousIncidents != nil {
		conf += 0.1
	}
	if rc.Environment != nil {
		conf += 0.1
	}
	inRange := 0
	for _, f := range factors {
		if f.Value > 0 && f.Value < 100 {
			inRange++
		}
	}
	if len(factors) > 0 {
		conf += 0.1 * float64(inRange) / float64(len(factors))
	}
	return math.Min(conf, 1)
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		stddev += d * d
	}
	return mean, math.Sqrt(stddev / float64(len(values)))
}

func leastSquaresSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

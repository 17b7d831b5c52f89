package risk

import (
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Thresholds are the minimum scores of each severity band.
type Thresholds struct {
	Critical float64 `json:"critical"`
	High     float64 `json:"high"`
	Medium   float64 `json:"medium"`
	Low      float64 `json:"low"`
}

// DefaultThresholds returns critical≥85, high≥65, medium≥40, low≥20.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 85, High: 65, Medium: 40, Low: 20}
}

// Validate requires strictly descending bands within [0,100].
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.Critical, t.High, t.Medium, t.Low} {
		if v < 0 || v > 100 {
			return invalidThresholds("thresholds must be within [0,100]", t)
		}
	}
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > t.Low) {
		return invalidThresholds("thresholds must be strictly descending", t)
	}
	return nil
}

func invalidThresholds(msg string, t Thresholds) error {
	return errors.Newf("%s", msg).
		Component("risk").
		Category(errors.CategoryConfiguration).
		Context("thresholds", t).
		Build()
}

// Long-running or wide incidents are bumped one severity.
const (
	longIncident = 60 * time.Minute
	wideIncident = 5
)

// MultiCriteria is the input of ClassifyMulti.
type MultiCriteria struct {
	Score          float64
	RuleSeverity   severity.Level
	Duration       time.Duration
	AffectedAssets int
}

// Classifier maps scores to severities.
type Classifier struct {
	mu         sync.RWMutex
	thresholds Thresholds
}

// NewClassifier creates a classifier with DefaultThresholds.
func NewClassifier() *Classifier {
	return &Classifier{thresholds: DefaultThresholds()}
}

// SetThresholds replaces the bands. Invalid input leaves the previous bands in place.
func (c *Classifier) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.thresholds = t
	c.mu.Unlock()
	return nil
}

// Thresholds returns the current bands.
func (c *Classifier) Thresholds() Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// Classify maps a score to a severity.
func (c *Classifier) Classify(score float64) severity.Level {
	return classify(c.Thresholds(), score)
}

func classify(t Thresholds, score float64) severity.Level {
	switch {
	case score >= t.Critical:
		return severity.Critical
	case score >= t.High:
		return severity.High
	case score >= t.Medium:
		return severity.Medium
	case score >= t.Low:
		return severity.Low
	default:
		return severity.Info
	}
}

// ClassifyMulti takes the more severe of the score band and the rule
// severity, then bumps it one level for long-running or wide incidents.
func (c *Classifier) ClassifyMulti(mc MultiCriteria) severity.Level {
	level := severity.Max(c.Classify(mc.Score), mc.RuleSeverity)
	if mc.Duration > longIncident || mc.AffectedAssets >= wideIncident {
		level = severity.Bump(level)
	}
	return level
}

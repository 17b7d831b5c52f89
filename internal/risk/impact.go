// Package risk scores alert matches: impact across business categories, a
// six-factor weighted risk score with confidence, and severity classification.
package risk

import (
	"math"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/severity"
)

// Impact category weights. They sum to 1.
const (
	weightBusiness      = 0.25
	weightTechnical     = 0.15
	weightFinancial     = 0.20
	weightCompliance    = 0.15
	weightOperational   = 0.10
	weightEnvironmental = 0.10
	weightReputation    = 0.05
)

// Defaults applied to assets that were never registered.
const (
	defaultCriticality   = 5
	defaultBusinessValue = 50
	defaultEnvSensitive  = 5
)

// AssetConfig describes a monitored asset (pond, tank, pump...).
// Criticality and EnvironmentalSensitivity are 0-10, BusinessValue 0-100.
type AssetConfig struct {
	ID                       string  `json:"id"`
	Criticality              float64 `json:"criticality"`
	DependencyCount          int     `json:"dependency_count"`
	BusinessValue            float64 `json:"business_value"`
	Regulated                bool    `json:"regulated"`
	EnvironmentalSensitivity float64 `json:"environmental_sensitivity"`
	PublicVisibility         bool    `json:"public_visibility"`
}

// ImpactContext is the input of ImpactAnalyzer.Analyze.
type ImpactContext struct {
	TenantID       string
	AssetID        string
	FarmID         string
	PondID         string
	SensorID       string
	Severity       severity.Level
	AffectedAssets int
	Duration       time.Duration
}

// ImpactResult holds the seven category scores and their weighted total.
type ImpactResult struct {
	Business      float64 `json:"business"`
	Technical     float64 `json:"technical"`
	Financial     float64 `json:"financial"`
	Compliance    float64 `json:"compliance"`
	Operational   float64 `json:"operational"`
	Environmental float64 `json:"environmental"`
	Reputation    float64 `json:"reputation"`
	Total         float64 `json:"total"`
}

// ImpactAnalyzer scores impact using a tenant-scoped asset registry.
type ImpactAnalyzer struct {
	mu     sync.RWMutex
	assets map[string]map[string]AssetConfig // tenant → asset id → config
}

// NewImpactAnalyzer creates an analyzer with an empty registry.
func NewImpactAnalyzer() *ImpactAnalyzer {
	return &ImpactAnalyzer{assets: make(map[string]map[string]AssetConfig)}
}

// RegisterAsset adds or replaces an asset of a tenant.
func (a *ImpactAnalyzer) RegisterAsset(tenantID string, cfg AssetConfig) error {
	switch {
	case tenantID == "" || cfg.ID == "":
		return invalidAsset("tenant and asset id are required", cfg)
	case cfg.Criticality < 0 || cfg.Criticality > 10:
		return invalidAsset("criticality must be within [0,10]", cfg)
	case cfg.EnvironmentalSensitivity < 0 || cfg.EnvironmentalSensitivity > 10:
		return invalidAsset("environmental sensitivity must be within [0,10]", cfg)
	case cfg.BusinessValue < 0 || cfg.BusinessValue > 100:
		return invalidAsset("business value must be within [0,100]", cfg)
	case cfg.DependencyCount < 0:
		return invalidAsset("dependency count must not be negative", cfg)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.assets[tenantID] == nil {
		a.assets[tenantID] = make(map[string]AssetConfig)
	}
	a.assets[tenantID][cfg.ID] = cfg
	return nil
}

func invalidAsset(msg string, cfg AssetConfig) error {
	return errors.Newf("invalid asset: %s", msg).
		Component("risk").
		Category(errors.CategoryValidation).
		Context("asset_id", cfg.ID).
		Build()
}

// Asset returns a registered asset.
func (a *ImpactAnalyzer) Asset(tenantID, assetID string) (AssetConfig, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg, ok := a.assets[tenantID][assetID]
	return cfg, ok
}

// RemoveAsset deletes an asset of a tenant.
func (a *ImpactAnalyzer) RemoveAsset(tenantID, assetID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assets[tenantID], assetID)
}

// Analyze scores each impact category in [0,100] and combines them.
func (a *ImpactAnalyzer) Analyze(ic ImpactContext) ImpactResult {
	asset, ok := a.Asset(ic.TenantID, ic.AssetID)
	if !ok {
		asset = AssetConfig{
			ID:                       ic.AssetID,
			Criticality:              defaultCriticality,
			BusinessValue:            defaultBusinessValue,
			EnvironmentalSensitivity: defaultEnvSensitive,
		}
	}
	sev := impactSeverityBase(ic.Severity)
	spread := math.Min(float64(ic.AffectedAssets)*5, 25)

	r := ImpactResult{
		Business:      clamp(20 + asset.Criticality*5 + asset.BusinessValue*0.3 + flag(ic.FarmID != "", 10)),
		Technical:     clamp(20 + math.Min(float64(asset.DependencyCount)*5, 40) + flag(ic.SensorID != "", 10) + sev*0.3),
		Financial:     clamp(10 + asset.BusinessValue*0.5 + asset.Criticality*3 + spread),
		Operational:   clamp(20 + math.Min(ic.Duration.Minutes()/2, 40) + spread + flag(ic.PondID != "", 10)),
		Environmental: clamp(15 + asset.EnvironmentalSensitivity*5 + sev*0.3),
	}
	if asset.Regulated {
		r.Compliance = clamp(60 + sev*0.4)
	} else {
		r.Compliance = clamp(10 + sev*0.2)
	}
	if asset.PublicVisibility {
		r.Reputation = clamp(40 + sev*0.4)
	} else {
		r.Reputation = clamp(10 + sev*0.2)
	}

	r.Total = clamp(r.Business*weightBusiness +
		r.Technical*weightTechnical +
		r.Financial*weightFinancial +
		r.Compliance*weightCompliance +
		r.Operational*weightOperational +
		r.Environmental*weightEnvironmental +
		r.Reputation*weightReputation)
	return r
}

func impactSeverityBase(l severity.Level) float64 {
	switch l {
	case severity.Critical:
		return 80
	case severity.High:
		return 65
	case severity.Medium:
		return 50
	case severity.Warning:
		return 40
	case severity.Low:
		return 25
	case severity.Info:
		return 10
	default:
		return 30
	}
}

func flag(cond bool, v float64) float64 {
	if cond {
		return v
	}
	return 0
}

// clamp bounds v to [0,100]; NaN becomes 0.
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

package alerting

import (
	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
)

// DefaultRules returns the built-in water quality rules seeded for a tenant.
func DefaultRules(tenantID string) []entities.AlertRule {
	return []entities.AlertRule{
		{
			TenantID:    tenantID,
			Name:        "Low dissolved oxygen",
			Description: "Fish stress below 5 mg/L, critical below 3 mg/L",
			Active:      true,
			BuiltIn:     true,
			Logic:       entities.LogicOr,
			CooldownSec: 300,
			Conditions: []entities.AlertCondition{
				{Parameter: ParamDissolvedOxygen, Operator: string(OpLT), Threshold: 5, Severity: "HIGH", SortOrder: 0},
				{Parameter: ParamDissolvedOxygen, Operator: string(OpLT), Threshold: 3, Severity: "CRITICAL", SortOrder: 1},
			},
		},
		{
			TenantID:    tenantID,
			Name:        "High water temperature",
			Description: "Water temperature above 30 °C",
			Active:      true,
			BuiltIn:     true,
			Logic:       entities.LogicOr,
			CooldownSec: 900,
			Conditions: []entities.AlertCondition{
				{Parameter: ParamTemperature, Operator: string(OpGT), Threshold: 30, Severity: "HIGH", SortOrder: 0},
			},
		},
		{
			TenantID:    tenantID,
			Name:        "pH out of range",
			Description: "pH below 6.5 or above 9.0",
			Active:      true,
			BuiltIn:     true,
			Logic:       entities.LogicOr,
			CooldownSec: 900,
			Conditions: []entities.AlertCondition{
				{Parameter: ParamPH, Operator: string(OpLT), Threshold: 6.5, Severity: "MEDIUM", SortOrder: 0},
				{Parameter: ParamPH, Operator: string(OpGT), Threshold: 9, Severity: "MEDIUM", SortOrder: 1},
			},
		},
		{
			TenantID:    tenantID,
			Name:        "Toxic ammonia",
			Description: "Unionized ammonia at or above 0.05 mg/L",
			Active:      true,
			BuiltIn:     true,
			Logic:       entities.LogicOr,
			CooldownSec: 1800,
			Conditions: []entities.AlertCondition{
				{Parameter: ParamAmmonia, Operator: string(OpGTE), Threshold: 0.05, Severity: "HIGH", SortOrder: 0},
			},
		},
		{
			TenantID:    tenantID,
			Name:        "Rapid oxygen drop",
			Description: "Dissolved oxygen fell more than 20% since the previous reading",
			Active:      true,
			BuiltIn:     true,
			Logic:       entities.LogicOr,
			CooldownSec: 600,
			Conditions: []entities.AlertCondition{
				{Parameter: rateOfChangePrefix + ParamDissolvedOxygen, Operator: string(OpLT), Threshold: -20, Severity: "WARNING", SortOrder: 0},
			},
		},
		{
			TenantID:    tenantID,
			Name:        "Warm and oxygen depleted",
			Description: "Temperature above 28 °C while dissolved oxygen is below 6 mg/L",
			Active:      true,
			BuiltIn:     true,
			Logic:       entities.LogicAnd,
			CooldownSec: 600,
			Conditions: []entities.AlertCondition{
				{Parameter: ParamTemperature, Operator: string(OpGT), Threshold: 28, Severity: "MEDIUM", SortOrder: 0},
				{Parameter: ParamDissolvedOxygen, Operator: string(OpLT), Threshold: 6, Severity: "HIGH", SortOrder: 1},
			},
		},
	}
}

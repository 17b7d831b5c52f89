package alerting

import "github.com/aquasentinel/aquasentinel/internal/severity"

// Schema describes the parameters, operators and severities a rule can use.
type Schema struct {
	Parameters []ParameterSchema `json:"parameters"`
	Operators  []OperatorSchema  `json:"operators"`
	Severities []string          `json:"severities"`
	Logic      []string          `json:"logic"`
}

// ParameterSchema describes one sensor parameter.
type ParameterSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
	// RateOfChange names the derived percentage-change parameter.
	RateOfChange string `json:"rateOfChange"`
}

// OperatorSchema describes an operator for the UI.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// GetSchema returns the rule-building catalog.
func GetSchema() Schema {
	params := []ParameterSchema{
		{Name: ParamTemperature, Label: "Water Temperature", Unit: "°C"},
		{Name: ParamDissolvedOxygen, Label: "Dissolved Oxygen", Unit: "mg/L"},
		{Name: ParamPH, Label: "pH", Unit: ""},
		{Name: ParamAmmonia, Label: "Ammonia (NH3)", Unit: "mg/L"},
		{Name: ParamNitrite, Label: "Nitrite (NO2)", Unit: "mg/L"},
		{Name: ParamSalinity, Label: "Salinity", Unit: "ppt"},
		{Name: ParamTurbidity, Label: "Turbidity", Unit: "NTU"},
		{Name: ParamWaterLevel, Label: "Water Level", Unit: "cm"},
	}
	for i := range params {
		params[i].RateOfChange = rateOfChangePrefix + params[i].Name
	}

	severities := make([]string, len(severity.All))
	for i, l := range severity.All {
		severities[i] = l.String()
	}

	return Schema{
		Parameters: params,
		Operators: []OperatorSchema{
			{Name: string(OpGT), Label: "greater than"},
			{Name: string(OpGTE), Label: "greater or equal"},
			{Name: string(OpLT), Label: "less than"},
			{Name: string(OpLTE), Label: "less or equal"},
			{Name: string(OpEQ), Label: "equals"},
		},
		Severities: severities,
		Logic:      []string{string(LogicOr), string(LogicAnd)},
	}
}

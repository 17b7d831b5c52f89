// Package alerting evaluates sensor facts against tenant rules and turns the
// matches into incidents.
package alerting

// Operator compares a resolved fact value with a condition threshold.
type Operator string

// Condition operators.
const (
	OpGT  Operator = "GT"
	OpGTE Operator = "GTE"
	OpLT  Operator = "LT"
	OpLTE Operator = "LTE"
	// OpEQ matches when |value-threshold| <= 1e-9 (eqEpsilon), so sums such
	// as 0.1+0.2 equal 0.3.
	OpEQ Operator = "EQ"
)

// Logic combines a rule's conditions.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Strategy selects which matches EvaluateRules returns.
type Strategy string

const (
	// StrategyFirstMatch stops at the first matching rule.
	StrategyFirstMatch Strategy = "FIRST_MATCH"
	// StrategyAllMatch returns every match in rule order.
	StrategyAllMatch Strategy = "ALL_MATCH"
	// StrategyBestMatch returns every match sorted by severity, most severe first.
	StrategyBestMatch Strategy = "BEST_MATCH"
)

// Water quality parameters reported by pond sensors.
const (
	ParamTemperature     = "temperature"
	ParamDissolvedOxygen = "dissolved_oxygen"
	ParamPH              = "ph"
	ParamAmmonia         = "ammonia"
	ParamNitrite         = "nitrite"
	ParamSalinity        = "salinity"
	ParamTurbidity       = "turbidity"
	ParamWaterLevel      = "water_level"
)

// rateOfChangePrefix marks a derived rate-of-change parameter.
const rateOfChangePrefix = "rate_of_change_"

// eqEpsilon is the tolerance of the EQ operator.
const eqEpsilon = 1e-9

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFirstMatch, StrategyAllMatch, StrategyBestMatch:
		return true
	default:
		return false
	}
}

package alerting

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// FactContext is one set of readings to evaluate. Empty FarmID, PondID or
// SensorID means the reading is not scoped to that level.
type FactContext struct {
	TenantID       string
	FarmID         string
	PondID         string
	SensorID       string
	Values         map[string]any
	PreviousValues map[string]any
	GlobalVars     map[string]any
	LocalVars      map[string]any
	Timestamp      time.Time
}

// FieldKind tags a FieldRef variant.
type FieldKind uint8

const (
	// FieldDirect reads a value as-is.
	FieldDirect FieldKind = iota
	// FieldDerived computes a value from current and previous readings.
	FieldDerived
)

// DerivedKind names the computation of a derived field.
type DerivedKind uint8

const (
	DerivedNone DerivedKind = iota
	DerivedRateOfChange
)

// FieldRef is a parsed condition parameter.
type FieldRef struct {
	Kind    FieldKind
	Name    string
	Derived DerivedKind
}

// ParseFieldRef parses a parameter name once so evaluation never has to
// inspect the string again.
func ParseFieldRef(parameter string) FieldRef {
	if base, ok := strings.CutPrefix(parameter, rateOfChangePrefix); ok && base != "" {
		return FieldRef{Kind: FieldDerived, Name: base, Derived: DerivedRateOfChange}
	}
	return FieldRef{Kind: FieldDirect, Name: parameter}
}

func (r FieldRef) String() string {
	if r.Kind == FieldDerived && r.Derived == DerivedRateOfChange {
		return rateOfChangePrefix + r.Name
	}
	return r.Name
}

// Resolve returns the numeric value of ref in fc. The second result is false
// when the value is missing, nil, non-numeric or undefined.
func (fc *FactContext) Resolve(ref FieldRef) (float64, bool) {
	if fc == nil {
		return 0, false
	}
	switch ref.Kind {
	case FieldDirect:
		raw, ok := fc.lookup(ref.Name)
		if !ok {
			return 0, false
		}
		return toFloat64(raw)
	case FieldDerived:
		switch ref.Derived {
		case DerivedRateOfChange:
			return fc.rateOfChange(ref.Name)
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

// rateOfChange is (cur-prev)/|prev|*100. From a zero previous value any
// change is an infinite rate signed like cur; 0 -> 0 is undefined.
func (fc *FactContext) rateOfChange(name string) (float64, bool) {
	cur, ok := fc.Resolve(FieldRef{Kind: FieldDirect, Name: name})
	if !ok {
		return 0, false
	}
	rawPrev, ok := lookupIn(fc.PreviousValues, name)
	if !ok {
		return 0, false
	}
	prev, ok := toFloat64(rawPrev)
	if !ok {
		return 0, false
	}
	if prev == 0 {
		if cur == 0 {
			return 0, false
		}
		return math.Inf(sign(cur)), true
	}
	return (cur - prev) / math.Abs(prev) * 100, true
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

// ReportValues converts resolved values for JSON output, where infinite
// rates are written as "+Inf" or "-Inf".
func ReportValues(values map[string]float64) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if math.IsInf(v, 0) {
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
			continue
		}
		out[k] = v
	}
	return out
}

// lookup searches values, then local variables, then global variables.
func (fc *FactContext) lookup(name string) (any, bool) {
	for _, src := range []map[string]any{fc.Values, fc.LocalVars, fc.GlobalVars} {
		if v, ok := lookupIn(src, name); ok {
			return v, true
		}
	}
	return nil, false
}

// lookupIn tries an exact key first and then a dot path through nested maps.
func lookupIn(src map[string]any, name string) (any, bool) {
	if src == nil {
		return nil, false
	}
	if v, ok := src[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = src
	for part := range strings.SplitSeq(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat64(val any) (float64, bool) {
	var f float64
	switch v := val.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

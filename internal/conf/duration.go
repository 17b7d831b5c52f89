package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes human-readable strings
// ("250ms", "5m"). Bare numbers are interpreted as milliseconds, which is the
// unit operators use for retry delays.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string, a millisecond number or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := durationFrom(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a millisecond integer.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration, got %v", node.Kind)
	}
	if parsed, err := time.ParseDuration(node.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	ms, err := strconv.ParseInt(node.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q: use a value like \"30s\" or a millisecond count", node.Value)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func durationFrom(v any) (Duration, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string %q: %w", value, err)
		}
		return Duration(parsed), nil
	case float64:
		return Duration(time.Duration(value * float64(time.Millisecond))), nil
	case int:
		return Duration(time.Duration(value) * time.Millisecond), nil
	case int64:
		return Duration(time.Duration(value) * time.Millisecond), nil
	default:
		return 0, fmt.Errorf("invalid duration value %v (%T)", v, v)
	}
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode strings and millisecond numbers into
// Duration fields while keeping the stock time.Duration and slice hooks.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(_, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}
			return durationFrom(data)
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

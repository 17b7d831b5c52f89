// Package ingest consumes sensor readings from MQTT and turns them into
// fact contexts for the alerting pipeline.
package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	"github.com/aquasentinel/aquasentinel/internal/errors"
)

// Scope identifies the sensor a topic belongs to.
type Scope struct {
	TenantID string
	FarmID   string
	PondID   string
	SensorID string
}

// TopicFilter returns the subscription filter for prefix:
// <prefix>/<tenant>/<farm>/<pond>/<sensor>.
func TopicFilter(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/+/+/+/+"
}

// ParseTopic extracts the sensor scope from a reading topic.
func ParseTopic(prefix, topic string) (Scope, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return Scope{}, invalid("topic outside prefix", "topic", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return Scope{}, invalid("topic needs tenant, farm, pond and sensor", "topic", topic)
	}
	for _, p := range parts {
		if p == "" || p == "+" || p == "#" {
			return Scope{}, invalid("empty or wildcard topic level", "topic", topic)
		}
	}
	return Scope{TenantID: parts[0], FarmID: parts[1], PondID: parts[2], SensorID: parts[3]}, nil
}

type readingPayload struct {
	Values    map[string]any  `json:"values"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParseReading decodes a reading payload for scope. Values must be scalars,
// null or nested objects; the timestamp is RFC 3339 or unix seconds and
// defaults to now.
func ParseReading(scope Scope, payload []byte, now time.Time) (*alerting.FactContext, error) {
	var p readingPayload
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("sensor_id", scope.SensorID).
			Build()
	}
	if len(p.Values) == 0 {
		return nil, invalid("reading has no values", "sensor_id", scope.SensorID)
	}

	values := make(map[string]any, len(p.Values))
	for name, raw := range p.Values {
		v, err := normalize(raw)
		if err != nil {
			return nil, invalid(err.Error(), "sensor_id", scope.SensorID, "parameter", name)
		}
		values[name] = v
	}

	ts, err := parseTimestamp(p.Timestamp, now)
	if err != nil {
		return nil, invalid(err.Error(), "sensor_id", scope.SensorID)
	}

	return &alerting.FactContext{
		TenantID:  scope.TenantID,
		FarmID:    scope.FarmID,
		PondID:    scope.PondID,
		SensorID:  scope.SensorID,
		Values:    values,
		Timestamp: ts,
	}, nil
}

// normalize converts json.Number to float64 and rejects arrays.
func normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case nil, string, bool:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, errors.NewStd("number out of range")
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			n, err := normalize(nested)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, errors.NewStd("values must be scalars or objects")
	}
}

func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, errors.NewStd("timestamp is not RFC 3339")
		}
		return ts, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil || secs < 0 || math.IsInf(secs, 0) {
		return time.Time{}, errors.NewStd("timestamp must be RFC 3339 or unix seconds")
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

func invalid(msg string, kv ...string) error {
	b := errors.Newf("invalid reading: %s", msg).
		Component("ingest").
		Category(errors.CategoryValidation)
	for i := 0; i+1 < len(kv); i += 2 {
		b = b.Context(kv[i], kv[i+1])
	}
	return b.Build()
}

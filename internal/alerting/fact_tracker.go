package alerting

import (
	"sync"
	"time"
)

const (
	// maxSamplesPerSeries is the maximum number of samples retained per series.
	maxSamplesPerSeries = 120
	// maxSampleAge is the maximum age of a sample before eviction.
	maxSampleAge = 24 * time.Hour
)

// factSample is a single timestamped reading.
type factSample struct {
	value     float64
	timestamp time.Time
}

// FactTracker keeps short per-sensor, per-parameter reading series. They feed
// PreviousValues for rate-of-change conditions and the history of the risk
// calculator.
type FactTracker struct {
	series map[string][]factSample
	mu     sync.RWMutex
}

// NewFactTracker creates an empty tracker.
func NewFactTracker() *FactTracker {
	return &FactTracker{
		series: make(map[string][]factSample),
	}
}

func seriesKey(fc *FactContext, parameter string) string {
	return cacheKey(fc.TenantID, fc.FarmID, fc.PondID, fc.SensorID) + "/" + parameter
}

// Observe records every numeric value of fc. When fc has no PreviousValues it
// is filled with the latest earlier reading of each parameter.
func (t *FactTracker) Observe(fc *FactContext) {
	ts := fc.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fill := fc.PreviousValues == nil
	if fill {
		fc.PreviousValues = make(map[string]any, len(fc.Values))
	}
	for name, raw := range fc.Values {
		value, ok := toFloat64(raw)
		if !ok {
			continue
		}
		key := seriesKey(fc, name)
		samples := t.series[key]
		if fill && len(samples) > 0 {
			fc.PreviousValues[name] = samples[len(samples)-1].value
		}
		t.series[key] = appendSample(samples, factSample{value: value, timestamp: ts})
	}
}

func appendSample(samples []factSample, s factSample) []factSample {
	samples = append(samples, s)

	// Evict samples older than maxSampleAge
	cutoff := s.timestamp.Add(-maxSampleAge)
	start := 0
	for start < len(samples) && samples[start].timestamp.Before(cutoff) {
		start++
	}
	samples = samples[start:]

	// Cap buffer size
	if len(samples) > maxSamplesPerSeries {
		samples = samples[len(samples)-maxSamplesPerSeries:]
	}
	return samples
}

// History returns the recorded values of parameter for fc's sensor scope,
// oldest first, excluding the most recent reading.
func (t *FactTracker) History(fc *FactContext, parameter string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	samples := t.series[seriesKey(fc, parameter)]
	if len(samples) <= 1 {
		return nil
	}
	out := make([]float64, 0, len(samples)-1)
	for _, s := range samples[:len(samples)-1] {
		out = append(out, s.value)
	}
	return out
}

// Len returns the number of tracked series.
func (t *FactTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.series)
}

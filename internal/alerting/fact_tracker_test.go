package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactTracker_FillsPreviousValues(t *testing.T) {
	t.Parallel()

	tr := NewFactTracker()
	first := facts("t1", map[string]any{ParamDissolvedOxygen: 8.0, ParamTemperature: 26})
	tr.Observe(first)
	assert.Empty(t, first.PreviousValues)

	second := facts("t1", map[string]any{ParamDissolvedOxygen: 6.0})
	second.Timestamp = first.Timestamp.Add(time.Minute)
	tr.Observe(second)
	assert.Equal(t, map[string]any{ParamDissolvedOxygen: 8.0}, second.PreviousValues)

	// The derived field now resolves without the caller tracking anything.
	roc, ok := second.Resolve(ParseFieldRef("rate_of_change_dissolved_oxygen"))
	require.True(t, ok)
	assert.InDelta(t, -25.0, roc, 1e-9)
}

func TestFactTracker_KeepsCallerPreviousValues(t *testing.T) {
	t.Parallel()

	tr := NewFactTracker()
	tr.Observe(facts("t1", map[string]any{ParamPH: 7.0}))

	fc := facts("t1", map[string]any{ParamPH: 7.5})
	fc.PreviousValues = map[string]any{ParamPH: 6.0}
	tr.Observe(fc)
	assert.Equal(t, 6.0, fc.PreviousValues[ParamPH])
}

func TestFactTracker_SeriesAreScoped(t *testing.T) {
	t.Parallel()

	tr := NewFactTracker()
	tr.Observe(facts("t1", map[string]any{ParamPH: 7.0}))

	otherTenant := facts("t2", map[string]any{ParamPH: 8.0})
	tr.Observe(otherTenant)
	assert.Empty(t, otherTenant.PreviousValues)

	otherPond := facts("t1", map[string]any{ParamPH: 8.0})
	otherPond.PondID = "pond-2"
	tr.Observe(otherPond)
	assert.Empty(t, otherPond.PreviousValues)
	assert.Equal(t, 3, tr.Len())
}

func TestFactTracker_History(t *testing.T) {
	t.Parallel()

	tr := NewFactTracker()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var last *FactContext
	for i, v := range []float64{7.0, 7.1, 7.2, 7.3} {
		last = facts("t1", map[string]any{ParamPH: v, "label": "north"})
		last.Timestamp = base.Add(time.Duration(i) * time.Minute)
		tr.Observe(last)
	}

	assert.Equal(t, []float64{7.0, 7.1, 7.2}, tr.History(last, ParamPH), "history excludes the latest reading")
	assert.Nil(t, tr.History(last, "label"), "non-numeric values are not tracked")
	assert.Nil(t, tr.History(last, ParamAmmonia))
}

func TestFactTracker_Eviction(t *testing.T) {
	t.Parallel()

	tr := NewFactTracker()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	observe := func(v float64, ts time.Time) *FactContext {
		fc := facts("t1", map[string]any{ParamTemperature: v})
		fc.Timestamp = ts
		tr.Observe(fc)
		return fc
	}

	observe(20, base)
	observe(21, base.Add(time.Hour))
	fc := observe(22, base.Add(maxSampleAge+30*time.Minute))
	assert.Equal(t, []float64{21}, tr.History(fc, ParamTemperature), "samples older than the max age are dropped")

	for i := range maxSamplesPerSeries + 10 {
		fc = observe(float64(i), base.Add(48*time.Hour+time.Duration(i)*time.Second))
	}
	assert.Len(t, tr.History(fc, ParamTemperature), maxSamplesPerSeries-1)
}

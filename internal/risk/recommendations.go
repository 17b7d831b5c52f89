package risk

// Factor levels above which a targeted recommendation is added.
const (
	frequencyTrigger = 70
	trendTrigger     = 75
	impactTrigger    = 80
)

func recommendations(t Thresholds, total float64, values map[string]float64) []string {
	var recs []string
	switch {
	case total >= t.Critical:
		recs = append(recs,
			"Immediate action required: dispatch on-site staff and start emergency aeration or water exchange",
			"Page the on-call farm manager")
	case total >= t.High:
		recs = append(recs, "Escalate to the farm manager and verify sensor readings on site within the hour")
	case total >= t.Medium:
		recs = append(recs, "Monitor closely and schedule a manual water quality check")
	}

	if values[FactorFrequency] > frequencyTrigger {
		recs = append(recs, "This alert recurs often: review feeding, stocking density and equipment for a root cause")
	}
	if values[FactorTrend] > trendTrigger {
		recs = append(recs, "Readings are rising sharply: prepare corrective action before the threshold is exceeded further")
	}
	if values[FactorImpact] > impactTrigger {
		recs = append(recs, "High business impact: inform stakeholders and consider moving stock")
	}
	return recs
}

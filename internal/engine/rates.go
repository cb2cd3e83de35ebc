package engine

import (
	"strings"

	"github.com/miradorstack/mirador-regress/internal/models"
)

// AnalyzeRates partitions the active population into new, severe new and
// rate-regressed events. Rates are fractions; every threshold is strict.
func AnalyzeRates(
	active map[string]*models.EventRecord,
	baseline map[string]models.Stats,
	window models.TimeWindow,
	criticalTypes []string,
	s models.RegressionSettings,
) models.RateRegression {
	rr := models.RateRegression{
		NewEvents:         make(map[string]*models.EventRecord),
		CriticalNewEvents: make(map[string]*models.EventRecord),
		Exceeded:          make(map[string]models.RegressionEvent),
		Baselines:         make(map[string]models.Stats),
	}

	for id, e := range active {
		base, inBaseline := baseline[id]
		if inBaseline {
			rr.Baselines[id] = base
		}
		activeRate, activeDefined := e.Stats.Rate()

		if isNewEvent(e, window, base, inBaseline) {
			rr.NewEvents[id] = e
			rateOK := !activeDefined || activeRate > s.MinErrorRateThreshold
			if criticalRank(e, criticalTypes) > 0 || (e.Stats.Hits > s.MinVolumeThreshold && rateOK) {
				rr.CriticalNewEvents[id] = e
			}
			continue
		}

		if e.Stats.Hits <= s.MinVolumeThreshold || !activeDefined {
			continue
		}
		baseRate, baseDefined := base.Rate()
		if !baseDefined || activeRate <= s.MinErrorRateThreshold {
			continue
		}
		delta := activeRate - baseRate
		if delta <= s.RegressionDelta {
			continue
		}
		rr.Exceeded[id] = models.RegressionEvent{
			Event:        e,
			ActiveRate:   activeRate,
			BaselineRate: baseRate,
			RateDelta:    delta,
			Baseline:     base,
			Critical:     delta > s.CriticalRegressionDelta,
		}
	}
	return rr
}

// isNewEvent treats an event as new when it was first seen inside the active
// window or the baseline never saw it.
func isNewEvent(e *models.EventRecord, window models.TimeWindow, base models.Stats, inBaseline bool) bool {
	if !e.FirstSeen.IsZero() && !window.Start.IsZero() && !e.FirstSeen.Before(window.Start) {
		return true
	}
	return !inBaseline || (base.Hits == 0 && base.Invocations == 0)
}

// criticalRank scores an event against the ordered critical type list: the
// first entry ranks highest, zero means not critical.
func criticalRank(e *models.EventRecord, criticalTypes []string) int {
	for i, t := range criticalTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.EqualFold(t, e.Name) || strings.EqualFold(t, e.Type) {
			return len(criticalTypes) - i
		}
	}
	return 0
}

package engine

import (
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

// SliceThreshold is the span above which graph fetches are split per day.
const SliceThreshold = 48 * time.Hour

// Slice is one sub-range of a graph fetch. Cacheable slices cover a whole
// UTC day strictly inside the requested span and are immutable.
type Slice struct {
	From      time.Time
	To        time.Time
	Cacheable bool
}

// PlanSlices splits [from, to) at UTC midnights when dynamic slicing is on
// and the span exceeds SliceThreshold.
func PlanSlices(from, to time.Time, dynamic bool) []Slice {
	if !to.After(from) {
		return nil
	}
	if !dynamic || to.Sub(from) <= SliceThreshold {
		return []Slice{{From: from, To: to}}
	}

	var slices []Slice
	cursor := from
	for cursor.Before(to) {
		next := utils.StartOfDayUTC(cursor).Add(24 * time.Hour)
		if next.After(to) {
			next = to
		}
		slices = append(slices, Slice{From: cursor, To: next})
		cursor = next
	}
	for i := 1; i < len(slices)-1; i++ {
		slices[i].Cacheable = true
	}
	return slices
}

// ResolutionFor picks the graph bucket width for a span.
func ResolutionFor(span time.Duration) models.Resolution {
	switch {
	case span > 7*24*time.Hour:
		return models.ResolutionEightHours
	case span > 24*time.Hour:
		return models.ResolutionHour
	case span > 3*time.Hour:
		return models.ResolutionFiveMinutes
	default:
		return models.ResolutionMinute
	}
}

var resolutionSteps = []models.Resolution{
	models.ResolutionMinute,
	models.ResolutionFiveMinutes,
	models.ResolutionHour,
	models.ResolutionEightHours,
}

// ResolutionForPoints picks the finest resolution that keeps the span within
// points buckets, falling back to ResolutionFor when no hint is given.
func ResolutionForPoints(span time.Duration, points int) models.Resolution {
	if points <= 0 {
		return ResolutionFor(span)
	}
	for _, step := range resolutionSteps {
		if span/time.Duration(step) <= time.Duration(points) {
			return step
		}
	}
	return models.ResolutionEightHours
}

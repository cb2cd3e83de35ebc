package models

import (
	"fmt"
	"strings"
	"time"
)

// VolumeType selects which counters a graph or volume request returns.
type VolumeType string

const (
	VolumeHits        VolumeType = "hits"
	VolumeInvocations VolumeType = "invocations"
	VolumeAll         VolumeType = "all"
)

// ParseVolumeType maps user input onto a VolumeType, defaulting to hits.
func ParseVolumeType(value string) (VolumeType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "hits":
		return VolumeHits, nil
	case "invocations":
		return VolumeInvocations, nil
	case "all":
		return VolumeAll, nil
	default:
		return "", fmt.Errorf("unknown volume type %q", value)
	}
}

// Resolution is the bucket width of graph points.
type Resolution time.Duration

const (
	ResolutionMinute      = Resolution(time.Minute)
	ResolutionFiveMinutes = Resolution(5 * time.Minute)
	ResolutionHour        = Resolution(time.Hour)
	ResolutionEightHours  = Resolution(8 * time.Hour)
)

// String renders the resolution the way the backend expects it (e.g. "5m").
func (r Resolution) String() string {
	d := time.Duration(r)
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
}

// Contributor is one event's share of a graph point.
type Contributor struct {
	ID          string `json:"id"`
	Hits        int64  `json:"hits"`
	Invocations int64  `json:"invocations"`
}

// GraphPoint is a single bucket of a time-series graph.
type GraphPoint struct {
	Time         int64         `json:"time"`
	Contributors []Contributor `json:"contributors,omitempty"`
}

// Value aggregates contributors for the requested volume type. VolumeAll
// reports hits.
func (p GraphPoint) Value(volume VolumeType) int64 {
	var total int64
	for _, c := range p.Contributors {
		if volume == VolumeInvocations {
			total += c.Invocations
		} else {
			total += c.Hits
		}
	}
	return total
}

// Graph is a raw time-series returned by the backend for one request.
type Graph struct {
	ID     string       `json:"id"`
	Type   string       `json:"type"`
	Points []GraphPoint `json:"points"`
}

// GraphSeries is a merged graph whose points are strictly increasing by time.
// FailedSlices counts slices that errored and were merged as empty.
type GraphSeries struct {
	ID           string
	Type         string
	Points       []GraphPoint
	FailedSlices int
}

// Empty reports whether the series carries no data.
func (s GraphSeries) Empty() bool {
	return len(s.Points) == 0
}

// Totals sums hits and invocations per contributor across the series.
func (s GraphSeries) Totals() map[string]Stats {
	totals := make(map[string]Stats)
	for _, point := range s.Points {
		for _, c := range point.Contributors {
			st := totals[c.ID]
			st.Hits += c.Hits
			st.Invocations += c.Invocations
			totals[c.ID] = st
		}
	}
	return totals
}

// Values projects the series onto (time, value) pairs.
func (s GraphSeries) Values(volume VolumeType) []SeriesValue {
	values := make([]SeriesValue, 0, len(s.Points))
	for _, point := range s.Points {
		values = append(values, SeriesValue{Time: point.Time, Value: point.Value(volume)})
	}
	return values
}

// SeriesValue is one aggregated sample of a graph.
type SeriesValue struct {
	Time  int64
	Value int64
}

// GraphRequest describes a graph fetch against the backend.
type GraphRequest struct {
	ServiceID   string
	ViewID      string
	From        time.Time
	To          time.Time
	Volume      VolumeType
	Resolution  Resolution
	Apps        []string
	Deployments []string
	Servers     []string
}

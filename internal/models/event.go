package models

import (
	"strings"
	"time"
)

// Event types reported by the APM backend.
const (
	EventLoggedError        = "Logged Error"
	EventLoggedWarning      = "Logged Warning"
	EventCaughtException    = "Caught Exception"
	EventUncaughtException  = "Uncaught Exception"
	EventSwallowedException = "Swallowed Exception"
	EventTimer              = "Timer"
	EventHTTPError          = "HTTP Error"
)

// eventTypeRank orders types by how loudly they fail; higher is worse.
var eventTypeRank = map[string]int{
	EventUncaughtException:  7,
	EventCaughtException:    6,
	EventSwallowedException: 5,
	EventHTTPError:          4,
	EventLoggedError:        3,
	EventLoggedWarning:      2,
	EventTimer:              1,
}

// EventTypeRank returns the severity rank of an event type, zero when unknown.
func EventTypeRank(eventType string) int {
	for name, rank := range eventTypeRank {
		if strings.EqualFold(name, eventType) {
			return rank
		}
	}
	return 0
}

// Location is a class/method code location.
type Location struct {
	Class  string `json:"class"`
	Method string `json:"method"`
}

// Stats holds occurrence counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Invocations int64 `json:"invocations"`
}

// Rate returns hits/invocations and false when the rate is undefined.
func (s Stats) Rate() (float64, bool) {
	if s.Invocations <= 0 {
		return 0, false
	}
	return float64(s.Hits) / float64(s.Invocations), true
}

// EventRecord is a telemetry event as fetched for one query. Stats are
// accumulated in place from graph contributors.
type EventRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Location   Location  `json:"location"`
	EntryPoint Location  `json:"entry_point"`
	Labels     []string  `json:"labels,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	Stats      Stats     `json:"stats"`
	SimilarIDs []string  `json:"similar_ids,omitempty"`
}

// IsUncaught reports whether the event is an uncaught exception.
func (e *EventRecord) IsUncaught() bool {
	return strings.EqualFold(e.Type, EventUncaughtException)
}

// IsTimer reports whether the event is a timer breach.
func (e *EventRecord) IsTimer() bool {
	return strings.EqualFold(e.Type, EventTimer)
}

// Clone returns a deep copy so callers can mutate stats safely.
func (e *EventRecord) Clone() *EventRecord {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Labels = append([]string(nil), e.Labels...)
	cp.SimilarIDs = append([]string(nil), e.SimilarIDs...)
	return &cp
}

// EventVolume is the slim per-event counter payload of the volume endpoint.
type EventVolume struct {
	ID    string `json:"id"`
	Stats Stats  `json:"stats"`
}

// EventRequest bounds an event list or volume fetch.
type EventRequest struct {
	ServiceID   string
	ViewID      string
	Window      TimeWindow
	Volume      VolumeType
	Apps        []string
	Deployments []string
	Servers     []string
}

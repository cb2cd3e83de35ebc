package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

// CeilMinutes converts a span into whole minutes, rounding partial minutes up.
func CeilMinutes(start, end time.Time) int {
	return int(math.Ceil(DurationMinutes(start, end)))
}

// StartOfDayUTC truncates t to midnight UTC.
func StartOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseTimeFilter parses "last-<n><m|h|d|w>", a bare Go duration such as
// "90m", or an explicit "<RFC3339>/<RFC3339>" interval. Relative forms
// normalise to one duration, so "last-1d" and "last-24h" are equal.
func ParseTimeFilter(expr string) (models.TimeFilter, error) {
	value := strings.TrimSpace(expr)
	if value == "" {
		return models.TimeFilter{}, fmt.Errorf("empty time filter")
	}

	if from, to, ok := strings.Cut(value, "/"); ok {
		start, err := ParseRFC3339(strings.TrimSpace(from))
		if err != nil {
			return models.TimeFilter{}, fmt.Errorf("time filter from: %w", err)
		}
		end, err := ParseRFC3339(strings.TrimSpace(to))
		if err != nil {
			return models.TimeFilter{}, fmt.Errorf("time filter to: %w", err)
		}
		if !end.After(start) {
			return models.TimeFilter{}, fmt.Errorf("time filter %q ends before it starts", expr)
		}
		return models.TimeFilter{From: start.UTC(), To: end.UTC()}, nil
	}

	lowered := strings.ToLower(value)
	lowered = strings.TrimPrefix(lowered, "last-")
	lowered = strings.TrimPrefix(lowered, "last")
	d, err := parseRelative(lowered)
	if err != nil {
		return models.TimeFilter{}, fmt.Errorf("time filter %q: %w", expr, err)
	}
	if d <= 0 {
		return models.TimeFilter{}, fmt.Errorf("time filter %q must be positive", expr)
	}
	return models.TimeFilter{Relative: d}, nil
}

func parseRelative(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("missing duration")
	}
	unit := value[len(value)-1]
	switch unit {
	case 'd', 'w':
		n, err := strconv.Atoi(value[:len(value)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid count: %w", err)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			return time.Duration(n) * 7 * day, nil
		}
		return time.Duration(n) * day, nil
	default:
		return time.ParseDuration(value)
	}
}

package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

const minutesPerDay = 24 * 60

// ExpandBaseline sizes the baseline window. The minimum wins when it is more
// than factor times the active span; otherwise the baseline is the active
// span scaled by factor.
func ExpandBaseline(activeMinutes, minBaseline int, factor float64) int {
	if activeMinutes <= 0 {
		return minBaseline
	}
	if float64(minBaseline)/float64(activeMinutes) > factor {
		return minBaseline
	}
	return int(math.Ceil(float64(activeMinutes) * factor))
}

// WindowResolver turns a time filter and optional deployment scope into the
// active and baseline windows.
type WindowResolver struct {
	deps Deps
}

// NewWindowResolver builds a resolver.
func NewWindowResolver(deps Deps) *WindowResolver {
	return &WindowResolver{deps: deps.withDefaults()}
}

// Resolve returns the input with its windows filled in. When the input names
// deployments and none exist, Window.DeploymentFound is false and callers must
// stop.
func (r *WindowResolver) Resolve(ctx context.Context, in models.RegressionInput) (models.ResolvedWindow, error) {
	window, err := r.deps.Cache.Windows.Get(ctx, cache.NewWindowKey(in), func(ctx context.Context) (*models.RegressionWindow, error) {
		return r.compute(ctx, in)
	})
	if err != nil {
		return models.ResolvedWindow{}, err
	}
	if window.DeploymentFound {
		in.ActiveWindow = window.Active
		in.BaselineMinutes = window.Baseline.DurationMinutes
	}
	return models.ResolvedWindow{Input: in, Window: *window}, nil
}

func (r *WindowResolver) compute(ctx context.Context, in models.RegressionInput) (*models.RegressionWindow, error) {
	now := r.deps.Now().UTC()
	from, to := in.TimeFilter.Bounds(now)
	if !to.After(from) {
		return nil, fmt.Errorf("resolve window: empty time range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	if len(in.Deployments) > 0 {
		deployments, err := r.deps.Backend.FetchDeployments(ctx, in.ServiceID, false)
		if err != nil {
			return nil, fmt.Errorf("resolve window: %w", err)
		}
		matched := matchDeployments(deployments, in.Deployments)
		if len(matched) == 0 {
			return &models.RegressionWindow{DeploymentFound: false}, nil
		}
		from, to = deploymentBounds(matched, from, to, now)
	}

	activeMinutes := utils.CeilMinutes(from, to)
	baselineMinutes := ExpandBaseline(activeMinutes, in.Settings.MinBaselineTimespan, in.Settings.BaselineTimespanFactor)
	if in.Settings.ApplySeasonality && baselineMinutes%minutesPerDay != 0 {
		baselineMinutes = (baselineMinutes/minutesPerDay + 1) * minutesPerDay
	}

	return &models.RegressionWindow{
		Active: models.TimeWindow{Start: from, DurationMinutes: activeMinutes},
		Baseline: models.TimeWindow{
			Start:           from.Add(-time.Duration(baselineMinutes) * time.Minute),
			DurationMinutes: baselineMinutes,
		},
		DeploymentFound: true,
	}, nil
}

func matchDeployments(all []models.Deployment, names []string) []models.Deployment {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			wanted[n] = struct{}{}
		}
	}
	var matched []models.Deployment
	for _, d := range all {
		if _, ok := wanted[strings.ToLower(strings.TrimSpace(d.Name))]; ok {
			matched = append(matched, d)
		}
	}
	return matched
}

// deploymentBounds spans the matched deployments. Active deployments run
// until now. Missing timestamps fall back to the filter bounds.
func deploymentBounds(matched []models.Deployment, from, to, now time.Time) (time.Time, time.Time) {
	var start, end time.Time
	for _, d := range matched {
		if !d.FirstSeen.IsZero() && (start.IsZero() || d.FirstSeen.Before(start)) {
			start = d.FirstSeen
		}
		last := d.LastSeen
		if d.Active {
			last = now
		}
		if !last.IsZero() && last.After(end) {
			end = last
		}
	}
	if start.IsZero() {
		start = from
	}
	if end.IsZero() {
		end = to
	}
	if !end.After(start) {
		return from, to
	}
	return start.UTC(), end.UTC()
}

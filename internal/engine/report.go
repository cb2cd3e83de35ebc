package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/stats"
	"github.com/miradorstack/mirador-regress/internal/utils"
	"github.com/miradorstack/mirador-regress/internal/workers"
)

// KeyKind selects what a report row stands for.
type KeyKind string

const (
	KeyApplications KeyKind = "applications"
	KeyDeployments  KeyKind = "deployments"
	KeyTiers        KeyKind = "tiers"
)

// ParseKeyKind maps user input onto a KeyKind.
func ParseKeyKind(value string) (KeyKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "apps", "applications":
		return KeyApplications, nil
	case "deployments":
		return KeyDeployments, nil
	case "tiers":
		return KeyTiers, nil
	default:
		return "", fmt.Errorf("unknown report key kind %q", value)
	}
}

// ReportRequest describes a report over many keys sharing one base query.
type ReportRequest struct {
	Base models.RegressionInput
	Kind KeyKind
	// Keys overrides key discovery when set.
	Keys []string
	// SkipSlowdowns disables the per-key transaction analysis.
	SkipSlowdowns bool
}

// ReportRow is the outcome for one key. Empty rows carry no score.
type ReportRow struct {
	Key       string
	Empty     bool
	Reason    string
	Score     float64
	Counts    models.RegressionCounts
	Slowdowns map[models.PerformanceState]int
}

// Report is an ordered set of rows.
type Report struct {
	RunID       string
	ServiceID   string
	Kind        KeyKind
	Rows        []ReportRow
	GeneratedAt time.Time
}

// Reporter fans report keys out on the function pool.
type Reporter struct {
	deps     Deps
	analyzer *Analyzer
}

// NewReporter builds a reporter around analyzer.
func NewReporter(deps Deps, analyzer *Analyzer) *Reporter {
	deps = deps.withDefaults()
	if analyzer == nil {
		analyzer = NewAnalyzer(deps)
	}
	return &Reporter{deps: deps, analyzer: analyzer}
}

// Score subtracts weighted counts from 100 and clamps to [0, 100].
func Score(w models.ScoringWeights, counts models.RegressionCounts, slowdowns map[models.PerformanceState]int) float64 {
	penalty := w.NewEvent*float64(counts.NewIssues) +
		w.SevereNewEvent*float64(counts.SevereNewIssues) +
		w.Regression*float64(counts.Regressions) +
		w.SevereRegression*float64(counts.SevereRegressions) +
		w.Slowdown*float64(slowdowns[models.PerformanceSlowing]) +
		w.CriticalSlowdown*float64(slowdowns[models.PerformanceCritical])
	return stats.Clamp(100-penalty, 0, 100)
}

// Report computes one row per key. Key failures degrade to empty rows;
// configuration errors abort the whole report.
func (r *Reporter) Report(ctx context.Context, req ReportRequest) (rep *Report, err error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx, span := r.deps.Tracer.Start(ctx, "engine.report", trace.WithAttributes(
		attribute.String("service.id", req.Base.ServiceID),
		attribute.String("report.kind", string(req.Kind)),
		attribute.String("report.run_id", runID),
	))
	defer func() { finishSpan(span, "report", start, rep != nil && len(rep.Rows) == 0, err) }()

	if req.Kind == "" {
		req.Kind = KeyApplications
	}
	weights, err := r.deps.Settings.Scoring(ctx, req.Base.ServiceID)
	if err != nil {
		return nil, err
	}
	keys, err := r.resolveKeys(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("report.keys", len(keys)))

	tasks := make([]workers.Task[ReportRow], 0, len(keys))
	for _, key := range keys {
		key := key
		tasks = append(tasks, func(ctx context.Context) (ReportRow, error) {
			return r.row(ctx, req, key, weights)
		})
	}
	results := workers.Collect(ctx, r.deps.functionPool(), tasks)

	rows := make([]ReportRow, 0, len(results))
	for _, res := range results {
		key := keys[res.Index]
		if res.Err != nil {
			if utils.IsConfigError(res.Err) {
				return nil, res.Err
			}
			r.deps.Logger.Warn("report key failed",
				slog.String("run_id", runID),
				slog.String("key", key),
				slog.Any("error", res.Err))
			rows = append(rows, ReportRow{Key: key, Empty: true, Reason: res.Err.Error()})
			continue
		}
		rows = append(rows, res.Value)
	}
	sortRows(rows)

	return &Report{
		RunID:       runID,
		ServiceID:   req.Base.ServiceID,
		Kind:        req.Kind,
		Rows:        rows,
		GeneratedAt: r.deps.Now().UTC(),
	}, nil
}

func (r *Reporter) row(ctx context.Context, req ReportRequest, key string, weights models.ScoringWeights) (ReportRow, error) {
	in := scopeInput(req.Base, req.Kind, key)

	reg, err := r.analyzer.Regression(ctx, in)
	if err != nil {
		return ReportRow{}, err
	}
	if reg.Empty {
		return ReportRow{Key: key, Empty: true, Reason: reg.Reason}, nil
	}

	slowdowns := map[models.PerformanceState]int{}
	if !req.SkipSlowdowns {
		sd, err := r.analyzer.Slowdown(ctx, in)
		switch {
		case err != nil && utils.IsConfigError(err):
			return ReportRow{}, err
		case err != nil:
			r.deps.Logger.Warn("slowdown degraded to no data", slog.String("key", key), slog.Any("error", err))
		case !sd.Empty:
			for state, n := range sd.Counts {
				slowdowns[state] = n
			}
		}
	}

	return ReportRow{
		Key:       key,
		Score:     Score(weights, reg.Counts, slowdowns),
		Counts:    reg.Counts,
		Slowdowns: slowdowns,
	}, nil
}

// scopeInput narrows the base query to one report key.
func scopeInput(base models.RegressionInput, kind KeyKind, key string) models.RegressionInput {
	in := base
	switch kind {
	case KeyDeployments:
		in.Deployments = []string{key}
	case KeyTiers:
		in.Filter.Tiers = []string{key}
	default:
		in.Apps = []string{key}
	}
	return in
}

func (r *Reporter) resolveKeys(ctx context.Context, req ReportRequest) ([]string, error) {
	if len(req.Keys) > 0 {
		return uniqueSorted(req.Keys), nil
	}
	service := req.Base.ServiceID
	switch req.Kind {
	case KeyDeployments:
		deployments, err := r.deps.Backend.FetchDeployments(ctx, service, true)
		if err != nil {
			return nil, fmt.Errorf("report keys: %w", err)
		}
		names := make([]string, 0, len(deployments))
		for _, d := range deployments {
			names = append(names, d.Name)
		}
		return uniqueSorted(names), nil
	case KeyTiers:
		tiers, err := r.deps.Settings.Tiers(ctx, service)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(tiers))
		for name := range tiers {
			names = append(names, name)
		}
		return uniqueSorted(names), nil
	default:
		processes, err := r.deps.Backend.FetchProcesses(ctx, service)
		if err != nil {
			return nil, fmt.Errorf("report keys: %w", err)
		}
		names := make([]string, 0, len(processes))
		for _, p := range processes {
			names = append(names, p.AppName)
		}
		return uniqueSorted(names), nil
	}
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// sortRows orders scored rows by ascending score then key; empty rows go last.
func sortRows(rows []ReportRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Empty != b.Empty {
			return !a.Empty
		}
		if !a.Empty && a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.Key < b.Key
	})
}

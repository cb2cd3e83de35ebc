package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/metrics"
	"github.com/miradorstack/mirador-regress/internal/models"
)

// Empty-result reasons.
const (
	ReasonViewNotFound       = "view not found"
	ReasonDeploymentNotFound = "deployment not found"
	ReasonNoTransactions     = "no transactions"
)

// Analyzer runs regression and slowdown computations through the composite
// cache.
type Analyzer struct {
	deps    Deps
	windows *WindowResolver
	graphs  *GraphFetcher
	data    *DataFetcher
}

// NewAnalyzer wires an analyzer and its collaborators from deps.
func NewAnalyzer(deps Deps) *Analyzer {
	deps = deps.withDefaults()
	return &Analyzer{
		deps:    deps,
		windows: NewWindowResolver(deps),
		graphs:  NewGraphFetcher(deps),
		data:    NewDataFetcher(deps),
	}
}

// Graphs exposes the analyzer's graph fetcher.
func (a *Analyzer) Graphs() *GraphFetcher { return a.graphs }

// Windows exposes the analyzer's window resolver.
func (a *Analyzer) Windows() *WindowResolver { return a.windows }

// prepare loads service thresholds into in. Missing settings are fatal.
func (a *Analyzer) prepare(ctx context.Context, in models.RegressionInput) (models.RegressionInput, error) {
	if strings.TrimSpace(in.ServiceID) == "" {
		return in, fmt.Errorf("service id is required")
	}
	if a.deps.Settings == nil {
		return in, fmt.Errorf("settings source not configured")
	}
	settings, err := a.deps.Settings.Regression(ctx, in.ServiceID)
	if err != nil {
		return in, err
	}
	in.Settings = settings
	return in, nil
}

func (a *Analyzer) startSpan(ctx context.Context, op string, in models.RegressionInput) (context.Context, trace.Span) {
	return a.deps.Tracer.Start(ctx, "engine."+op, trace.WithAttributes(
		attribute.String("service.id", in.ServiceID),
		attribute.String("view", firstNonEmpty(in.ViewID, in.ViewName)),
		attribute.StringSlice("deployments", in.Deployments),
		attribute.StringSlice("apps", in.Apps),
	))
}

func finishSpan(span trace.Span, op string, start time.Time, empty bool, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case empty:
		outcome = metrics.OutcomeEmpty
	}
	metrics.ObserveComputation(op, time.Since(start), outcome)
	span.End()
}

// resolveView fills ViewID from ViewName. A nil view means not found.
func (a *Analyzer) resolveView(ctx context.Context, in models.RegressionInput) (models.RegressionInput, bool, error) {
	if in.ViewID != "" {
		return in, true, nil
	}
	view, err := a.deps.Backend.FetchView(ctx, in.ServiceID, in.ViewName)
	if err != nil {
		return in, false, fmt.Errorf("fetch view: %w", err)
	}
	if view == nil {
		return in, false, nil
	}
	in.ViewID = view.ID
	if in.ViewName == "" {
		in.ViewName = view.Name
	}
	return in, true, nil
}

// Regression classifies the events of in against their baseline.
func (a *Analyzer) Regression(ctx context.Context, in models.RegressionInput) (out *models.RegressionOutput, err error) {
	start := time.Now()
	ctx, span := a.startSpan(ctx, "regression", in)
	defer func() { finishSpan(span, "regression", start, out != nil && out.Empty, err) }()

	in, err = a.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	return a.deps.Cache.Regressions.Get(ctx, cache.NewRegressionKey(in), func(ctx context.Context) (*models.RegressionOutput, error) {
		return a.computeRegression(ctx, in)
	})
}

func (a *Analyzer) computeRegression(ctx context.Context, in models.RegressionInput) (*models.RegressionOutput, error) {
	in, found, err := a.resolveView(ctx, in)
	if err != nil {
		return nil, err
	}
	if !found {
		return models.EmptyRegression(ReasonViewNotFound), nil
	}

	resolved, err := a.windows.Resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if !resolved.Window.DeploymentFound {
		return models.EmptyRegression(ReasonDeploymentNotFound), nil
	}
	in, window := resolved.Input, resolved.Window

	filter, err := a.eventFilter(ctx, in)
	if err != nil {
		return nil, err
	}

	var (
		events        map[string]*models.EventRecord
		activeGraph   *models.GraphSeries
		baselineGraph *models.GraphSeries
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = a.data.EventMap(gctx, a.eventRequest(in, window.Active))
		return err
	})
	g.Go(func() error {
		var err error
		activeGraph, err = a.graphs.Fetch(gctx, a.graphRequest(in, window.Active))
		return err
	})
	g.Go(func() error {
		var err error
		baselineGraph, err = a.graphs.Fetch(gctx, a.graphRequest(in, window.Baseline))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	events = filter.Apply(events)
	if !AccumulateContributors(events, activeGraph) && len(events) > 0 {
		volumes, err := a.data.VolumeStats(ctx, a.eventRequest(in, window.Active))
		if err != nil {
			return nil, err
		}
		for id, e := range events {
			e.Stats = volumes[id]
		}
	}

	baseline := baselineGraph.Totals()
	if len(baseline) == 0 && len(events) > 0 {
		if baseline, err = a.data.VolumeStats(ctx, a.eventRequest(in, window.Baseline)); err != nil {
			return nil, err
		}
	}

	criticalTypes := in.EffectiveCriticalTypes()
	rr := AnalyzeRates(events, baseline, window.Active, criticalTypes, in.Settings)
	classified := Classify(rr, criticalTypes, in.Settings)

	a.deps.Logger.Debug("regression computed",
		slog.String("service", in.ServiceID),
		slog.String("view", in.ViewID),
		slog.Int("events", len(events)),
		slog.Int("classified", len(classified)),
		slog.Int("failed_slices", activeGraph.FailedSlices+baselineGraph.FailedSlices))

	return &models.RegressionOutput{
		Input:         in,
		Window:        window,
		Counts:        CountBuckets(classified),
		Events:        classified,
		ActiveGraph:   *activeGraph,
		BaselineGraph: *baselineGraph,
		EventMap:      events,
		ComputedAt:    a.deps.Now().UTC(),
	}, nil
}

// Slowdown classifies the transactions of in against their baseline.
func (a *Analyzer) Slowdown(ctx context.Context, in models.RegressionInput) (out *models.SlowdownOutput, err error) {
	start := time.Now()
	ctx, span := a.startSpan(ctx, "slowdown", in)
	defer func() { finishSpan(span, "slowdown", start, out != nil && out.Empty, err) }()

	in, err = a.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	settings, err := a.deps.Settings.Slowdown(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	return a.deps.Cache.Slowdowns.Get(ctx, cache.NewSlowdownKey(in, settings), func(ctx context.Context) (*models.SlowdownOutput, error) {
		return a.computeSlowdown(ctx, in, settings)
	})
}

func (a *Analyzer) computeSlowdown(ctx context.Context, in models.RegressionInput, settings models.SlowdownSettings) (*models.SlowdownOutput, error) {
	in, found, err := a.resolveView(ctx, in)
	if err != nil {
		return nil, err
	}
	if !found {
		return &models.SlowdownOutput{Empty: true, Reason: ReasonViewNotFound}, nil
	}
	resolved, err := a.windows.Resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if !resolved.Window.DeploymentFound {
		return &models.SlowdownOutput{Empty: true, Reason: ReasonDeploymentNotFound}, nil
	}
	in, window := resolved.Input, resolved.Window
	filter, err := a.eventFilter(ctx, in)
	if err != nil {
		return nil, err
	}

	var (
		active   map[models.TransactionKey]*models.TransactionRecord
		baseline map[models.TransactionKey]*models.TransactionRecord
		events   map[string]*models.EventRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = a.data.TransactionMap(gctx, a.transactionRequest(in, window.Active))
		return err
	})
	g.Go(func() error {
		var err error
		baseline, err = a.data.TransactionMap(gctx, a.transactionRequest(in, window.Baseline))
		return err
	})
	g.Go(func() error {
		var err error
		events, err = a.data.EventMap(gctx, a.eventRequest(in, window.Active))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	active = filter.ApplyTransactions(active)
	if len(active) == 0 {
		return &models.SlowdownOutput{Empty: true, Reason: ReasonNoTransactions}, nil
	}
	baseline = filter.ApplyTransactions(baseline)

	JoinEvents(active, filter.Apply(events))
	out := ClassifySlowdowns(active, baseline, settings)
	return &out, nil
}

// eventFilter compiles the query filter, loading tier prefixes only when
// tiers are named.
func (a *Analyzer) eventFilter(ctx context.Context, in models.RegressionInput) (*EventFilter, error) {
	var tiers map[string][]string
	if len(in.Filter.Tiers) > 0 {
		var err error
		if tiers, err = a.deps.Settings.Tiers(ctx, in.ServiceID); err != nil {
			return nil, err
		}
	}
	return NewEventFilter(in.Filter, tiers), nil
}

func (a *Analyzer) eventRequest(in models.RegressionInput, window models.TimeWindow) models.EventRequest {
	return models.EventRequest{
		ServiceID:   in.ServiceID,
		ViewID:      in.ViewID,
		Window:      window,
		Volume:      models.VolumeAll,
		Apps:        in.Apps,
		Deployments: in.Deployments,
		Servers:     in.Servers,
	}
}

func (a *Analyzer) graphRequest(in models.RegressionInput, window models.TimeWindow) models.GraphRequest {
	span := window.End().Sub(window.Start)
	return models.GraphRequest{
		ServiceID:   in.ServiceID,
		ViewID:      in.ViewID,
		From:        window.Start,
		To:          window.End(),
		Volume:      models.VolumeAll,
		Resolution:  ResolutionForPoints(span, in.PointsHint),
		Apps:        in.Apps,
		Deployments: in.Deployments,
		Servers:     in.Servers,
	}
}

func (a *Analyzer) transactionRequest(in models.RegressionInput, window models.TimeWindow) models.TransactionRequest {
	return models.TransactionRequest{
		ServiceID:   in.ServiceID,
		ViewID:      in.ViewID,
		Window:      window,
		Resolution:  ResolutionFor(window.End().Sub(window.Start)),
		Apps:        in.Apps,
		Deployments: in.Deployments,
		Servers:     in.Servers,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

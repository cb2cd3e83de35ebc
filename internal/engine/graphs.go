package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/metrics"
	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/workers"
)

// MergeGraphs unions graph points by timestamp, later graphs winning on
// duplicates, and returns them in ascending time order. Metadata comes from
// the first non-nil graph.
func MergeGraphs(graphs ...*models.Graph) *models.GraphSeries {
	series := &models.GraphSeries{}
	byTime := make(map[int64]models.GraphPoint)
	metaSet := false
	for _, g := range graphs {
		if g == nil {
			continue
		}
		if !metaSet {
			series.ID, series.Type = g.ID, g.Type
			metaSet = true
		}
		for _, p := range g.Points {
			byTime[p.Time] = p
		}
	}
	if len(byTime) == 0 {
		return series
	}
	series.Points = make([]models.GraphPoint, 0, len(byTime))
	for _, p := range byTime {
		series.Points = append(series.Points, p)
	}
	sort.Slice(series.Points, func(i, j int) bool { return series.Points[i].Time < series.Points[j].Time })
	return series
}

// GraphFetcher loads merged graphs, slicing long spans across the query pool.
type GraphFetcher struct {
	deps Deps
}

// NewGraphFetcher builds a fetcher.
func NewGraphFetcher(deps Deps) *GraphFetcher {
	return &GraphFetcher{deps: deps.withDefaults()}
}

// Fetch returns the merged series for req. Slice failures never surface as
// errors; they are counted on the result.
func (f *GraphFetcher) Fetch(ctx context.Context, req models.GraphRequest) (*models.GraphSeries, error) {
	if req.Volume == "" {
		req.Volume = models.VolumeHits
	}
	if req.Resolution == 0 {
		req.Resolution = ResolutionFor(req.To.Sub(req.From))
	}
	return f.deps.Cache.LookupGraph(ctx, cache.NewGraphKey(req), func(ctx context.Context) (*models.GraphSeries, error) {
		return f.fetchSliced(ctx, req), nil
	})
}

type sliceResult struct {
	slice Slice
	graph *models.Graph
}

func (f *GraphFetcher) fetchSliced(ctx context.Context, req models.GraphRequest) *models.GraphSeries {
	slices := PlanSlices(req.From, req.To, f.deps.DynamicSlicing)
	tasks := make([]workers.Task[sliceResult], 0, len(slices))
	for _, s := range slices {
		s := s
		tasks = append(tasks, func(ctx context.Context) (sliceResult, error) {
			sliceReq := req
			sliceReq.From, sliceReq.To = s.From, s.To
			g, err := f.fetchSlice(ctx, sliceReq, s.Cacheable)
			return sliceResult{slice: s, graph: g}, err
		})
	}

	results := workers.Collect(ctx, f.deps.queryPool(), tasks)
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	failed := 0
	graphs := make([]*models.Graph, 0, len(results))
	for _, r := range results {
		s := slices[r.Index]
		if r.Err != nil {
			failed++
			metrics.SliceFailure()
			f.deps.Logger.Warn("graph slice failed",
				slog.String("service", req.ServiceID),
				slog.Time("from", s.From),
				slog.Time("to", s.To),
				slog.Any("error", r.Err))
			continue
		}
		if r.Value.graph == nil || len(r.Value.graph.Points) == 0 {
			f.deps.Logger.Debug("graph slice empty", slog.Time("from", s.From), slog.Time("to", s.To))
			continue
		}
		graphs = append(graphs, r.Value.graph)
	}

	series := MergeGraphs(graphs...)
	series.FailedSlices = failed
	return series
}

// fetchSlice loads one slice. Cacheable slices go through the in-memory
// slice tier and the durable tier.
func (f *GraphFetcher) fetchSlice(ctx context.Context, req models.GraphRequest, cacheable bool) (*models.Graph, error) {
	if !cacheable {
		return f.deps.Backend.FetchGraph(ctx, req)
	}
	return f.deps.Cache.LookupSlice(ctx, cache.NewGraphKey(req), func(ctx context.Context) (*models.Graph, error) {
		durableKey := cache.DurableGraphKey(req)
		if g, ok := f.deps.Cache.LoadDurable(ctx, durableKey); ok {
			return g, nil
		}
		g, err := f.deps.Backend.FetchGraph(ctx, req)
		if err != nil {
			return nil, err
		}
		f.deps.Cache.StoreDurable(ctx, durableKey, g)
		return g, nil
	})
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-regress/internal/metrics"
	"github.com/miradorstack/mirador-regress/internal/models"
)

// Tier names used in metrics and wrapped loader errors.
const (
	TierEvents      = "events"
	TierSlices      = "slices"
	TierGraphs      = "graphs"
	TierWindows     = "windows"
	TierRegressions = "regressions"
	TierSlowdowns   = "slowdowns"
)

// DefaultTTL bounds in-memory retention when Options.TTL is unset. Results
// are short-lived: new telemetry keeps arriving for the active window.
const DefaultTTL = time.Minute

// Options sizes the composite cache.
type Options struct {
	Size       int
	TTL        time.Duration
	Durable    Provider
	DurableTTL time.Duration
	Logger     *slog.Logger
}

// Composite holds every memo tier plus the optional durable graph tier. It
// is the only mutable state shared between concurrent computations.
type Composite struct {
	Events      *Memo[EventsKey, []*models.EventRecord]
	Slices      *Memo[GraphKey, *models.Graph]
	Graphs      *Memo[GraphKey, *models.GraphSeries]
	Windows     *Memo[WindowKey, *models.RegressionWindow]
	Regressions *Memo[RegressionKey, *models.RegressionOutput]
	Slowdowns   *Memo[SlowdownKey, *models.SlowdownOutput]

	durable    Provider
	durableTTL time.Duration
	logger     *slog.Logger
}

// NewComposite wires the tiers. A nil durable provider disables the tier.
func NewComposite(opts Options) *Composite {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	durable := opts.Durable
	if durable == nil {
		durable = NoopProvider{}
	}
	durableTTL := opts.DurableTTL
	if durableTTL <= 0 {
		durableTTL = 7 * 24 * time.Hour
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Composite{
		Events: NewMemo[EventsKey, []*models.EventRecord](TierEvents, opts.Size, ttl, nil),
		Slices: NewMemo[GraphKey, *models.Graph](TierSlices, opts.Size, ttl, func(g *models.Graph) bool {
			return g == nil
		}),
		// A series missing failed slices is served once but never retained.
		Graphs: NewMemo[GraphKey, *models.GraphSeries](TierGraphs, opts.Size, ttl, func(g *models.GraphSeries) bool {
			return g == nil || g.FailedSlices > 0
		}),
		Windows: NewMemo[WindowKey, *models.RegressionWindow](TierWindows, opts.Size, ttl, func(w *models.RegressionWindow) bool {
			return w == nil || !w.DeploymentFound
		}),
		Regressions: NewMemo[RegressionKey, *models.RegressionOutput](TierRegressions, opts.Size, ttl, func(out *models.RegressionOutput) bool {
			return out == nil || out.Empty
		}),
		Slowdowns: NewMemo[SlowdownKey, *models.SlowdownOutput](TierSlowdowns, opts.Size, ttl, func(out *models.SlowdownOutput) bool {
			return out == nil || out.Empty
		}),
		durable:    durable,
		durableTTL: durableTTL,
		logger:     logger,
	}
}

// LookupGraph returns the merged graph for key. A hits request is answered
// by a retained all-volume entry when one exists.
func (c *Composite) LookupGraph(ctx context.Context, key GraphKey, load Loader[*models.GraphSeries]) (*models.GraphSeries, error) {
	return lookupSubsumed(ctx, c.Graphs, key, load)
}

// LookupSlice is LookupGraph for a single slice.
func (c *Composite) LookupSlice(ctx context.Context, key GraphKey, load Loader[*models.Graph]) (*models.Graph, error) {
	return lookupSubsumed(ctx, c.Slices, key, load)
}

func lookupSubsumed[V any](ctx context.Context, memo *Memo[GraphKey, V], key GraphKey, load Loader[V]) (V, error) {
	if key.Volume == models.VolumeHits {
		if v, ok := memo.Peek(key.WithVolume(models.VolumeAll)); ok {
			metrics.CacheLookup(memo.Tier(), metrics.CacheSubsumed)
			return v, nil
		}
	}
	return memo.Get(ctx, key, load)
}

// InvalidateGraph drops the merged graph and slice entries for key. An
// all-volume invalidation also drops the hits entry; the reverse does not
// hold.
func (c *Composite) InvalidateGraph(key GraphKey) {
	c.Graphs.Invalidate(key)
	c.Slices.Invalidate(key)
	if key.Volume == models.VolumeAll {
		hits := key.WithVolume(models.VolumeHits)
		c.Graphs.Invalidate(hits)
		c.Slices.Invalidate(hits)
	}
}

// LoadDurable reads a slice from the durable tier. Any failure is a miss.
func (c *Composite) LoadDurable(ctx context.Context, key string) (*models.Graph, bool) {
	raw, err := c.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			metrics.DurableError("get")
			c.logger.Warn("durable graph read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var graph models.Graph
	if err := json.Unmarshal(raw, &graph); err != nil {
		metrics.DurableError("decode")
		c.logger.Warn("durable graph decode failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return &graph, true
}

// StoreDurable writes a slice through to the durable tier, swallowing errors.
func (c *Composite) StoreDurable(ctx context.Context, key string, graph *models.Graph) {
	if graph == nil {
		return
	}
	raw, err := json.Marshal(graph)
	if err != nil {
		metrics.DurableError("encode")
		c.logger.Warn("durable graph encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.durable.Set(ctx, key, raw, c.durableTTL); err != nil {
		metrics.DurableError("set")
		c.logger.Warn("durable graph write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Purge drops every in-memory tier. The durable tier is left intact.
func (c *Composite) Purge() {
	c.Events.Purge()
	c.Slices.Purge()
	c.Graphs.Purge()
	c.Windows.Purge()
	c.Regressions.Purge()
	c.Slowdowns.Purge()
}

// Close releases the durable provider.
func (c *Composite) Close() error {
	return c.durable.Close()
}

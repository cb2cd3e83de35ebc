package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/workers"
)

// Backend is the APM data source consumed by the engine.
type Backend interface {
	FetchView(ctx context.Context, serviceID, name string) (*models.View, error)
	FetchEventList(ctx context.Context, req models.EventRequest) ([]*models.EventRecord, error)
	FetchEventVolume(ctx context.Context, req models.EventRequest) ([]models.EventVolume, error)
	FetchGraph(ctx context.Context, req models.GraphRequest) (*models.Graph, error)
	FetchTransactionGraphs(ctx context.Context, req models.TransactionRequest) ([]models.TransactionGraph, error)
	FetchDeployments(ctx context.Context, serviceID string, activeOnly bool) ([]models.Deployment, error)
	FetchProcesses(ctx context.Context, serviceID string) ([]models.Process, error)
}

// SettingsSource serves per-service thresholds. Missing settings must be
// reported as configuration errors.
type SettingsSource interface {
	Regression(ctx context.Context, serviceID string) (models.RegressionSettings, error)
	Slowdown(ctx context.Context, serviceID string) (models.SlowdownSettings, error)
	Scoring(ctx context.Context, serviceID string) (models.ScoringWeights, error)
	Tiers(ctx context.Context, serviceID string) (map[string][]string, error)
}

// Deps is the process-wide context every engine component is built from.
type Deps struct {
	Backend  Backend
	Settings SettingsSource
	Cache    *cache.Composite
	Pools    *workers.Registry
	// Target names the backend for pool partitioning.
	Target string
	// DynamicSlicing splits spans longer than SliceThreshold into UTC days.
	DynamicSlicing bool
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Now            func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("github.com/miradorstack/mirador-regress/internal/engine")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Cache == nil {
		d.Cache = cache.NewComposite(cache.Options{Logger: d.Logger})
	}
	if d.Pools == nil {
		d.Pools = workers.NewRegistry(workers.Sizes{})
	}
	if d.Target == "" {
		d.Target = "default"
	}
	return d
}

func (d Deps) queryPool() *workers.Pool {
	return d.Pools.Pool(d.Target, workers.KindQuery)
}

func (d Deps) functionPool() *workers.Pool {
	return d.Pools.Pool(d.Target, workers.KindFunction)
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
	"github.com/miradorstack/mirador-regress/internal/workers"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	views        map[string]*models.View
	events       func(req models.EventRequest) ([]*models.EventRecord, error)
	volumes      func(req models.EventRequest) ([]models.EventVolume, error)
	graph        func(req models.GraphRequest) (*models.Graph, error)
	transactions func(req models.TransactionRequest) ([]models.TransactionGraph, error)
	deployments  []models.Deployment
	processes    []models.Process
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (f *fakeBackend) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) FetchView(_ context.Context, _ string, name string) (*models.View, error) {
	f.record("view")
	return f.views[name], nil
}

func (f *fakeBackend) FetchEventList(_ context.Context, req models.EventRequest) ([]*models.EventRecord, error) {
	f.record("events")
	if f.events == nil {
		return nil, nil
	}
	return f.events(req)
}

func (f *fakeBackend) FetchEventVolume(_ context.Context, req models.EventRequest) ([]models.EventVolume, error) {
	f.record("volume")
	if f.volumes == nil {
		return nil, nil
	}
	return f.volumes(req)
}

func (f *fakeBackend) FetchGraph(_ context.Context, req models.GraphRequest) (*models.Graph, error) {
	f.record("graph")
	if f.graph == nil {
		return &models.Graph{ID: "g"}, nil
	}
	return f.graph(req)
}

func (f *fakeBackend) FetchTransactionGraphs(_ context.Context, req models.TransactionRequest) ([]models.TransactionGraph, error) {
	f.record("transactions")
	if f.transactions == nil {
		return nil, nil
	}
	return f.transactions(req)
}

func (f *fakeBackend) FetchDeployments(_ context.Context, _ string, activeOnly bool) ([]models.Deployment, error) {
	f.record("deployments")
	if !activeOnly {
		return f.deployments, nil
	}
	var out []models.Deployment
	for _, d := range f.deployments {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeBackend) FetchProcesses(context.Context, string) ([]models.Process, error) {
	f.record("processes")
	return f.processes, nil
}

type fakeSettings struct {
	regression *models.RegressionSettings
	slowdown   *models.SlowdownSettings
	scoring    *models.ScoringWeights
	tiers      map[string][]string
}

func defaultSettings() *fakeSettings {
	return &fakeSettings{
		regression: &models.RegressionSettings{
			MinBaselineTimespan:     1440,
			BaselineTimespanFactor:  4,
			MinVolumeThreshold:      100,
			MinErrorRateThreshold:   0.01,
			RegressionDelta:         0.05,
			CriticalRegressionDelta: 0.10,
		},
		slowdown: &models.SlowdownSettings{
			ActiveInvocationsThreshold:   10,
			BaselineInvocationsThreshold: 10,
			MinDeltaThreshold:            5,
			OverAvgSlowingPercentage:     20,
			OverAvgCriticalPercentage:    50,
			StdDevFactor:                 1,
		},
		scoring: &models.ScoringWeights{
			NewEvent:         1,
			SevereNewEvent:   5,
			Regression:       2,
			SevereRegression: 4,
			Slowdown:         1,
			CriticalSlowdown: 3,
		},
		tiers: map[string][]string{"Hibernate": {"org.hibernate"}},
	}
}

func missing(op string) error {
	return utils.ConfigError(op, "no settings")
}

func (s *fakeSettings) Regression(context.Context, string) (models.RegressionSettings, error) {
	if s.regression == nil {
		return models.RegressionSettings{}, missing("regression")
	}
	return *s.regression, nil
}

func (s *fakeSettings) Slowdown(context.Context, string) (models.SlowdownSettings, error) {
	if s.slowdown == nil {
		return models.SlowdownSettings{}, missing("slowdown")
	}
	return *s.slowdown, nil
}

func (s *fakeSettings) Scoring(context.Context, string) (models.ScoringWeights, error) {
	if s.scoring == nil {
		return models.ScoringWeights{}, missing("scoring")
	}
	return *s.scoring, nil
}

func (s *fakeSettings) Tiers(context.Context, string) (map[string][]string, error) {
	return s.tiers, nil
}

type memProvider struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMemProvider() *memProvider {
	return &memProvider{store: make(map[string][]byte)}
}

func (m *memProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *memProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return nil
}

func (m *memProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *memProvider) Close() error { return nil }

func (m *memProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps(backend Backend, settings SettingsSource) Deps {
	return testDepsWith(backend, settings, time.Minute, nil)
}

func testDepsWith(backend Backend, settings SettingsSource, ttl time.Duration, durable cache.Provider) Deps {
	logger := quietLogger()
	return Deps{
		Backend:  backend,
		Settings: settings,
		Cache: cache.NewComposite(cache.Options{
			Size:    128,
			TTL:     ttl,
			Durable: durable,
			Logger:  logger,
		}),
		Pools:          workers.NewRegistry(workers.Sizes{Query: 4, Function: 2}),
		Target:         "fake",
		DynamicSlicing: true,
		Logger:         logger,
		Now:            func() time.Time { return testNow },
	}
}

func lastHour() models.TimeFilter {
	return models.TimeFilter{Relative: time.Hour}
}

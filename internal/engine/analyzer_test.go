package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

// regressionBackend serves one new event and one regressed event with graph
// contributors in both windows.
func regressionBackend() *fakeBackend {
	backend := newFakeBackend()
	backend.views = map[string]*models.View{"All Events": {ID: "v1", Name: "All Events"}}
	backend.events = func(models.EventRequest) ([]*models.EventRecord, error) {
		return []*models.EventRecord{
			{ID: "fresh", Type: models.EventUncaughtException, FirstSeen: testNow.Add(-10 * time.Minute)},
			{ID: "reg", Type: models.EventLoggedError, FirstSeen: testNow.Add(-90 * 24 * time.Hour)},
		}, nil
	}
	backend.graph = func(req models.GraphRequest) (*models.Graph, error) {
		if req.To.After(testNow.Add(-time.Hour)) {
			return &models.Graph{ID: "active", Points: []models.GraphPoint{{
				Time: req.From.UnixMilli(),
				Contributors: []models.Contributor{
					{ID: "fresh", Hits: 500, Invocations: 1000},
					{ID: "reg", Hits: 300, Invocations: 1000},
				},
			}}}, nil
		}
		return &models.Graph{ID: "baseline", Points: []models.GraphPoint{{
			Time:         req.From.UnixMilli(),
			Contributors: []models.Contributor{{ID: "reg", Hits: 100, Invocations: 1000}},
		}}}, nil
	}
	return backend
}

func TestRegressionEndToEnd(t *testing.T) {
	backend := regressionBackend()
	a := NewAnalyzer(testDeps(backend, defaultSettings()))

	out, err := a.Regression(context.Background(), models.RegressionInput{
		ServiceID:  "S1",
		ViewName:   "All Events",
		TimeFilter: lastHour(),
		PointsHint: 60,
	})
	if err != nil {
		t.Fatalf("regression: %v", err)
	}
	if out.Empty {
		t.Fatalf("unexpected empty output: %s", out.Reason)
	}
	if out.Input.ViewID != "v1" || out.Window.Baseline.DurationMinutes != 1440 {
		t.Fatalf("unexpected resolved input %+v / %+v", out.Input, out.Window)
	}
	if out.Counts.SevereNewIssues != 1 || out.Counts.SevereRegressions != 1 || out.Counts.Total() != 2 {
		t.Fatalf("unexpected counts %+v", out.Counts)
	}
	if out.Events[0].Event.ID != "fresh" || out.Events[1].Event.ID != "reg" {
		t.Fatalf("unexpected order %+v", out.Events)
	}

	again, err := a.Regression(context.Background(), models.RegressionInput{
		ServiceID:  "S1",
		ViewName:   "all events",
		TimeFilter: lastHour(),
		PointsHint: 500,
	})
	if err != nil || again != out {
		t.Fatalf("expected cached result for equivalent input, got %v", err)
	}
	if backend.count("events") != 1 {
		t.Fatalf("expected one event fetch, got %d", backend.count("events"))
	}
}

func TestRegressionViewNotFound(t *testing.T) {
	backend := regressionBackend()
	a := NewAnalyzer(testDeps(backend, defaultSettings()))
	out, err := a.Regression(context.Background(), models.RegressionInput{ServiceID: "S1", ViewName: "nope", TimeFilter: lastHour()})
	if err != nil {
		t.Fatalf("regression: %v", err)
	}
	if !out.Empty || out.Reason != ReasonViewNotFound {
		t.Fatalf("expected view-not-found sentinel, got %+v", out)
	}
}

func TestRegressionMissingSettingsIsFatal(t *testing.T) {
	settings := defaultSettings()
	settings.regression = nil
	a := NewAnalyzer(testDeps(regressionBackend(), settings))
	_, err := a.Regression(context.Background(), models.RegressionInput{ServiceID: "S1", ViewID: "v1", TimeFilter: lastHour()})
	if !utils.IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRegressionBackendErrorPropagates(t *testing.T) {
	backend := regressionBackend()
	boom := errors.New("events endpoint down")
	backend.events = func(models.EventRequest) ([]*models.EventRecord, error) { return nil, boom }
	deps := testDeps(backend, defaultSettings())
	a := NewAnalyzer(deps)

	_, err := a.Regression(context.Background(), models.RegressionInput{ServiceID: "S1", ViewID: "v1", TimeFilter: lastHour()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected event fetch failure, got %v", err)
	}
	if deps.Cache.Regressions.Len() != 0 {
		t.Fatalf("failed computation must not be cached")
	}
}

func TestRegressionFallsBackToEventVolume(t *testing.T) {
	backend := regressionBackend()
	backend.graph = nil
	backend.volumes = func(req models.EventRequest) ([]models.EventVolume, error) {
		if req.Window.Start.Before(testNow.Add(-time.Hour)) {
			return []models.EventVolume{{ID: "reg", Stats: models.Stats{Hits: 100, Invocations: 1000}}}, nil
		}
		return []models.EventVolume{
			{ID: "fresh", Stats: models.Stats{Hits: 500, Invocations: 1000}},
			{ID: "reg", Stats: models.Stats{Hits: 300, Invocations: 1000}},
		}, nil
	}
	a := NewAnalyzer(testDeps(backend, defaultSettings()))

	out, err := a.Regression(context.Background(), models.RegressionInput{ServiceID: "S1", ViewID: "v1", TimeFilter: lastHour()})
	if err != nil {
		t.Fatalf("regression: %v", err)
	}
	if out.Counts.SevereNewIssues != 1 || out.Counts.SevereRegressions != 1 {
		t.Fatalf("expected volume stats to drive classification, got %+v", out.Counts)
	}
	if backend.count("volume") != 2 {
		t.Fatalf("expected active and baseline volume fetches, got %d", backend.count("volume"))
	}
}

func TestSlowdownEndToEnd(t *testing.T) {
	backend := regressionBackend()
	backend.events = func(models.EventRequest) ([]*models.EventRecord, error) {
		return []*models.EventRecord{{
			ID:         "err",
			Type:       models.EventLoggedError,
			EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"},
			Stats:      models.Stats{Hits: 3},
		}}, nil
	}
	backend.transactions = func(req models.TransactionRequest) ([]models.TransactionGraph, error) {
		avg := 100.0
		if !req.Window.Start.Before(testNow.Add(-time.Hour)) {
			avg = 300
		}
		return []models.TransactionGraph{{
			Name:   "com.shop.Cart#checkout#()V",
			Points: []models.TransactionPoint{{Time: 1, Invocations: 100, AvgTimeMs: avg}},
		}}, nil
	}
	a := NewAnalyzer(testDeps(backend, defaultSettings()))

	out, err := a.Slowdown(context.Background(), models.RegressionInput{ServiceID: "S1", ViewID: "v1", TimeFilter: lastHour()})
	if err != nil {
		t.Fatalf("slowdown: %v", err)
	}
	if out.Empty || len(out.Transactions) != 1 {
		t.Fatalf("unexpected output %+v", out)
	}
	tx := out.Transactions[0]
	if tx.State != models.PerformanceCritical || tx.ErrorHits != 3 {
		t.Fatalf("expected critical slowdown with joined errors, got %+v", tx)
	}
}

func TestSlowdownMissingSettingsIsFatal(t *testing.T) {
	settings := defaultSettings()
	settings.slowdown = nil
	a := NewAnalyzer(testDeps(regressionBackend(), settings))
	_, err := a.Slowdown(context.Background(), models.RegressionInput{ServiceID: "S1", ViewID: "v1", TimeFilter: lastHour()})
	if !utils.IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSlowdownAppliesTransactionFilter(t *testing.T) {
	backend := regressionBackend()
	backend.events = func(models.EventRequest) ([]*models.EventRecord, error) {
		return []*models.EventRecord{
			{ID: "cart", Type: models.EventLoggedError, EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"}, Stats: models.Stats{Hits: 2}},
			{ID: "pay", Type: models.EventLoggedError, EntryPoint: models.Location{Class: "com.other.Billing", Method: "pay"}, Stats: models.Stats{Hits: 7}},
		}, nil
	}
	backend.transactions = func(req models.TransactionRequest) ([]models.TransactionGraph, error) {
		avg := 100.0
		if !req.Window.Start.Before(testNow.Add(-time.Hour)) {
			avg = 300
		}
		return []models.TransactionGraph{
			{Name: "com.shop.Cart#checkout#()V", Points: []models.TransactionPoint{{Time: 1, Invocations: 100, AvgTimeMs: avg}}},
			{Name: "com.other.Billing#pay#()V", Points: []models.TransactionPoint{{Time: 1, Invocations: 100, AvgTimeMs: avg}}},
		}, nil
	}
	a := NewAnalyzer(testDeps(backend, defaultSettings()))

	out, err := a.Slowdown(context.Background(), models.RegressionInput{
		ServiceID:  "S1",
		ViewID:     "v1",
		TimeFilter: lastHour(),
		Filter:     models.EventFilterSpec{Transactions: []string{"com.shop.Cart#checkout"}},
	})
	if err != nil {
		t.Fatalf("slowdown: %v", err)
	}
	if len(out.Transactions) != 1 {
		t.Fatalf("expected one transaction after filtering, got %+v", out.Transactions)
	}
	tx := out.Transactions[0]
	if tx.Key.String() != "com.shop.Cart.checkout" || tx.ErrorHits != 2 {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if out.Counts[models.PerformanceCritical] != 1 {
		t.Fatalf("unexpected counts %v", out.Counts)
	}

	unfiltered, err := a.Slowdown(context.Background(), models.RegressionInput{ServiceID: "S1", ViewID: "v1", TimeFilter: lastHour()})
	if err != nil {
		t.Fatalf("slowdown: %v", err)
	}
	if len(unfiltered.Transactions) != 2 {
		t.Fatalf("expected both transactions without a filter, got %d", len(unfiltered.Transactions))
	}
}

func TestSlowdownFilterWithNoMatchIsEmpty(t *testing.T) {
	backend := regressionBackend()
	backend.transactions = func(models.TransactionRequest) ([]models.TransactionGraph, error) {
		return []models.TransactionGraph{
			{Name: "com.shop.Cart#checkout", Points: []models.TransactionPoint{{Time: 1, Invocations: 100, AvgTimeMs: 10}}},
		}, nil
	}
	a := NewAnalyzer(testDeps(backend, defaultSettings()))
	out, err := a.Slowdown(context.Background(), models.RegressionInput{
		ServiceID:  "S1",
		ViewID:     "v1",
		TimeFilter: lastHour(),
		Filter:     models.EventFilterSpec{Tiers: []string{"Hibernate"}},
	})
	if err != nil {
		t.Fatalf("slowdown: %v", err)
	}
	if !out.Empty || out.Reason != ReasonNoTransactions {
		t.Fatalf("expected empty output, got %+v", out)
	}
}

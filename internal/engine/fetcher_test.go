package engine

import (
	"context"
	"testing"

	"github.com/miradorstack/mirador-regress/internal/models"
)

func TestEventMapReturnsFreshCopies(t *testing.T) {
	backend := newFakeBackend()
	backend.events = func(models.EventRequest) ([]*models.EventRecord, error) {
		return []*models.EventRecord{{ID: "e1", Stats: models.Stats{Hits: 3}}, nil, {ID: ""}}, nil
	}
	f := NewDataFetcher(testDeps(backend, defaultSettings()))
	req := models.EventRequest{ServiceID: "S1", ViewID: "v1", Window: activeWindow}

	first, err := f.EventMap(context.Background(), req)
	if err != nil {
		t.Fatalf("event map: %v", err)
	}
	first["e1"].Stats.Hits = 99

	second, err := f.EventMap(context.Background(), req)
	if err != nil {
		t.Fatalf("event map: %v", err)
	}
	if len(second) != 1 || second["e1"].Stats.Hits != 3 {
		t.Fatalf("callers must not share event records, got %+v", second["e1"])
	}
	if backend.count("events") != 1 {
		t.Fatalf("expected the raw event list to be cached")
	}
}

func TestAccumulateContributors(t *testing.T) {
	events := map[string]*models.EventRecord{
		"e1": {ID: "e1", Stats: models.Stats{Hits: 1000}},
		"e2": {ID: "e2"},
	}
	series := &models.GraphSeries{Points: []models.GraphPoint{
		{Time: 1, Contributors: []models.Contributor{{ID: "e1", Hits: 2, Invocations: 10}}},
		{Time: 2, Contributors: []models.Contributor{{ID: "e1", Hits: 3, Invocations: 10}, {ID: "e2", Hits: 1, Invocations: 4}}},
	}}
	if !AccumulateContributors(events, series) {
		t.Fatalf("expected contributors to be found")
	}
	if events["e1"].Stats != (models.Stats{Hits: 5, Invocations: 20}) || events["e2"].Stats != (models.Stats{Hits: 1, Invocations: 4}) {
		t.Fatalf("unexpected stats e1=%+v e2=%+v", events["e1"].Stats, events["e2"].Stats)
	}
	if AccumulateContributors(events, &models.GraphSeries{}) {
		t.Fatalf("empty series carries no contributors")
	}
}

func TestBuildTransactionMapFoldsDescriptors(t *testing.T) {
	graphs := []models.TransactionGraph{
		{Name: "com.shop.Cart#checkout#()V", Points: []models.TransactionPoint{{Time: 1, Invocations: 10, AvgTimeMs: 100}}},
		{Name: "com.shop.Cart#checkout#(I)V", Points: []models.TransactionPoint{{Time: 1, Invocations: 30, AvgTimeMs: 200}}},
		{Name: "com.shop.Search", Points: []models.TransactionPoint{{Time: 1, Invocations: 5, AvgTimeMs: 50}}},
	}
	txs := BuildTransactionMap(graphs)
	if len(txs) != 2 {
		t.Fatalf("expected descriptors to fold, got %d transactions", len(txs))
	}
	checkout := txs[models.TransactionKey{Class: "com.shop.Cart", Method: "checkout"}]
	if checkout == nil || checkout.Stats.Invocations != 40 || checkout.Stats.AvgTimeMs != 175 {
		t.Fatalf("unexpected checkout stats %+v", checkout)
	}
	if txs[models.TransactionKey{Class: "com.shop.Search"}] == nil {
		t.Fatalf("expected class-level transaction")
	}
}

func TestJoinEventsFallsBackToClass(t *testing.T) {
	method := models.TransactionKey{Class: "com.shop.Cart", Method: "checkout"}
	class := models.TransactionKey{Class: "com.shop.Search"}
	txs := map[models.TransactionKey]*models.TransactionRecord{
		method: {Key: method},
		class:  {Key: class},
	}
	events := map[string]*models.EventRecord{
		"err":   {ID: "err", Type: models.EventLoggedError, EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"}, Stats: models.Stats{Hits: 4}},
		"timer": {ID: "timer", Type: models.EventTimer, EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"}, Stats: models.Stats{Hits: 2}},
		"cls":   {ID: "cls", Type: models.EventCaughtException, EntryPoint: models.Location{Class: "com.shop.Search", Method: "query"}, Stats: models.Stats{Hits: 7}},
		"none":  {ID: "none", EntryPoint: models.Location{Class: "com.other.X"}, Stats: models.Stats{Hits: 1}},
	}
	JoinEvents(txs, events)

	if txs[method].ErrorHits != 4 || txs[method].TimerHits != 2 || len(txs[method].EventIDs) != 2 {
		t.Fatalf("unexpected method-level join %+v", txs[method])
	}
	if txs[method].EventIDs[0] != "err" || txs[method].EventIDs[1] != "timer" {
		t.Fatalf("event ids must be sorted, got %v", txs[method].EventIDs)
	}
	if txs[class].ErrorHits != 7 {
		t.Fatalf("expected class-level fallback, got %+v", txs[class])
	}
}

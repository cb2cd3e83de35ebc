package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/miradorstack/mirador-regress/internal/cache"
	"github.com/miradorstack/mirador-regress/internal/models"
)

// DataFetcher builds the per-request event and transaction maps. Maps it
// returns are fresh copies owned by the caller.
type DataFetcher struct {
	deps Deps
}

// NewDataFetcher builds a fetcher.
func NewDataFetcher(deps Deps) *DataFetcher {
	return &DataFetcher{deps: deps.withDefaults()}
}

// EventMap returns the events of req keyed by ID.
func (f *DataFetcher) EventMap(ctx context.Context, req models.EventRequest) (map[string]*models.EventRecord, error) {
	if req.Volume == "" {
		req.Volume = models.VolumeHits
	}
	raw, err := f.deps.Cache.Events.Get(ctx, cache.NewEventsKey(req), func(ctx context.Context) ([]*models.EventRecord, error) {
		return f.deps.Backend.FetchEventList(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	events := make(map[string]*models.EventRecord, len(raw))
	for _, e := range raw {
		if e == nil || e.ID == "" {
			continue
		}
		events[e.ID] = e.Clone()
	}
	return events, nil
}

// AccumulateContributors replaces event stats with the per-contributor sums
// of series. It reports whether the series carried any contributor at all.
func AccumulateContributors(events map[string]*models.EventRecord, series *models.GraphSeries) bool {
	if series == nil {
		return false
	}
	totals := series.Totals()
	if len(totals) == 0 {
		return false
	}
	for id, e := range events {
		e.Stats = totals[id]
	}
	return true
}

// VolumeStats returns per-event counters for a window from the volume
// endpoint.
func (f *DataFetcher) VolumeStats(ctx context.Context, req models.EventRequest) (map[string]models.Stats, error) {
	volumes, err := f.deps.Backend.FetchEventVolume(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch event volume: %w", err)
	}
	out := make(map[string]models.Stats, len(volumes))
	for _, v := range volumes {
		st := out[v.ID]
		st.Hits += v.Stats.Hits
		st.Invocations += v.Stats.Invocations
		out[v.ID] = st
	}
	return out, nil
}

// TransactionMap fetches per-transaction graphs and summarises them. Graphs
// that differ only by descriptor fold into one transaction.
func (f *DataFetcher) TransactionMap(ctx context.Context, req models.TransactionRequest) (map[models.TransactionKey]*models.TransactionRecord, error) {
	graphs, err := f.deps.Backend.FetchTransactionGraphs(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	return BuildTransactionMap(graphs), nil
}

// BuildTransactionMap groups graphs by class and method.
func BuildTransactionMap(graphs []models.TransactionGraph) map[models.TransactionKey]*models.TransactionRecord {
	grouped := make(map[models.TransactionKey]*models.TransactionGraph)
	names := make(map[models.TransactionKey]string)
	for _, g := range graphs {
		key := models.ParseTransactionName(g.Name)
		if key.Class == "" {
			continue
		}
		acc, ok := grouped[key]
		if !ok {
			acc = &models.TransactionGraph{Name: g.Name}
			grouped[key] = acc
			names[key] = g.Name
		}
		acc.Points = append(acc.Points, g.Points...)
	}

	out := make(map[models.TransactionKey]*models.TransactionRecord, len(grouped))
	for key, g := range grouped {
		out[key] = &models.TransactionRecord{
			Key:   key,
			Name:  names[key],
			Stats: g.Summarise(),
		}
	}
	return out
}

// JoinEvents attributes events to the transaction they entered through,
// falling back to the class-level transaction.
func JoinEvents(transactions map[models.TransactionKey]*models.TransactionRecord, events map[string]*models.EventRecord) {
	for _, e := range events {
		tx, ok := transactions[models.TransactionKey{Class: e.EntryPoint.Class, Method: e.EntryPoint.Method}]
		if !ok {
			tx, ok = transactions[models.TransactionKey{Class: e.EntryPoint.Class}]
		}
		if !ok {
			continue
		}
		if e.IsTimer() {
			tx.TimerHits += e.Stats.Hits
		} else {
			tx.ErrorHits += e.Stats.Hits
		}
		tx.EventIDs = append(tx.EventIDs, e.ID)
	}
	for _, tx := range transactions {
		sort.Strings(tx.EventIDs)
	}
}

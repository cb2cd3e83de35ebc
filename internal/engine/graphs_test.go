package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
)

func point(ts int64, hits int64) models.GraphPoint {
	return models.GraphPoint{Time: ts, Contributors: []models.Contributor{{ID: "e1", Hits: hits}}}
}

func TestMergeGraphsIdempotent(t *testing.T) {
	g := &models.Graph{ID: "g1", Type: "hits", Points: []models.GraphPoint{point(3, 1), point(1, 2), point(2, 3)}}
	once := MergeGraphs(g)
	twice := MergeGraphs(g, g)
	withEmpty := MergeGraphs(nil, g, &models.Graph{ID: "other"})

	if !reflect.DeepEqual(once.Points, twice.Points) || !reflect.DeepEqual(once.Points, withEmpty.Points) {
		t.Fatalf("merge must be idempotent:\n%+v\n%+v\n%+v", once.Points, twice.Points, withEmpty.Points)
	}
	if withEmpty.ID != "g1" || withEmpty.Type != "hits" {
		t.Fatalf("metadata must come from the first non-nil graph, got %s/%s", withEmpty.ID, withEmpty.Type)
	}
	for i := 1; i < len(once.Points); i++ {
		if once.Points[i].Time <= once.Points[i-1].Time {
			t.Fatalf("points must be strictly increasing: %+v", once.Points)
		}
	}
}

func TestMergeGraphsUnion(t *testing.T) {
	a := &models.Graph{ID: "a", Points: []models.GraphPoint{point(1, 1), point(2, 1)}}
	b := &models.Graph{ID: "b", Points: []models.GraphPoint{point(5, 1)}}
	c := &models.Graph{ID: "c", Points: []models.GraphPoint{point(3, 1), point(4, 1)}}

	merged := MergeGraphs(c, a, b)
	if len(merged.Points) != 5 {
		t.Fatalf("expected union of 5 points, got %d", len(merged.Points))
	}
	for i, p := range merged.Points {
		if p.Time != int64(i+1) {
			t.Fatalf("expected ascending timestamps, got %+v", merged.Points)
		}
	}

	dup := MergeGraphs(&models.Graph{Points: []models.GraphPoint{point(1, 1)}}, &models.Graph{Points: []models.GraphPoint{point(1, 9)}})
	if got := dup.Points[0].Value(models.VolumeHits); got != 9 {
		t.Fatalf("last writer must win on duplicate timestamps, got %d", got)
	}
}

// dayBackend serves one point per slice whose hit count is looked up by the
// slice's UTC day.
type dayBackend struct {
	*fakeBackend
	mu   sync.Mutex
	hits map[int]int64
	fail map[int]bool
}

func newDayBackend() *dayBackend {
	d := &dayBackend{fakeBackend: newFakeBackend(), hits: map[int]int64{}, fail: map[int]bool{}}
	d.graph = func(req models.GraphRequest) (*models.Graph, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		day := req.From.UTC().Day()
		if d.fail[day] {
			return nil, errors.New("backend timeout")
		}
		return &models.Graph{ID: "g", Points: []models.GraphPoint{point(req.From.UnixMilli(), d.hits[day])}}, nil
	}
	return d
}

func (d *dayBackend) set(day int, hits int64) {
	d.mu.Lock()
	d.hits[day] = hits
	d.mu.Unlock()
}

func threeDayRequest() models.GraphRequest {
	return models.GraphRequest{
		ServiceID: "S1",
		ViewID:    "v1",
		From:      time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		To:        time.Date(2024, 3, 3, 18, 0, 0, 0, time.UTC),
		Volume:    models.VolumeAll,
	}
}

func hitsOf(series *models.GraphSeries) []int64 {
	out := make([]int64, 0, len(series.Points))
	for _, p := range series.Points {
		out = append(out, p.Value(models.VolumeHits))
	}
	return out
}

func TestSlicedFetchRoundTrip(t *testing.T) {
	backend := newDayBackend()
	backend.set(1, 10)
	backend.set(2, 20)
	backend.set(3, 30)
	f := NewGraphFetcher(testDepsWith(backend, defaultSettings(), 50*time.Millisecond, nil))
	ctx := context.Background()

	first, err := f.Fetch(ctx, threeDayRequest())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := hitsOf(first); !reflect.DeepEqual(got, []int64{10, 20, 30}) {
		t.Fatalf("unexpected merged series %v", got)
	}

	again, err := f.Fetch(ctx, threeDayRequest())
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if !reflect.DeepEqual(first.Points, again.Points) {
		t.Fatalf("unchanged data must merge identically")
	}
	if n := backend.count("graph"); n != 3 {
		t.Fatalf("expected cached refetch, backend saw %d slice calls", n)
	}

	backend.set(2, 25)
	time.Sleep(80 * time.Millisecond)
	changed, err := f.Fetch(ctx, threeDayRequest())
	if err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if got := hitsOf(changed); !reflect.DeepEqual(got, []int64{10, 25, 30}) {
		t.Fatalf("expected altered interior slice after TTL, got %v", got)
	}
}

func TestSliceFailureContributesNothing(t *testing.T) {
	backend := newDayBackend()
	backend.set(1, 10)
	backend.set(2, 20)
	backend.set(3, 30)
	backend.fail[1] = true
	f := NewGraphFetcher(testDeps(backend, defaultSettings()))

	series, err := f.Fetch(context.Background(), threeDayRequest())
	if err != nil {
		t.Fatalf("slice failures must not propagate: %v", err)
	}
	if got := hitsOf(series); !reflect.DeepEqual(got, []int64{20, 30}) {
		t.Fatalf("expected surviving slices only, got %v", got)
	}
	if series.FailedSlices != 1 {
		t.Fatalf("expected one failed slice, got %d", series.FailedSlices)
	}

	calls := backend.count("graph")
	if _, err := f.Fetch(context.Background(), threeDayRequest()); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	// The interior slice is memoized; the two edge slices are fetched again.
	if n := backend.count("graph") - calls; n != 2 {
		t.Fatalf("expected partial series to be refetched, got %d calls", n)
	}
}

func TestDurableTierHoldsInteriorSlicesOnly(t *testing.T) {
	backend := newDayBackend()
	backend.set(1, 10)
	backend.set(2, 20)
	backend.set(3, 30)
	durable := newMemProvider()
	deps := testDepsWith(backend, defaultSettings(), time.Minute, durable)
	f := NewGraphFetcher(deps)

	if _, err := f.Fetch(context.Background(), threeDayRequest()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if durable.Len() != 1 {
		t.Fatalf("expected only the interior slice in the durable tier, got %d", durable.Len())
	}

	deps.Cache.Purge()
	backend.set(2, 99)
	backend.set(3, 31)
	series, err := f.Fetch(context.Background(), threeDayRequest())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := hitsOf(series); !reflect.DeepEqual(got, []int64{10, 20, 31}) {
		t.Fatalf("expected interior slice from durable tier, got %v", got)
	}
}

func TestHitsGraphServedFromAllEntry(t *testing.T) {
	backend := newDayBackend()
	f := NewGraphFetcher(testDeps(backend, defaultSettings()))
	req := threeDayRequest()
	req.From = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	req.To = req.From.Add(time.Hour)

	if _, err := f.Fetch(context.Background(), req); err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	req.Volume = models.VolumeHits
	if _, err := f.Fetch(context.Background(), req); err != nil {
		t.Fatalf("fetch hits: %v", err)
	}
	if n := backend.count("graph"); n != 1 {
		t.Fatalf("hits request should be answered by the all entry, backend calls=%d", n)
	}
}

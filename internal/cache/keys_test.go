package cache

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

func regressionInput(t *testing.T, expr string) models.RegressionInput {
	t.Helper()
	filter, err := utils.ParseTimeFilter(expr)
	if err != nil {
		t.Fatalf("parse %q: %v", expr, err)
	}
	return models.RegressionInput{
		ServiceID:   "S1",
		ViewID:      "all-events",
		TimeFilter:  filter,
		Apps:        []string{"checkout", "billing"},
		Deployments: []string{"v2", "v1"},
		Filter: models.EventFilterSpec{
			Types: []string{"Logged Error", "Uncaught Exception"},
		},
		CriticalExceptionTypes: []string{"NullPointerException", "IllegalStateException"},
		Settings: models.RegressionSettings{
			MinBaselineTimespan:    1440,
			BaselineTimespanFactor: 4,
			MinVolumeThreshold:     50,
			RegressionDelta:        0.5,
		},
	}
}

func TestRegressionKeyIgnoresSetOrder(t *testing.T) {
	a := regressionInput(t, "last-1d")
	b := regressionInput(t, "last-1d")
	b.Apps = []string{" billing", "checkout", "billing"}
	b.Deployments = []string{"v1", "v2"}
	b.Filter.Types = []string{"uncaught exception", "LOGGED ERROR"}

	if NewRegressionKey(a) != NewRegressionKey(b) {
		t.Fatalf("expected permuted inputs to share a key:\n%s\n%s", NewRegressionKey(a), NewRegressionKey(b))
	}
}

func TestRegressionKeyKeepsBackendNameCase(t *testing.T) {
	a := regressionInput(t, "last-1d")
	b := regressionInput(t, "last-1d")
	b.Apps = []string{"Checkout", "billing"}
	if NewRegressionKey(a) == NewRegressionKey(b) {
		t.Fatalf("app names differing in case must not share a key")
	}
	if NewRegressionKey(a).String() == NewRegressionKey(b).String() {
		t.Fatalf("app names differing in case must not share a slot")
	}
}

func TestKeyStringsAreUnambiguous(t *testing.T) {
	a := regressionInput(t, "last-1d")
	b := regressionInput(t, "last-1d")
	a.Filter.Labels = []string{"env:prod"}
	a.Filter.SearchText = "x"
	b.Filter.Labels = []string{"env"}
	b.Filter.SearchText = "prod:x"
	if NewRegressionKey(a) == NewRegressionKey(b) {
		t.Fatalf("expected distinct keys")
	}
	if NewRegressionKey(a).String() == NewRegressionKey(b).String() {
		t.Fatalf("distinct keys render the same: %s", NewRegressionKey(a))
	}

	c := regressionInput(t, "last-1d")
	d := regressionInput(t, "last-1d")
	c.Apps = []string{"a,b"}
	d.Apps = []string{"a", "b"}
	if NewRegressionKey(c).String() == NewRegressionKey(d).String() {
		t.Fatalf("set members containing the separator must not collide")
	}

	s := NewSlowdownKey(a, models.SlowdownSettings{})
	u := NewSlowdownKey(b, models.SlowdownSettings{})
	if s == u || s.String() == u.String() {
		t.Fatalf("expected distinct slowdown keys")
	}
}

func TestMemoDoesNotShareLoadsAcrossDistinctKeys(t *testing.T) {
	m := NewMemo[RegressionKey, string]("regressions", 16, time.Minute, nil)
	a := regressionInput(t, "last-1d")
	b := regressionInput(t, "last-1d")
	a.Filter.Labels = []string{"env:prod"}
	a.Filter.SearchText = "x"
	b.Filter.Labels = []string{"env"}
	b.Filter.SearchText = "prod:x"

	started := make(chan struct{})
	release := make(chan struct{})
	gotA := make(chan string, 1)
	go func() {
		v, _ := m.Get(context.Background(), NewRegressionKey(a), func(context.Context) (string, error) {
			close(started)
			<-release
			return "A", nil
		})
		gotA <- v
	}()
	<-started

	gotB := make(chan string, 1)
	go func() {
		v, _ := m.Get(context.Background(), NewRegressionKey(b), func(context.Context) (string, error) {
			return "B", nil
		})
		gotB <- v
	}()
	select {
	case v := <-gotB:
		if v != "B" {
			t.Fatalf("caller b got %q", v)
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatalf("caller b waited on caller a's load")
	}
	close(release)
	if got := <-gotA; got != "A" {
		t.Fatalf("caller a got %q", got)
	}
}

func TestRegressionKeyNormalizesRelativeFilters(t *testing.T) {
	base := NewRegressionKey(regressionInput(t, "last-1d"))
	for _, expr := range []string{"last-24h", "last-1440m", "24h"} {
		if got := NewRegressionKey(regressionInput(t, expr)); got != base {
			t.Fatalf("%s: expected key %s, got %s", expr, base, got)
		}
	}
	if NewRegressionKey(regressionInput(t, "last-2d")) == base {
		t.Fatalf("different spans must not share a key")
	}
}

func TestRegressionKeyExcludesPointsHint(t *testing.T) {
	a := regressionInput(t, "last-7d")
	b := a
	a.PointsHint = 60
	b.PointsHint = 500
	if NewRegressionKey(a) != NewRegressionKey(b) {
		t.Fatalf("points hint must not affect identity")
	}
}

func TestRegressionKeyKeepsCriticalTypeOrder(t *testing.T) {
	a := regressionInput(t, "last-7d")
	b := regressionInput(t, "last-7d")
	b.CriticalExceptionTypes = []string{"IllegalStateException", "NullPointerException"}
	if NewRegressionKey(a) == NewRegressionKey(b) {
		t.Fatalf("critical type order ranks results and must be part of the key")
	}
}

func TestRegressionKeyDistinguishesThresholds(t *testing.T) {
	a := regressionInput(t, "last-7d")
	b := regressionInput(t, "last-7d")
	b.Settings.RegressionDelta = 0.6
	if NewRegressionKey(a) == NewRegressionKey(b) {
		t.Fatalf("thresholds must be part of the key")
	}
}

func TestGraphKeyExplicitBounds(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := models.GraphRequest{
		ServiceID: "S1", ViewID: "v", From: from, To: from.Add(24 * time.Hour),
		Resolution: models.ResolutionHour, Servers: []string{"b", "a"},
	}
	other := req
	other.Servers = []string{"a", " b", "a"}
	if NewGraphKey(req) != NewGraphKey(other) {
		t.Fatalf("expected normalized server sets to match")
	}
	if NewGraphKey(req).Volume != models.VolumeHits {
		t.Fatalf("expected default volume hits")
	}
	if NewGraphKey(req).WithVolume(models.VolumeAll) == NewGraphKey(req) {
		t.Fatalf("volume must be part of the key")
	}
}

func TestCanonicalSet(t *testing.T) {
	if got := CanonicalSet([]string{" b", "A", "a", "", "b"}); got != `"A","a","b"` {
		t.Fatalf("unexpected canonical set %q", got)
	}
	if CanonicalSet(nil) != "" {
		t.Fatalf("expected empty set to be empty string")
	}
	if got := foldedSet([]string{"B", "a", "b"}); got != `"a","b"` {
		t.Fatalf("unexpected folded set %q", got)
	}
}

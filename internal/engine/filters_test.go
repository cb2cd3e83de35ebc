package engine

import (
	"testing"

	"github.com/miradorstack/mirador-regress/internal/models"
)

func filterEvent() *models.EventRecord {
	return &models.EventRecord{
		ID:         "e1",
		Type:       models.EventLoggedError,
		Location:   models.Location{Class: "org.hibernate.Session", Method: "flush"},
		EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"},
		Labels:     []string{"payments"},
	}
}

func TestEventFilterCriteria(t *testing.T) {
	tiers := map[string][]string{"Hibernate": {"org.hibernate"}}
	cases := []struct {
		name string
		spec models.EventFilterSpec
		want bool
	}{
		{"empty filter", models.EventFilterSpec{}, true},
		{"type allowed", models.EventFilterSpec{Types: []string{"logged error"}}, true},
		{"type rejected", models.EventFilterSpec{Types: []string{"Timer"}}, false},
		{"transaction class", models.EventFilterSpec{Transactions: []string{"com.shop.Cart"}}, true},
		{"transaction method", models.EventFilterSpec{Transactions: []string{"com.shop.Cart#checkout#()V"}}, true},
		{"transaction mismatch", models.EventFilterSpec{Transactions: []string{"com.shop.Cart#remove"}}, false},
		{"tier prefix", models.EventFilterSpec{Tiers: []string{"hibernate"}}, true},
		{"unknown tier as prefix", models.EventFilterSpec{Tiers: []string{"org.apache"}}, false},
		{"label", models.EventFilterSpec{Labels: []string{"PAYMENTS"}}, true},
		{"label mismatch", models.EventFilterSpec{Labels: []string{"search"}}, false},
		{"search method", models.EventFilterSpec{SearchText: "FLUSH"}, true},
		{"search mismatch", models.EventFilterSpec{SearchText: "commit"}, false},
		{"all criteria", models.EventFilterSpec{
			Types:      []string{models.EventLoggedError},
			Tiers:      []string{"Hibernate"},
			Labels:     []string{"payments"},
			SearchText: "session",
		}, true},
		{"one failing criterion", models.EventFilterSpec{
			Types:      []string{models.EventLoggedError},
			Labels:     []string{"payments"},
			SearchText: "nothing",
		}, false},
	}
	for _, tc := range cases {
		if got := NewEventFilter(tc.spec, tiers).Match(filterEvent()); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEventFilterApply(t *testing.T) {
	events := map[string]*models.EventRecord{
		"e1": filterEvent(),
		"e2": {ID: "e2", Type: models.EventTimer},
	}
	out := NewEventFilter(models.EventFilterSpec{Types: []string{models.EventTimer}}, nil).Apply(events)
	if len(out) != 1 || out["e2"] == nil {
		t.Fatalf("unexpected filtered set %+v", out)
	}
}

func TestEventFilterTransactionScope(t *testing.T) {
	tiers := map[string][]string{"Hibernate": {"org.hibernate"}}
	cart := models.TransactionKey{Class: "com.shop.Cart", Method: "checkout"}
	session := models.TransactionKey{Class: "org.hibernate.Session", Method: "flush"}
	billing := models.TransactionKey{Class: "com.other.Billing", Method: "pay"}

	cases := []struct {
		name string
		spec models.EventFilterSpec
		want map[models.TransactionKey]bool
	}{
		{"no scope", models.EventFilterSpec{Labels: []string{"ignored"}}, map[models.TransactionKey]bool{cart: true, session: true, billing: true}},
		{"method pattern", models.EventFilterSpec{Transactions: []string{"com.shop.Cart#checkout"}}, map[models.TransactionKey]bool{cart: true}},
		{"class pattern", models.EventFilterSpec{Transactions: []string{"COM.OTHER.BILLING"}}, map[models.TransactionKey]bool{billing: true}},
		{"tier", models.EventFilterSpec{Tiers: []string{"hibernate"}}, map[models.TransactionKey]bool{session: true}},
		{"pattern or tier", models.EventFilterSpec{Transactions: []string{"com.shop.Cart#checkout"}, Tiers: []string{"Hibernate"}}, map[models.TransactionKey]bool{cart: true, session: true}},
	}
	for _, tc := range cases {
		f := NewEventFilter(tc.spec, tiers)
		for _, key := range []models.TransactionKey{cart, session, billing} {
			if got := f.MatchTransaction(key); got != tc.want[key] {
				t.Fatalf("%s: %s matched=%v", tc.name, key, got)
			}
		}
		txs := map[models.TransactionKey]*models.TransactionRecord{cart: {Key: cart}, session: {Key: session}, billing: {Key: billing}}
		if got := len(f.ApplyTransactions(txs)); got != len(tc.want) {
			t.Fatalf("%s: kept %d transactions", tc.name, got)
		}
	}
}

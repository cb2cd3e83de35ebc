package engine

import (
	"strings"

	"github.com/miradorstack/mirador-regress/internal/models"
)

type transactionPattern struct {
	class  string
	method string
}

// EventFilter is the compiled form of an EventFilterSpec. Criteria are
// checked in order and AND-ed: type, transaction or tier, label, search text.
type EventFilter struct {
	types        map[string]struct{}
	transactions []transactionPattern
	tierPrefixes []string
	labels       map[string]struct{}
	search       string
}

// NewEventFilter compiles spec. Tier names resolve through tiers to class
// prefixes; an unknown tier name is used as a prefix itself.
func NewEventFilter(spec models.EventFilterSpec, tiers map[string][]string) *EventFilter {
	f := &EventFilter{
		types:  lowerSet(spec.Types),
		labels: lowerSet(spec.Labels),
		search: strings.ToLower(strings.TrimSpace(spec.SearchText)),
	}
	for _, raw := range spec.Transactions {
		key := models.ParseTransactionName(raw)
		if key.Class == "" {
			continue
		}
		f.transactions = append(f.transactions, transactionPattern{
			class:  strings.ToLower(key.Class),
			method: strings.ToLower(key.Method),
		})
	}
	for _, name := range spec.Tiers {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefixes, ok := lookupTier(tiers, name)
		if !ok {
			prefixes = []string{name}
		}
		for _, p := range prefixes {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				f.tierPrefixes = append(f.tierPrefixes, p)
			}
		}
	}
	return f
}

func lookupTier(tiers map[string][]string, name string) ([]string, bool) {
	if prefixes, ok := tiers[name]; ok {
		return prefixes, true
	}
	for tier, prefixes := range tiers {
		if strings.EqualFold(tier, name) {
			return prefixes, true
		}
	}
	return nil, false
}

func lowerSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// Match reports whether e passes every configured criterion.
func (f *EventFilter) Match(e *models.EventRecord) bool {
	if e == nil {
		return false
	}
	if len(f.types) > 0 {
		if _, ok := f.types[strings.ToLower(e.Type)]; !ok {
			return false
		}
	}
	if !f.matchScope(e) {
		return false
	}
	if len(f.labels) > 0 && !f.matchLabels(e.Labels) {
		return false
	}
	if f.search != "" {
		class := strings.ToLower(e.Location.Class)
		method := strings.ToLower(e.Location.Method)
		if !strings.Contains(class, f.search) && !strings.Contains(method, f.search) {
			return false
		}
	}
	return true
}

// matchScope passes when no transaction or tier criterion is set, or when
// the event matches any transaction pattern or tier prefix.
func (f *EventFilter) matchScope(e *models.EventRecord) bool {
	return f.scoped(e.EntryPoint.Class, e.EntryPoint.Method, e.Location.Class)
}

// scoped matches an entry point against the transaction patterns and a code
// class against the tier prefixes.
func (f *EventFilter) scoped(entryClass, entryMethod, class string) bool {
	if len(f.transactions) == 0 && len(f.tierPrefixes) == 0 {
		return true
	}
	entryClass = strings.ToLower(entryClass)
	entryMethod = strings.ToLower(entryMethod)
	for _, p := range f.transactions {
		if p.class == entryClass && (p.method == "" || p.method == entryMethod) {
			return true
		}
	}
	class = strings.ToLower(class)
	for _, prefix := range f.tierPrefixes {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}

// MatchTransaction reports whether a transaction falls inside the
// transaction or tier scope. Other criteria only apply to events.
func (f *EventFilter) MatchTransaction(key models.TransactionKey) bool {
	return f.scoped(key.Class, key.Method, key.Class)
}

// ApplyTransactions returns the transactions inside the filter's scope.
func (f *EventFilter) ApplyTransactions(txs map[models.TransactionKey]*models.TransactionRecord) map[models.TransactionKey]*models.TransactionRecord {
	out := make(map[models.TransactionKey]*models.TransactionRecord, len(txs))
	for key, tx := range txs {
		if f.MatchTransaction(key) {
			out[key] = tx
		}
	}
	return out
}

func (f *EventFilter) matchLabels(labels []string) bool {
	for _, l := range labels {
		if _, ok := f.labels[strings.ToLower(strings.TrimSpace(l))]; ok {
			return true
		}
	}
	return false
}

// Apply returns the events that pass the filter.
func (f *EventFilter) Apply(events map[string]*models.EventRecord) map[string]*models.EventRecord {
	out := make(map[string]*models.EventRecord, len(events))
	for id, e := range events {
		if f.Match(e) {
			out[id] = e
		}
	}
	return out
}

package engine

import (
	"sort"

	"github.com/miradorstack/mirador-regress/internal/models"
)

// bucketOrder maps each bucket to the comparator used inside it.
var bucketOrder = map[models.Bucket]func(a, b *models.ClassifiedEvent) bool{
	models.BucketSevereNewIssues:   newIssueLess,
	models.BucketNewIssues:         newIssueLess,
	models.BucketSevereRegressions: regressionLess,
	models.BucketRegressions:       regressionLess,
}

// Classify merges similar events and assigns each group to exactly one
// bucket, then orders the result by bucket priority and bucket comparator.
func Classify(rr models.RateRegression, criticalTypes []string, s models.RegressionSettings) []models.ClassifiedEvent {
	candidates := make(map[string]*models.ClassifiedEvent)
	add := func(e *models.EventRecord, bucket models.Bucket) {
		if existing, ok := candidates[e.ID]; ok && existing.Bucket <= bucket {
			return
		}
		candidates[e.ID] = &models.ClassifiedEvent{Event: e, Bucket: bucket}
	}
	for _, e := range rr.NewEvents {
		if _, ok := rr.CriticalNewEvents[e.ID]; ok {
			add(e, models.BucketSevereNewIssues)
		} else {
			add(e, models.BucketNewIssues)
		}
	}
	for _, e := range rr.CriticalNewEvents {
		add(e, models.BucketSevereNewIssues)
	}
	for _, r := range rr.Exceeded {
		if r.Critical {
			add(r.Event, models.BucketSevereRegressions)
		} else {
			add(r.Event, models.BucketRegressions)
		}
	}

	groups := groupSimilar(candidates)
	out := make([]models.ClassifiedEvent, 0, len(groups))
	for _, members := range groups {
		out = append(out, mergeGroup(members, rr.Baselines, criticalTypes, s))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if less := bucketOrder[a.Bucket]; less != nil {
			if less(a, b) {
				return true
			}
			if less(b, a) {
				return false
			}
		}
		return a.Event.ID < b.Event.ID
	})
	return out
}

// CountBuckets tallies classified events.
func CountBuckets(events []models.ClassifiedEvent) models.RegressionCounts {
	var counts models.RegressionCounts
	for _, e := range events {
		counts.Add(e.Bucket)
	}
	return counts
}

// groupSimilar unions candidates through their SimilarIDs. Groups come back
// with members sorted by ID.
func groupSimilar(candidates map[string]*models.ClassifiedEvent) [][]*models.ClassifiedEvent {
	parent := make(map[string]string, len(candidates))
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for id := range candidates {
		parent[id] = id
	}
	for id, c := range candidates {
		for _, similar := range c.Event.SimilarIDs {
			if _, ok := candidates[similar]; ok {
				union(id, similar)
			}
		}
	}

	byRoot := make(map[string][]*models.ClassifiedEvent)
	for id, c := range candidates {
		root := find(id)
		byRoot[root] = append(byRoot[root], c)
	}
	groups := make([][]*models.ClassifiedEvent, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Slice(members, func(i, j int) bool { return members[i].Event.ID < members[j].Event.ID })
		groups = append(groups, members)
	}
	return groups
}

// mergeGroup folds a similar-event group into one record. The most severe
// member leads; ties go to the member with most hits.
func mergeGroup(members []*models.ClassifiedEvent, baselines map[string]models.Stats, criticalTypes []string, s models.RegressionSettings) models.ClassifiedEvent {
	lead := members[0]
	for _, m := range members[1:] {
		if m.Bucket < lead.Bucket || (m.Bucket == lead.Bucket && m.Event.Stats.Hits > lead.Event.Stats.Hits) {
			lead = m
		}
	}

	event := lead.Event.Clone()
	var activeStats, baseStats models.Stats
	ids := make([]string, 0, len(members))
	for _, m := range members {
		activeStats.Hits += m.Event.Stats.Hits
		activeStats.Invocations += m.Event.Stats.Invocations
		b := baselines[m.Event.ID]
		baseStats.Hits += b.Hits
		baseStats.Invocations += b.Invocations
		ids = append(ids, m.Event.ID)
	}
	event.Stats = activeStats

	out := models.ClassifiedEvent{
		Event:          event,
		Bucket:         lead.Bucket,
		Baseline:       baseStats,
		AboveThreshold: activeStats.Hits > s.MinVolumeThreshold,
		CriticalRank:   criticalRank(event, criticalTypes),
	}
	if len(ids) > 1 {
		out.MergedIDs = ids
	}
	activeRate, activeOK := activeStats.Rate()
	if activeOK {
		out.ActiveRate = activeRate
	}
	if baseRate, ok := baseStats.Rate(); ok {
		out.BaselineRate = baseRate
		if activeOK {
			out.RateDelta = activeRate - baseRate
		}
	}
	return out
}

// newIssueLess orders new issues: uncaught first, then critical rank, type
// rank, recency, volume threshold, rate delta and hits.
func newIssueLess(a, b *models.ClassifiedEvent) bool {
	if au, bu := a.Event.IsUncaught(), b.Event.IsUncaught(); au != bu {
		return au
	}
	if a.CriticalRank != b.CriticalRank {
		return a.CriticalRank > b.CriticalRank
	}
	if ar, br := models.EventTypeRank(a.Event.Type), models.EventTypeRank(b.Event.Type); ar != br {
		return ar > br
	}
	if !a.Event.FirstSeen.Equal(b.Event.FirstSeen) {
		return a.Event.FirstSeen.After(b.Event.FirstSeen)
	}
	if a.AboveThreshold != b.AboveThreshold {
		return a.AboveThreshold
	}
	if a.RateDelta != b.RateDelta {
		return a.RateDelta > b.RateDelta
	}
	return a.Event.Stats.Hits > b.Event.Stats.Hits
}

// regressionLess orders regressions by rate delta, then hits.
func regressionLess(a, b *models.ClassifiedEvent) bool {
	if a.RateDelta != b.RateDelta {
		return a.RateDelta > b.RateDelta
	}
	return a.Event.Stats.Hits > b.Event.Stats.Hits
}

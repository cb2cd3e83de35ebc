package engine

import (
	"sort"

	"github.com/miradorstack/mirador-regress/internal/models"
)

// ClassifyTransaction sets State, DeltaPercent and Score on tx from its
// active and baseline latency.
func ClassifyTransaction(tx *models.TransactionRecord, s models.SlowdownSettings) {
	tx.State, tx.DeltaPercent, tx.Score = models.PerformanceNoData, 0, 0

	base := tx.Baseline
	if base == nil ||
		base.Invocations < s.BaselineInvocationsThreshold ||
		tx.Stats.Invocations < s.ActiveInvocationsThreshold {
		return
	}

	tx.State = models.PerformanceOK
	delta := tx.Stats.AvgTimeMs - base.AvgTimeMs
	if delta <= s.MinDeltaThreshold {
		return
	}
	if tx.Stats.AvgTimeMs <= base.AvgTimeMs+s.StdDevFactor*base.StdDevMs {
		return
	}
	if base.AvgTimeMs <= 0 {
		return
	}

	percent := delta / base.AvgTimeMs * 100
	tx.DeltaPercent = percent
	switch {
	case percent > s.OverAvgCriticalPercentage:
		tx.State = models.PerformanceCritical
	case percent > s.OverAvgSlowingPercentage:
		tx.State = models.PerformanceSlowing
	default:
		return
	}
	tx.Score = percent / 100
}

// ClassifySlowdowns attaches baselines, classifies every active transaction
// and orders them by score, then name.
func ClassifySlowdowns(
	active map[models.TransactionKey]*models.TransactionRecord,
	baseline map[models.TransactionKey]*models.TransactionRecord,
	s models.SlowdownSettings,
) models.SlowdownOutput {
	out := models.SlowdownOutput{
		Transactions: make([]models.TransactionRecord, 0, len(active)),
		Counts:       make(map[models.PerformanceState]int),
	}
	for key, tx := range active {
		if b, ok := baseline[key]; ok && b.Stats.Invocations > 0 {
			stats := b.Stats
			tx.Baseline = &stats
		} else {
			tx.Baseline = nil
		}
		ClassifyTransaction(tx, s)
		out.Counts[tx.State]++
		out.Transactions = append(out.Transactions, *tx)
	}
	sort.Slice(out.Transactions, func(i, j int) bool {
		a, b := out.Transactions[i], out.Transactions[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Key.String() < b.Key.String()
	})
	return out
}

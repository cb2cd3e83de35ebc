package api

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-regress/internal/engine"
	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

// FromStructRegressionInput maps a request struct into a domain query.
func FromStructRegressionInput(req *structpb.Struct) (models.RegressionInput, error) {
	if req == nil {
		return models.RegressionInput{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()

	serviceID := stringField(fields, "service_id")
	if serviceID == "" {
		return models.RegressionInput{}, fmt.Errorf("service_id is required")
	}
	viewID, viewName := stringField(fields, "view_id"), stringField(fields, "view_name")
	if viewID == "" && viewName == "" {
		return models.RegressionInput{}, fmt.Errorf("view_id or view_name is required")
	}
	filter, err := utils.ParseTimeFilter(stringField(fields, "time_filter"))
	if err != nil {
		return models.RegressionInput{}, err
	}
	points, err := intField(fields, "points")
	if err != nil {
		return models.RegressionInput{}, err
	}

	return models.RegressionInput{
		ServiceID:   serviceID,
		ViewID:      viewID,
		ViewName:    viewName,
		TimeFilter:  filter,
		Deployments: stringList(fields, "deployments"),
		Apps:        stringList(fields, "apps"),
		Servers:     stringList(fields, "servers"),
		Filter: models.EventFilterSpec{
			Types:        stringList(fields, "event_types"),
			Transactions: stringList(fields, "transactions"),
			Tiers:        stringList(fields, "tiers"),
			Labels:       stringList(fields, "labels"),
			SearchText:   stringField(fields, "search_text"),
		},
		CriticalExceptionTypes: stringList(fields, "critical_exception_types"),
		PointsHint:             points,
	}, nil
}

// FromStructReportRequest maps a request struct into a report request. The
// base query uses the same fields as FromStructRegressionInput.
func FromStructReportRequest(req *structpb.Struct) (engine.ReportRequest, error) {
	base, err := FromStructRegressionInput(req)
	if err != nil {
		return engine.ReportRequest{}, err
	}
	fields := req.GetFields()
	kind, err := engine.ParseKeyKind(stringField(fields, "key_kind"))
	if err != nil {
		return engine.ReportRequest{}, err
	}
	return engine.ReportRequest{
		Base:          base,
		Kind:          kind,
		Keys:          stringList(fields, "keys"),
		SkipSlowdowns: fields["skip_slowdowns"].GetBoolValue(),
	}, nil
}

// ToStructRegression converts a regression result into its response struct.
func ToStructRegression(out *models.RegressionOutput) (*structpb.Struct, error) {
	if out == nil {
		return nil, fmt.Errorf("regression output is nil")
	}
	body := map[string]any{
		"empty":  out.Empty,
		"reason": out.Reason,
	}
	if !out.Empty {
		body["service_id"] = out.Input.ServiceID
		body["view_id"] = out.Input.ViewID
		body["active"] = windowValue(out.Window.Active)
		body["baseline"] = windowValue(out.Window.Baseline)
		body["counts"] = countsValue(out.Counts)
		body["failed_slices"] = out.ActiveGraph.FailedSlices + out.BaselineGraph.FailedSlices
		body["computed_at"] = out.ComputedAt.Format(time.RFC3339)

		events := make([]any, 0, len(out.Events))
		for _, ev := range out.Events {
			events = append(events, map[string]any{
				"id":                   ev.Event.ID,
				"type":                 ev.Event.Type,
				"name":                 ev.Event.Name,
				"bucket":               ev.Bucket.String(),
				"active_rate":          ev.ActiveRate,
				"baseline_rate":        ev.BaselineRate,
				"rate_delta":           ev.RateDelta,
				"hits":                 ev.Event.Stats.Hits,
				"invocations":          ev.Event.Stats.Invocations,
				"baseline_hits":        ev.Baseline.Hits,
				"baseline_invocations": ev.Baseline.Invocations,
				"critical_rank":        ev.CriticalRank,
				"merged_ids":           listValue(ev.MergedIDs),
			})
		}
		body["events"] = events
	}
	return structpb.NewStruct(body)
}

// ToStructSlowdown converts a slowdown result into its response struct.
func ToStructSlowdown(out *models.SlowdownOutput) (*structpb.Struct, error) {
	if out == nil {
		return nil, fmt.Errorf("slowdown output is nil")
	}
	body := map[string]any{
		"empty":  out.Empty,
		"reason": out.Reason,
		"counts": statesValue(out.Counts),
	}
	txs := make([]any, 0, len(out.Transactions))
	for _, tx := range out.Transactions {
		item := map[string]any{
			"name":          tx.Name,
			"key":           tx.Key.String(),
			"state":         string(tx.State),
			"score":         finite(tx.Score),
			"delta_percent": finite(tx.DeltaPercent),
			"invocations":   tx.Stats.Invocations,
			"avg_time_ms":   finite(tx.Stats.AvgTimeMs),
			"error_hits":    tx.ErrorHits,
			"timer_hits":    tx.TimerHits,
			"error_rate":    finite(tx.ErrorRate()),
			"event_ids":     listValue(tx.EventIDs),
		}
		if tx.Baseline != nil {
			item["baseline_invocations"] = tx.Baseline.Invocations
			item["baseline_avg_time_ms"] = finite(tx.Baseline.AvgTimeMs)
			item["baseline_std_dev_ms"] = finite(tx.Baseline.StdDevMs)
		}
		txs = append(txs, item)
	}
	body["transactions"] = txs
	return structpb.NewStruct(body)
}

// ToStructReport converts a report into its response struct.
func ToStructReport(rep *engine.Report) (*structpb.Struct, error) {
	if rep == nil {
		return nil, fmt.Errorf("report is nil")
	}
	rows := make([]any, 0, len(rep.Rows))
	for _, row := range rep.Rows {
		item := map[string]any{
			"key":   row.Key,
			"empty": row.Empty,
		}
		if row.Empty {
			item["reason"] = row.Reason
		} else {
			item["score"] = row.Score
			item["counts"] = countsValue(row.Counts)
			item["slowdowns"] = statesValue(row.Slowdowns)
		}
		rows = append(rows, item)
	}
	return structpb.NewStruct(map[string]any{
		"run_id":       rep.RunID,
		"service_id":   rep.ServiceID,
		"kind":         string(rep.Kind),
		"generated_at": rep.GeneratedAt.Format(time.RFC3339),
		"rows":         rows,
	})
}

func stringField(fields map[string]*structpb.Value, name string) string {
	return strings.TrimSpace(fields[name].GetStringValue())
}

// stringList accepts either a list of strings or one comma-separated string.
func stringList(fields map[string]*structpb.Value, name string) []string {
	v, ok := fields[name]
	if !ok {
		return nil
	}
	var raw []string
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		raw = strings.Split(kind.StringValue, ",")
	case *structpb.Value_ListValue:
		for _, item := range kind.ListValue.GetValues() {
			raw = append(raw, item.GetStringValue())
		}
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return int(n.NumberValue), nil
}

func windowValue(w models.TimeWindow) map[string]any {
	return map[string]any{
		"start":            w.Start.Format(time.RFC3339),
		"end":              w.End().Format(time.RFC3339),
		"duration_minutes": w.DurationMinutes,
	}
}

func countsValue(c models.RegressionCounts) map[string]any {
	return map[string]any{
		models.BucketSevereNewIssues.String():   c.SevereNewIssues,
		models.BucketNewIssues.String():         c.NewIssues,
		models.BucketSevereRegressions.String(): c.SevereRegressions,
		models.BucketRegressions.String():       c.Regressions,
	}
}

func statesValue(counts map[models.PerformanceState]int) map[string]any {
	out := make(map[string]any, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	return out
}

func listValue(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// finite replaces NaN and infinities, which JSON cannot carry, with zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

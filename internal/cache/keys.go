package cache

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
)

// CanonicalSet trims, dedupes and sorts backend names (apps, servers,
// deployments) so permutations of one selection share a key. Case is kept
// because the backend may treat names case-sensitively.
func CanonicalSet(values []string) string {
	return normalizeSet(values, false, true)
}

// foldedSet is CanonicalSet for filter criteria, which match case-insensitively.
func foldedSet(values []string) string {
	return normalizeSet(values, true, true)
}

// canonicalList folds case and dedupes but keeps first-seen order.
func canonicalList(values []string) string {
	return normalizeSet(values, true, false)
}

// normalizeSet quotes every member so the joined form is unambiguous even
// when members contain the separator.
func normalizeSet(values []string, fold, sorted bool) string {
	if len(values) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if sorted {
		sort.Strings(out)
	}
	for i, v := range out {
		out[i] = strconv.Quote(v)
	}
	return strings.Join(out, ",")
}

// encodeKey renders a key kind and its fields. Each field is quoted, so
// distinct field tuples never render to the same string.
func encodeKey(kind string, fields ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, f := range fields {
		b.WriteByte(':')
		b.WriteString(strconv.Quote(f))
	}
	return b.String()
}

// viewIdentity names the view by ID, or by its lowercased name when the ID
// has not been resolved yet.
func viewIdentity(in models.RegressionInput) string {
	if id := strings.TrimSpace(in.ViewID); id != "" {
		return id
	}
	return "name=" + strings.ToLower(strings.TrimSpace(in.ViewName))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// TimeKey identifies a time filter: the canonical duration for relative
// filters, millisecond bounds otherwise.
type TimeKey struct {
	Relative time.Duration
	FromMs   int64
	ToMs     int64
}

// NewTimeKey normalizes a parsed filter.
func NewTimeKey(f models.TimeFilter) TimeKey {
	if f.IsRelative() {
		return TimeKey{Relative: f.Relative}
	}
	return TimeKey{FromMs: f.From.UnixMilli(), ToMs: f.To.UnixMilli()}
}

func (k TimeKey) String() string {
	if k.Relative > 0 {
		return "last-" + k.Relative.String()
	}
	return strconv.FormatInt(k.FromMs, 10) + "/" + strconv.FormatInt(k.ToMs, 10)
}

// GraphKey identifies a graph fetch, merged or per slice.
type GraphKey struct {
	ServiceID   string
	ViewID      string
	Apps        string
	Deployments string
	Servers     string
	Volume      models.VolumeType
	Resolution  models.Resolution
	FromMs      int64
	ToMs        int64
}

// NewGraphKey normalizes a graph request.
func NewGraphKey(req models.GraphRequest) GraphKey {
	volume := req.Volume
	if volume == "" {
		volume = models.VolumeHits
	}
	return GraphKey{
		ServiceID:   strings.TrimSpace(req.ServiceID),
		ViewID:      strings.TrimSpace(req.ViewID),
		Apps:        CanonicalSet(req.Apps),
		Deployments: CanonicalSet(req.Deployments),
		Servers:     CanonicalSet(req.Servers),
		Volume:      volume,
		Resolution:  req.Resolution,
		FromMs:      req.From.UnixMilli(),
		ToMs:        req.To.UnixMilli(),
	}
}

// WithVolume returns a copy of the key for another volume type.
func (k GraphKey) WithVolume(volume models.VolumeType) GraphKey {
	k.Volume = volume
	return k
}

func (k GraphKey) String() string {
	return encodeKey("graph", k.ServiceID, k.ViewID, k.Apps, k.Deployments, k.Servers,
		string(k.Volume), k.Resolution.String(),
		strconv.FormatInt(k.FromMs, 10), strconv.FormatInt(k.ToMs, 10),
	)
}

// EventsKey identifies a raw event list fetch.
type EventsKey struct {
	ServiceID   string
	ViewID      string
	StartMs     int64
	Minutes     int
	Volume      models.VolumeType
	Apps        string
	Deployments string
	Servers     string
}

// NewEventsKey normalizes an event request.
func NewEventsKey(req models.EventRequest) EventsKey {
	volume := req.Volume
	if volume == "" {
		volume = models.VolumeHits
	}
	return EventsKey{
		ServiceID:   strings.TrimSpace(req.ServiceID),
		ViewID:      strings.TrimSpace(req.ViewID),
		StartMs:     req.Window.Start.UnixMilli(),
		Minutes:     req.Window.DurationMinutes,
		Volume:      volume,
		Apps:        CanonicalSet(req.Apps),
		Deployments: CanonicalSet(req.Deployments),
		Servers:     CanonicalSet(req.Servers),
	}
}

func (k EventsKey) String() string {
	return encodeKey("events", k.ServiceID, k.ViewID,
		strconv.FormatInt(k.StartMs, 10), strconv.Itoa(k.Minutes),
		string(k.Volume), k.Apps, k.Deployments, k.Servers,
	)
}

// WindowKey identifies a window resolution.
type WindowKey struct {
	ServiceID   string
	ViewID      string
	Time        TimeKey
	Deployments string
	MinBaseline int
	Factor      float64
	Seasonality bool
}

// NewWindowKey normalizes the parameters that determine a regression window.
func NewWindowKey(in models.RegressionInput) WindowKey {
	return WindowKey{
		ServiceID:   strings.TrimSpace(in.ServiceID),
		ViewID:      viewIdentity(in),
		Time:        NewTimeKey(in.TimeFilter),
		Deployments: CanonicalSet(in.Deployments),
		MinBaseline: in.Settings.MinBaselineTimespan,
		Factor:      in.Settings.BaselineTimespanFactor,
		Seasonality: in.Settings.ApplySeasonality,
	}
}

func (k WindowKey) String() string {
	return encodeKey("window", k.ServiceID, k.ViewID, k.Time.String(), k.Deployments,
		strconv.Itoa(k.MinBaseline), formatFloat(k.Factor), strconv.FormatBool(k.Seasonality),
	)
}

// filterKey is the normalized event filter shared by computation keys.
type filterKey struct {
	Types        string
	Transactions string
	Tiers        string
	Labels       string
	Search       string
}

func newFilterKey(spec models.EventFilterSpec) filterKey {
	return filterKey{
		Types:        foldedSet(spec.Types),
		Transactions: foldedSet(spec.Transactions),
		Tiers:        foldedSet(spec.Tiers),
		Labels:       foldedSet(spec.Labels),
		Search:       strings.ToLower(strings.TrimSpace(spec.SearchText)),
	}
}

func (f filterKey) String() string {
	return encodeKey("filter", f.Types, f.Transactions, f.Tiers, f.Labels, f.Search)
}

// RegressionKey identifies a regression computation. It covers every
// semantic input; PointsHint is deliberately absent.
type RegressionKey struct {
	ServiceID     string
	ViewID        string
	Time          TimeKey
	Deployments   string
	Apps          string
	Servers       string
	Filter        filterKey
	CriticalTypes string
	MinBaseline   int
	Factor        float64
	MinVolume     int64
	MinErrorRate  float64
	Delta         float64
	CriticalDelta float64
	Seasonality   bool
}

// NewRegressionKey normalizes a regression input.
func NewRegressionKey(in models.RegressionInput) RegressionKey {
	s := in.Settings
	return RegressionKey{
		ServiceID:     strings.TrimSpace(in.ServiceID),
		ViewID:        viewIdentity(in),
		Time:          NewTimeKey(in.TimeFilter),
		Deployments:   CanonicalSet(in.Deployments),
		Apps:          CanonicalSet(in.Apps),
		Servers:       CanonicalSet(in.Servers),
		Filter:        newFilterKey(in.Filter),
		CriticalTypes: canonicalList(in.EffectiveCriticalTypes()),
		MinBaseline:   s.MinBaselineTimespan,
		Factor:        s.BaselineTimespanFactor,
		MinVolume:     s.MinVolumeThreshold,
		MinErrorRate:  s.MinErrorRateThreshold,
		Delta:         s.RegressionDelta,
		CriticalDelta: s.CriticalRegressionDelta,
		Seasonality:   s.ApplySeasonality,
	}
}

func (k RegressionKey) String() string {
	return encodeKey("regression", k.ServiceID, k.ViewID, k.Time.String(),
		k.Deployments, k.Apps, k.Servers, k.Filter.String(), k.CriticalTypes,
		strconv.Itoa(k.MinBaseline), formatFloat(k.Factor),
		strconv.FormatInt(k.MinVolume, 10), formatFloat(k.MinErrorRate),
		formatFloat(k.Delta), formatFloat(k.CriticalDelta), strconv.FormatBool(k.Seasonality),
	)
}

// SlowdownKey identifies a transaction slowdown computation.
type SlowdownKey struct {
	Window          WindowKey
	Apps            string
	Servers         string
	Filter          filterKey
	ActiveMin       int64
	BaselineMin     int64
	MinDelta        float64
	SlowingPercent  float64
	CriticalPercent float64
	StdDevFactor    float64
}

// NewSlowdownKey normalizes a slowdown computation's inputs.
func NewSlowdownKey(in models.RegressionInput, s models.SlowdownSettings) SlowdownKey {
	return SlowdownKey{
		Window:          NewWindowKey(in),
		Apps:            CanonicalSet(in.Apps),
		Servers:         CanonicalSet(in.Servers),
		Filter:          newFilterKey(in.Filter),
		ActiveMin:       s.ActiveInvocationsThreshold,
		BaselineMin:     s.BaselineInvocationsThreshold,
		MinDelta:        s.MinDeltaThreshold,
		SlowingPercent:  s.OverAvgSlowingPercentage,
		CriticalPercent: s.OverAvgCriticalPercentage,
		StdDevFactor:    s.StdDevFactor,
	}
}

func (k SlowdownKey) String() string {
	return encodeKey("slowdown", k.Window.String(), k.Apps, k.Servers, k.Filter.String(),
		strconv.FormatInt(k.ActiveMin, 10), strconv.FormatInt(k.BaselineMin, 10),
		formatFloat(k.MinDelta), formatFloat(k.SlowingPercent),
		formatFloat(k.CriticalPercent), formatFloat(k.StdDevFactor),
	)
}

// DurableGraphKey names a slice in the durable tier. The same day can be
// fetched at different resolutions depending on the enclosing query, so the
// resolution is part of the name.
func DurableGraphKey(req models.GraphRequest) string {
	return NewGraphKey(req).String()
}

package main

import (
	"encoding/json"
	"flag"
	"hash/fnv"
	"log"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-regress/internal/models"
)

type windowRequest struct {
	ServiceID   string   `json:"service_id"`
	ViewID      string   `json:"view_id"`
	Name        string   `json:"name"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Resolution  string   `json:"resolution"`
	Apps        []string `json:"apps"`
	Deployments []string `json:"deployments"`
	ActiveOnly  bool     `json:"active_only"`
}

// releaseAge is how long ago the current deployment went live. Events first
// seen after it are "new", and error rates climb after it.
const releaseAge = 2 * time.Hour

var events = []models.EventRecord{
	{ID: "1", Type: models.EventLoggedError, Name: "payment declined", EntryPoint: models.Location{Class: "com.shop.Checkout", Method: "pay"}},
	{ID: "2", Type: models.EventCaughtException, Name: "SQLTimeoutException", EntryPoint: models.Location{Class: "com.shop.Inventory", Method: "reserve"}, SimilarIDs: []string{"3"}},
	{ID: "3", Type: models.EventCaughtException, Name: "SQLTimeoutException", EntryPoint: models.Location{Class: "com.shop.Inventory", Method: "release"}, SimilarIDs: []string{"2"}},
	{ID: "4", Type: models.EventUncaughtException, Name: "NullPointerException", EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"}},
	{ID: "5", Type: models.EventTimer, Name: "checkout > 2s", EntryPoint: models.Location{Class: "com.shop.Cart", Method: "checkout"}},
}

var transactions = []string{
	"com.shop.Cart#checkout#()V",
	"com.shop.Checkout#pay#(Ljava/lang/String;)V",
	"com.shop.Inventory#reserve#(I)Z",
	"com.shop.Search#query#(Ljava/lang/String;)Ljava/util/List;",
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	release := time.Now().UTC().Add(-releaseAge)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/views", post(func(w http.ResponseWriter, req windowRequest) {
		writeJSON(w, map[string]any{"views": []models.View{{ID: "17", Name: "All Events"}, {ID: "18", Name: "Errors"}}})
	}))

	mux.HandleFunc("/api/v1/events", post(func(w http.ResponseWriter, req windowRequest) {
		out := make([]models.EventRecord, 0, len(events))
		for _, e := range events {
			e.FirstSeen = release.Add(-30 * 24 * time.Hour)
			if e.ID == "4" {
				e.FirstSeen = release.Add(10 * time.Minute)
			}
			out = append(out, e)
		}
		writeJSON(w, map[string]any{"events": out})
	}))

	mux.HandleFunc("/api/v1/events/volume", post(func(w http.ResponseWriter, req windowRequest) {
		from, to, ok := bounds(w, req)
		if !ok {
			return
		}
		out := make([]models.EventVolume, 0, len(events))
		for _, e := range events {
			hits, invocations := volume(e.ID, from, to, release)
			out = append(out, models.EventVolume{ID: e.ID, Stats: models.Stats{Hits: hits, Invocations: invocations}})
		}
		writeJSON(w, map[string]any{"events": out})
	}))

	mux.HandleFunc("/api/v1/graph", post(func(w http.ResponseWriter, req windowRequest) {
		from, to, ok := bounds(w, req)
		if !ok {
			return
		}
		step := resolution(req.Resolution)
		graph := models.Graph{ID: req.ViewID, Type: "hits"}
		for t := from; t.Before(to); t = t.Add(step) {
			end := t.Add(step)
			if end.After(to) {
				end = to
			}
			point := models.GraphPoint{Time: t.UnixMilli()}
			for _, e := range events {
				hits, invocations := volume(e.ID, t, end, release)
				if invocations == 0 {
					continue
				}
				point.Contributors = append(point.Contributors, models.Contributor{ID: e.ID, Hits: hits, Invocations: invocations})
			}
			graph.Points = append(graph.Points, point)
		}
		writeJSON(w, map[string]any{"graph": graph})
	}))

	mux.HandleFunc("/api/v1/transactions/graph", post(func(w http.ResponseWriter, req windowRequest) {
		from, to, ok := bounds(w, req)
		if !ok {
			return
		}
		step := resolution(req.Resolution)
		graphs := make([]models.TransactionGraph, 0, len(transactions))
		for i, name := range transactions {
			g := models.TransactionGraph{Name: name}
			for t := from; t.Before(to); t = t.Add(step) {
				avg := 120 + float64(10*i) + float64(jitter(name, t)%15)
				if i == 0 && !t.Before(release) {
					avg *= 2.5
				}
				g.Points = append(g.Points, models.TransactionPoint{
					Time:        t.UnixMilli(),
					Invocations: int64(step/time.Minute) * 40,
					AvgTimeMs:   avg,
				})
			}
			graphs = append(graphs, g)
		}
		writeJSON(w, map[string]any{"graphs": graphs})
	}))

	mux.HandleFunc("/api/v1/deployments", post(func(w http.ResponseWriter, req windowRequest) {
		deployments := []models.Deployment{
			{Name: "v41", FirstSeen: release.Add(-14 * 24 * time.Hour), LastSeen: release},
			{Name: "v42", FirstSeen: release, Active: true},
		}
		if req.ActiveOnly {
			deployments = deployments[1:]
		}
		writeJSON(w, map[string]any{"deployments": deployments})
	}))

	mux.HandleFunc("/api/v1/processes", post(func(w http.ResponseWriter, req windowRequest) {
		writeJSON(w, map[string]any{"processes": []models.Process{
			{AppName: "storefront", MachineName: "web-1", DeploymentName: "v42", PIDCount: 2},
			{AppName: "storefront", MachineName: "web-2", DeploymentName: "v42", PIDCount: 2},
			{AppName: "inventory", MachineName: "svc-1", DeploymentName: "v42", PIDCount: 1},
		}})
	}))

	logger := log.New(log.Writer(), "apm-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// volume returns deterministic per-event counters for [from, to). Event 1
// regresses after the release and event 4 only exists after it.
func volume(id string, from, to, release time.Time) (int64, int64) {
	minutes := int64(to.Sub(from) / time.Minute)
	if minutes <= 0 {
		return 0, 0
	}
	invocations := minutes * 200
	rate := map[string]int64{"1": 5, "2": 3, "3": 2, "4": 0, "5": 1}[id]
	if !from.Before(release) {
		switch id {
		case "1":
			rate = 40
		case "4":
			rate = 25
		}
	}
	return invocations * rate / 1000, invocations
}

func jitter(name string, t time.Time) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(t.Format(time.RFC3339)))
	return h.Sum32()
}

func resolution(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func bounds(w http.ResponseWriter, req windowRequest) (time.Time, time.Time, bool) {
	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil || !to.After(from) {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from.UTC(), to.UTC(), true
}

func post(handle func(http.ResponseWriter, windowRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req windowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		handle(w, req)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

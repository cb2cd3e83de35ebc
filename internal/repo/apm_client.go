package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/miradorstack/mirador-regress/internal/models"
)

// Paths names the APM backend endpoints relative to the base URL.
type Paths struct {
	Views        string `yaml:"views"`
	Events       string `yaml:"events"`
	EventVolume  string `yaml:"eventVolume"`
	Graph        string `yaml:"graph"`
	Transactions string `yaml:"transactions"`
	Deployments  string `yaml:"deployments"`
	Processes    string `yaml:"processes"`
}

// DefaultPaths returns the stock endpoint layout.
func DefaultPaths() Paths {
	return Paths{
		Views:        "/api/v1/views",
		Events:       "/api/v1/events",
		EventVolume:  "/api/v1/events/volume",
		Graph:        "/api/v1/graph",
		Transactions: "/api/v1/transactions/graph",
		Deployments:  "/api/v1/deployments",
		Processes:    "/api/v1/processes",
	}
}

// BreakerConfig tunes the client's circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"maxRequests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
}

// APMConfig configures an APMClient.
type APMConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Paths   Paths
	Breaker BreakerConfig
	Logger  *slog.Logger
}

// StatusError is a non-200 answer from the backend.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apm backend returned %s", e.Status)
}

// APMClient talks JSON over HTTP to the APM backend. All calls share one
// circuit breaker so a failing backend is shed quickly.
type APMClient struct {
	baseURL    string
	apiKey     string
	paths      Paths
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewAPMClient constructs a client targeting cfg.BaseURL.
func NewAPMClient(cfg APMConfig) *APMClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paths := mergePaths(cfg.Paths, DefaultPaths())
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	failures := cfg.Breaker.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	client := &APMClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		paths:      paths,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "apm:" + client.Target(),
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var status *StatusError
			if errors.As(err, &status) {
				return status.Code < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("apm circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return client
}

func mergePaths(p, defaults Paths) Paths {
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	return Paths{
		Views:        pick(p.Views, defaults.Views),
		Events:       pick(p.Events, defaults.Events),
		EventVolume:  pick(p.EventVolume, defaults.EventVolume),
		Graph:        pick(p.Graph, defaults.Graph),
		Transactions: pick(p.Transactions, defaults.Transactions),
		Deployments:  pick(p.Deployments, defaults.Deployments),
		Processes:    pick(p.Processes, defaults.Processes),
	}
}

// Target names the backend for worker pool partitioning.
func (c *APMClient) Target() string {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return c.baseURL
	}
	return u.Host
}

type windowPayload struct {
	ServiceID   string   `json:"service_id"`
	ViewID      string   `json:"view_id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	VolumeType  string   `json:"volume_type,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	Apps        []string `json:"apps,omitempty"`
	Deployments []string `json:"deployments,omitempty"`
	Servers     []string `json:"servers,omitempty"`
}

func eventPayload(req models.EventRequest) windowPayload {
	return windowPayload{
		ServiceID:   req.ServiceID,
		ViewID:      req.ViewID,
		From:        req.Window.Start.UTC().Format(time.RFC3339),
		To:          req.Window.End().UTC().Format(time.RFC3339),
		VolumeType:  string(req.Volume),
		Apps:        req.Apps,
		Deployments: req.Deployments,
		Servers:     req.Servers,
	}
}

// FetchView resolves a view by name or ID. A missing view returns nil.
func (c *APMClient) FetchView(ctx context.Context, serviceID, name string) (*models.View, error) {
	payload := map[string]any{"service_id": serviceID, "name": name}
	var response struct {
		Views []models.View `json:"views"`
	}
	if err := c.postJSON(ctx, c.paths.Views, payload, &response); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("apm views request failed: %w", err)
	}
	for _, v := range response.Views {
		if strings.EqualFold(v.Name, name) || v.ID == name {
			view := v
			return &view, nil
		}
	}
	return nil, nil
}

// FetchEventList returns the events seen in the request window.
func (c *APMClient) FetchEventList(ctx context.Context, req models.EventRequest) ([]*models.EventRecord, error) {
	var response struct {
		Events []*models.EventRecord `json:"events"`
	}
	if err := c.postJSON(ctx, c.paths.Events, eventPayload(req), &response); err != nil {
		return nil, fmt.Errorf("apm events request failed: %w", err)
	}
	events := response.Events[:0]
	for _, e := range response.Events {
		if e != nil && e.ID != "" {
			events = append(events, e)
		}
	}
	return events, nil
}

// FetchEventVolume returns per-event counters without event metadata.
func (c *APMClient) FetchEventVolume(ctx context.Context, req models.EventRequest) ([]models.EventVolume, error) {
	var response struct {
		Events []models.EventVolume `json:"events"`
	}
	if err := c.postJSON(ctx, c.paths.EventVolume, eventPayload(req), &response); err != nil {
		return nil, fmt.Errorf("apm event volume request failed: %w", err)
	}
	return response.Events, nil
}

// FetchGraph returns the hit/invocation graph for one interval.
func (c *APMClient) FetchGraph(ctx context.Context, req models.GraphRequest) (*models.Graph, error) {
	payload := windowPayload{
		ServiceID:   req.ServiceID,
		ViewID:      req.ViewID,
		From:        req.From.UTC().Format(time.RFC3339),
		To:          req.To.UTC().Format(time.RFC3339),
		VolumeType:  string(req.Volume),
		Resolution:  req.Resolution.String(),
		Apps:        req.Apps,
		Deployments: req.Deployments,
		Servers:     req.Servers,
	}
	var response struct {
		Graph *models.Graph `json:"graph"`
	}
	if err := c.postJSON(ctx, c.paths.Graph, payload, &response); err != nil {
		return nil, fmt.Errorf("apm graph request failed: %w", err)
	}
	return response.Graph, nil
}

// FetchTransactionGraphs returns per-transaction latency series.
func (c *APMClient) FetchTransactionGraphs(ctx context.Context, req models.TransactionRequest) ([]models.TransactionGraph, error) {
	payload := windowPayload{
		ServiceID:   req.ServiceID,
		ViewID:      req.ViewID,
		From:        req.Window.Start.UTC().Format(time.RFC3339),
		To:          req.Window.End().UTC().Format(time.RFC3339),
		Resolution:  req.Resolution.String(),
		Apps:        req.Apps,
		Deployments: req.Deployments,
		Servers:     req.Servers,
	}
	var response struct {
		Graphs []models.TransactionGraph `json:"graphs"`
	}
	if err := c.postJSON(ctx, c.paths.Transactions, payload, &response); err != nil {
		return nil, fmt.Errorf("apm transactions request failed: %w", err)
	}
	return response.Graphs, nil
}

// FetchDeployments lists deployments of a service.
func (c *APMClient) FetchDeployments(ctx context.Context, serviceID string, activeOnly bool) ([]models.Deployment, error) {
	payload := map[string]any{"service_id": serviceID, "active_only": activeOnly}
	var response struct {
		Deployments []models.Deployment `json:"deployments"`
	}
	if err := c.postJSON(ctx, c.paths.Deployments, payload, &response); err != nil {
		return nil, fmt.Errorf("apm deployments request failed: %w", err)
	}
	return response.Deployments, nil
}

// FetchProcesses lists monitored processes of a service.
func (c *APMClient) FetchProcesses(ctx context.Context, serviceID string) ([]models.Process, error) {
	payload := map[string]any{"service_id": serviceID}
	var response struct {
		Processes []models.Process `json:"processes"`
	}
	if err := c.postJSON(ctx, c.paths.Processes, payload, &response); err != nil {
		return nil, fmt.Errorf("apm processes request failed: %w", err)
	}
	return response.Processes, nil
}

func (c *APMClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *APMClient) postJSON(ctx context.Context, p string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("apm client not initialised")
	}
	endpoint := c.resolvePath(p)
	if endpoint == "" {
		return fmt.Errorf("apm base URL not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
		}
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}

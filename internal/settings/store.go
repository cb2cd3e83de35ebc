package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

// ErrMissingSettings is returned when neither the service nor the defaults
// define a settings block. It matches utils.ErrConfiguration.
var ErrMissingSettings = fmt.Errorf("missing settings: %w", utils.ErrConfiguration)

// Document is the on-disk layout of the settings file.
type Document struct {
	Defaults models.ServiceSettings            `yaml:"defaults"`
	Services map[string]models.ServiceSettings `yaml:"services"`
}

// Store serves per-service thresholds. Service blocks replace the matching
// default block as a whole.
type Store struct {
	mu     sync.RWMutex
	path   string
	doc    Document
	logger *slog.Logger
}

// NewStore wraps an in-memory document.
func NewStore(doc Document, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	return &Store{doc: normalize(doc), logger: logger}, nil
}

// Load reads a settings document from path.
func Load(path string, logger *slog.Logger) (*Store, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(doc, logger)
	if err != nil {
		return nil, err
	}
	store.path = path
	store.logger.Info("settings loaded", slog.String("path", path), slog.Int("services", len(doc.Services)))
	return store, nil
}

// Reload re-reads the backing file. The previous document stays in place on
// failure.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("settings: store has no backing file")
	}
	doc, err := readDocument(s.path)
	if err != nil {
		return err
	}
	if err := validate(doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = normalize(doc)
	s.mu.Unlock()
	return nil
}

func readDocument(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, utils.ConfigError("settings", "parse %s: %v", path, err)
	}
	return doc, nil
}

func normalize(doc Document) Document {
	services := make(map[string]models.ServiceSettings, len(doc.Services))
	for id, svc := range doc.Services {
		services[strings.ToLower(strings.TrimSpace(id))] = svc
	}
	doc.Services = services
	return doc
}

func validate(doc Document) error {
	check := func(scope string, svc models.ServiceSettings) error {
		if r := svc.Regression; r != nil {
			if r.MinBaselineTimespan < 0 {
				return utils.ConfigError("settings", "%s: min_baseline_timespan must not be negative", scope)
			}
			if r.BaselineTimespanFactor <= 0 {
				return utils.ConfigError("settings", "%s: baseline_timespan_factor must be positive", scope)
			}
		}
		if sd := svc.Slowdown; sd != nil {
			if sd.OverAvgCriticalPercentage < sd.OverAvgSlowingPercentage {
				return utils.ConfigError("settings", "%s: critical percentage below slowing percentage", scope)
			}
		}
		return nil
	}
	if err := check("defaults", doc.Defaults); err != nil {
		return err
	}
	for id, svc := range doc.Services {
		if err := check(id, svc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) service(serviceID string) (models.ServiceSettings, models.ServiceSettings) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Services[strings.ToLower(strings.TrimSpace(serviceID))], s.doc.Defaults
}

// Regression returns the regression thresholds for serviceID.
func (s *Store) Regression(_ context.Context, serviceID string) (models.RegressionSettings, error) {
	svc, defaults := s.service(serviceID)
	block := svc.Regression
	if block == nil {
		block = defaults.Regression
	}
	if block == nil {
		return models.RegressionSettings{}, fmt.Errorf("regression settings for %q: %w", serviceID, ErrMissingSettings)
	}
	out := *block
	out.CriticalExceptionTypes = append([]string(nil), block.CriticalExceptionTypes...)
	return out, nil
}

// Slowdown returns the slowdown thresholds for serviceID.
func (s *Store) Slowdown(_ context.Context, serviceID string) (models.SlowdownSettings, error) {
	svc, defaults := s.service(serviceID)
	block := svc.Slowdown
	if block == nil {
		block = defaults.Slowdown
	}
	if block == nil {
		return models.SlowdownSettings{}, fmt.Errorf("slowdown settings for %q: %w", serviceID, ErrMissingSettings)
	}
	return *block, nil
}

// Scoring returns the report weights for serviceID.
func (s *Store) Scoring(_ context.Context, serviceID string) (models.ScoringWeights, error) {
	svc, defaults := s.service(serviceID)
	block := svc.Scoring
	if block == nil {
		block = defaults.Scoring
	}
	if block == nil {
		return models.ScoringWeights{}, fmt.Errorf("scoring weights for %q: %w", serviceID, ErrMissingSettings)
	}
	return *block, nil
}

// Tiers returns tier name to class-prefix mappings. A service without tiers
// yields an empty map.
func (s *Store) Tiers(_ context.Context, serviceID string) (map[string][]string, error) {
	svc, defaults := s.service(serviceID)
	src := svc.Tiers
	if src == nil {
		src = defaults.Tiers
	}
	out := make(map[string][]string, len(src))
	for name, prefixes := range src {
		out[name] = append([]string(nil), prefixes...)
	}
	return out, nil
}

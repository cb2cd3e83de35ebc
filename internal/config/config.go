package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-regress/internal/repo"
)

// Graph store kinds for the durable cache tier.
const (
	GraphStoreNone   = "none"
	GraphStoreFolder = "folder"
	GraphStoreRedis  = "redis"
)

// Config captures the settings required to boot the regression service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  ClientsConfig  `yaml:"clients"`
	Logging  LoggingConfig  `yaml:"logging"`
	Settings SettingsConfig `yaml:"settings"`
	Cache    CacheConfig    `yaml:"cache"`
	Workers  WorkersConfig  `yaml:"workers"`
	Slicing  SlicingConfig  `yaml:"slicing"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	Reflection      bool          `yaml:"reflection"`
}

// ClientsConfig groups backend integrations.
type ClientsConfig struct {
	APM APMClientConfig `yaml:"apm"`
}

// APMClientConfig configures access to the APM backend APIs.
type APMClientConfig struct {
	BaseURL string             `yaml:"baseURL"`
	APIKey  string             `yaml:"apiKey"`
	Timeout time.Duration      `yaml:"timeout"`
	Paths   repo.Paths         `yaml:"paths"`
	Breaker repo.BreakerConfig `yaml:"breaker"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SettingsConfig points at the per-service threshold document.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the in-memory tiers and the durable graph store.
type CacheConfig struct {
	TTL        time.Duration    `yaml:"ttl"`
	Size       int              `yaml:"size"`
	GraphStore GraphStoreConfig `yaml:"graphStore"`
}

// GraphStoreConfig selects and configures the durable tier.
type GraphStoreConfig struct {
	Kind         string        `yaml:"kind"`
	TTL          time.Duration `yaml:"ttl"`
	Dir          string        `yaml:"dir"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	Prefix       string        `yaml:"prefix"`
}

// WorkersConfig bounds backend query and function concurrency per target.
type WorkersConfig struct {
	QueryPoolSize    int `yaml:"queryPoolSize"`
	FunctionPoolSize int `yaml:"functionPoolSize"`
}

// SlicingConfig toggles day-sliced graph fetching.
type SlicingConfig struct {
	Dynamic bool `yaml:"dynamic"`
}

// TracingConfig controls OpenTelemetry export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_REGRESS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Cache.GraphStore.Kind {
	case "", GraphStoreNone:
	case GraphStoreFolder:
		if c.Cache.GraphStore.Dir == "" {
			return fmt.Errorf("cache.graphStore.dir is required for the folder store")
		}
	case GraphStoreRedis:
		if c.Cache.GraphStore.Addr == "" {
			return fmt.Errorf("cache.graphStore.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown cache.graphStore.kind %q", c.Cache.GraphStore.Kind)
	}
	if c.Workers.QueryPoolSize < 0 || c.Workers.FunctionPoolSize < 0 {
		return fmt.Errorf("worker pool sizes must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sampleRatio must be within [0, 1]")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			Reflection:      true,
		},
		Clients: ClientsConfig{
			APM: APMClientConfig{
				Timeout: 10 * time.Second,
				Paths:   repo.DefaultPaths(),
			},
		},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Settings: SettingsConfig{Path: "configs/settings/default.yaml"},
		Cache: CacheConfig{
			TTL:  time.Minute,
			Size: 1024,
			GraphStore: GraphStoreConfig{
				Kind:         GraphStoreNone,
				TTL:          7 * 24 * time.Hour,
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		Workers: WorkersConfig{QueryPoolSize: 8, FunctionPoolSize: 4},
		Slicing: SlicingConfig{Dynamic: true},
		Tracing: TracingConfig{ServiceName: "mirador-regress", SampleRatio: 1},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_REGRESS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_APM_BASE_URL"); v != "" {
		cfg.Clients.APM.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_APM_API_KEY"); v != "" {
		cfg.Clients.APM.APIKey = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_APM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.APM.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REGRESS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_REGRESS_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("MIRADOR_REGRESS_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Size = n
		}
	}
	if v := os.Getenv("MIRADOR_REGRESS_GRAPH_STORE"); v != "" {
		cfg.Cache.GraphStore.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_REGRESS_GRAPH_STORE_DIR"); v != "" {
		cfg.Cache.GraphStore.Dir = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_GRAPH_STORE_ADDR"); v != "" {
		cfg.Cache.GraphStore.Addr = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_GRAPH_STORE_USERNAME"); v != "" {
		cfg.Cache.GraphStore.Username = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_GRAPH_STORE_PASSWORD"); v != "" {
		cfg.Cache.GraphStore.Password = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_GRAPH_STORE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.GraphStore.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_REGRESS_QUERY_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.QueryPoolSize = n
		}
	}
	if v := os.Getenv("MIRADOR_REGRESS_FUNCTION_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.FunctionPoolSize = n
		}
	}
	if v := os.Getenv("MIRADOR_REGRESS_DYNAMIC_SLICING"); v != "" {
		cfg.Slicing.Dynamic = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_REGRESS_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_REGRESS_OTLP_INSECURE"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Tracing.Insecure = true
	}
	if v := os.Getenv("MIRADOR_REGRESS_TRACE_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRatio = r
		}
	}
}

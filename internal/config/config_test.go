package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_REGRESS_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":50051" || cfg.Cache.TTL != time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Clients.APM.Paths.Events != "/api/v1/events" {
		t.Fatalf("expected default backend paths, got %+v", cfg.Clients.APM.Paths)
	}
	if !cfg.Slicing.Dynamic || cfg.Workers.QueryPoolSize != 8 {
		t.Fatalf("unexpected slicing/workers defaults %+v %+v", cfg.Slicing, cfg.Workers)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  address: ":6000"
clients:
  apm:
    baseURL: http://apm.local
    timeout: 3s
    paths:
      events: /v2/events
cache:
  ttl: 90s
  graphStore:
    kind: folder
    dir: /tmp/graphs
workers:
  queryPoolSize: 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_REGRESS_LOG_LEVEL", "debug")
	t.Setenv("MIRADOR_REGRESS_FUNCTION_POOL_SIZE", "6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":6000" || cfg.Clients.APM.BaseURL != "http://apm.local" || cfg.Clients.APM.Timeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Clients.APM.Paths.Events != "/v2/events" || cfg.Clients.APM.Paths.Graph != "/api/v1/graph" {
		t.Fatalf("expected partial path override, got %+v", cfg.Clients.APM.Paths)
	}
	if cfg.Cache.TTL != 90*time.Second || cfg.Cache.GraphStore.Kind != GraphStoreFolder {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Logging.Level != "debug" || cfg.Workers.FunctionPoolSize != 6 || cfg.Workers.QueryPoolSize != 2 {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Logging, cfg.Workers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateGraphStore(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cache.GraphStore.Kind = GraphStoreRedis
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected redis store without addr to fail")
	}
	cfg.Cache.GraphStore.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Cache.GraphStore.Kind = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

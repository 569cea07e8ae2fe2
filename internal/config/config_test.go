package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Storage.UseMemory() {
		t.Errorf("Storage.Mode = %q, want memory", cfg.Storage.Mode)
	}
	if cfg.Context.Cache != BackendMemory {
		t.Errorf("Context.Cache = %q, want memory", cfg.Context.Cache)
	}
	if cfg.Context.DefaultTTL != 15*time.Minute {
		t.Errorf("Context.DefaultTTL = %v, want 15m", cfg.Context.DefaultTTL)
	}
	if cfg.Correlator.Workers != 4 {
		t.Errorf("Correlator.Workers = %d, want 4", cfg.Correlator.Workers)
	}
	if len(cfg.Correlator.Rules) != len(DefaultRules()) {
		t.Errorf("Correlator.Rules = %v, want defaults", cfg.Correlator.Rules)
	}
}

func TestLoad_StorageModeDefaultsToRedisCache(t *testing.T) {
	path := writeConfig(t, "config.yaml", "storage:\n  mode: storage\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Context.Cache != BackendRedis {
		t.Errorf("Context.Cache = %q, want redis", cfg.Context.Cache)
	}
}

func TestLoad_YAMLSections(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
context:
  durable: nats
  default_ttl: 2m
correlator:
  rule_timeout: 5s
  priorities:
    DOWN: 1
  silenced: [lab1]
  rules:
    - name: topology
    - name: hls
      depends_on: [topology]
topology:
  dependencies:
    - item: host2
      depends_on: [host1]
  hls:
    - name: web
      items: [host2/http]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Context.Durable != BackendNATS || cfg.Context.DefaultTTL != 2*time.Minute {
		t.Errorf("Context = %+v", cfg.Context)
	}
	if cfg.Correlator.RuleTimeout != 5*time.Second {
		t.Errorf("RuleTimeout = %v, want 5s", cfg.Correlator.RuleTimeout)
	}
	if cfg.Correlator.Priorities["DOWN"] != 1 {
		t.Errorf("Priorities = %v", cfg.Correlator.Priorities)
	}
	if len(cfg.Correlator.Rules) != 2 || !slices.Equal(cfg.Correlator.Rules[1].DependsOn, []string{"topology"}) {
		t.Errorf("Rules = %+v", cfg.Correlator.Rules)
	}
	if len(cfg.Topology.Dependencies) != 1 || cfg.Topology.Dependencies[0].Item != "host2" {
		t.Errorf("Topology.Dependencies = %+v", cfg.Topology.Dependencies)
	}
	if len(cfg.Topology.HLS) != 1 || cfg.Topology.HLS[0].Name != "web" {
		t.Errorf("Topology.HLS = %+v", cfg.Topology.HLS)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
port = 7070

[context]
default_ttl = "30s"

[correlator]
workers = 8
silenced = ["lab1", "lab2/ssh"]

[[topology.dependencies]]
item = "host3"
depends_on = ["host2"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Context.DefaultTTL != 30*time.Second {
		t.Errorf("Context.DefaultTTL = %v, want 30s", cfg.Context.DefaultTTL)
	}
	if cfg.Correlator.Workers != 8 {
		t.Errorf("Correlator.Workers = %d, want 8", cfg.Correlator.Workers)
	}
	if !slices.Equal(cfg.Correlator.Silenced, []string{"lab1", "lab2/ssh"}) {
		t.Errorf("Silenced = %v", cfg.Correlator.Silenced)
	}
	if len(cfg.Topology.Dependencies) != 1 || cfg.Topology.Dependencies[0].DependsOn[0] != "host2" {
		t.Errorf("Topology.Dependencies = %+v", cfg.Topology.Dependencies)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "storage mode", yaml: "storage:\n  mode: disk\n"},
		{name: "cache backend", yaml: "context:\n  cache: nats\n"},
		{name: "durable backend", yaml: "context:\n  durable: memcached\n"},
		{name: "output", yaml: "correlator:\n  output: smtp\n"},
		{name: "unnamed rule", yaml: "correlator:\n  rules:\n    - depends_on: [x]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse should fail")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

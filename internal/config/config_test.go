package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kviflow/kviflow/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigFile(writeConfig(t, "")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("session.backend = %q, want memory", cfg.Session.Backend)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("session.ttl = %v, want 1h", cfg.Session.TTL)
	}
	if cfg.Pipeline.ExtractMaxCategories != 1 {
		t.Errorf("extract_max_categories = %d, want 1", cfg.Pipeline.ExtractMaxCategories)
	}
	if cfg.Provider.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("provider.base_url = %q", cfg.Provider.BaseURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
session:
  backend: json
  path: /tmp/sessions.json
  ttl: 30m
provider:
  models:
    extract: some/other-model
`)
	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Session.Backend != "json" || cfg.Session.Path != "/tmp/sessions.json" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("session.ttl = %v, want 30m", cfg.Session.TTL)
	}
	if got := cfg.Provider.ModelFor(core.StageExtract); got != "some/other-model" {
		t.Errorf("ModelFor(extract) = %q, want override", got)
	}
	if got := cfg.Provider.ModelFor(core.StageIntake); got != "google/gemini-2.5-flash" {
		t.Errorf("ModelFor(intake) = %q, want conversational default", got)
	}
	if got := cfg.Provider.ModelFor(core.StageCompute); got != "openai/gpt-5-mini" {
		t.Errorf("ModelFor(compute) = %q, want structured default", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KVIFLOW_SERVER_PORT", "7070")
	t.Setenv("KVIFLOW_LOG_LEVEL", "debug")
	cfg, err := NewLoader().WithConfigFile(writeConfig(t, "")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070 from env", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug from env", cfg.Log.Level)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader().WithConfigFile("/nonexistent/kviflow.yaml").Load()
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: 8080},
			Session: SessionConfig{Backend: "memory", TTL: time.Hour},
			Provider: ProviderConfig{
				ConversationalModel: "a/b",
				StructuredModel:     "c/d",
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 accepted")
	}

	cfg = base()
	cfg.Session.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend accepted")
	}

	cfg = base()
	cfg.Session.Backend = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Error("sqlite backend without path accepted")
	}

	cfg = base()
	cfg.Pipeline.ExtractMaxCategories = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative extract cap accepted")
	}

	cfg = base()
	cfg.Provider.StructuredModel = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty structured model accepted")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kviflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

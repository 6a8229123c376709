package config

import (
	"fmt"
	"time"

	"github.com/kviflow/kviflow/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Session  SessionConfig  `mapstructure:"session"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	EnableCORS   bool     `mapstructure:"enable_cors"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProviderConfig configures the OpenRouter generation provider.
type ProviderConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// ConversationalModel serves the interview stages, StructuredModel the
	// schema-validated ones. Models overrides either per stage name.
	ConversationalModel string            `mapstructure:"conversational_model"`
	StructuredModel     string            `mapstructure:"structured_model"`
	Models              map[string]string `mapstructure:"models"`
}

// ModelFor resolves the model for a stage.
func (p ProviderConfig) ModelFor(stage core.Stage) string {
	if m, ok := p.Models[stage.String()]; ok && m != "" {
		return m
	}
	if stage.Conversational() {
		return p.ConversationalModel
	}
	return p.StructuredModel
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	Backend string        `mapstructure:"backend"` // memory, json, sqlite
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// PipelineConfig configures pipeline behavior.
type PipelineConfig struct {
	// ExtractMaxCategories caps how many categories the extract stage may
	// select. 0 means uncapped.
	ExtractMaxCategories int `mapstructure:"extract_max_categories"`
}

// TaxonomyConfig configures the KVI reference data source.
type TaxonomyConfig struct {
	// Path points at an external taxonomy YAML file; empty uses the
	// embedded data.
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Session.Backend {
	case "memory", "json", "sqlite":
	default:
		return fmt.Errorf("session.backend must be memory, json or sqlite, got %q", c.Session.Backend)
	}
	if c.Session.Backend != "memory" && c.Session.Path == "" {
		return fmt.Errorf("session.path required for backend %q", c.Session.Backend)
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must not be negative")
	}
	if c.Pipeline.ExtractMaxCategories < 0 {
		return fmt.Errorf("pipeline.extract_max_categories must not be negative")
	}
	if c.Provider.ConversationalModel == "" || c.Provider.StructuredModel == "" {
		return fmt.Errorf("provider models must not be empty")
	}
	return nil
}

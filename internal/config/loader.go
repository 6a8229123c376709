package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "KVIFLOW",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "KVIFLOW",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load reads configuration from file, environment and defaults,
// in increasing priority: defaults < config file < environment.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".kviflow")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "kviflow"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if l.configFile != "" {
			return nil, fmt.Errorf("read config %s: %w", l.configFile, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file present, defaults and env still apply.
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.enable_cors", true)
	l.v.SetDefault("server.allow_origins", []string{"*"})

	l.v.SetDefault("provider.base_url", "https://openrouter.ai/api/v1")
	l.v.SetDefault("provider.timeout", "120s")
	l.v.SetDefault("provider.conversational_model", "google/gemini-2.5-flash")
	l.v.SetDefault("provider.structured_model", "openai/gpt-5-mini")

	l.v.SetDefault("session.backend", "memory")
	l.v.SetDefault("session.ttl", "1h")

	l.v.SetDefault("pipeline.extract_max_categories", 1)

	l.v.SetDefault("taxonomy.watch", false)
}

// Get retrieves a raw configuration value by key.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set overrides a configuration value. Intended for tests and CLI flags.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// IsSet reports whether a key was set by any source.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

package session

import (
	"fmt"

	"github.com/kviflow/kviflow/internal/config"
	"github.com/kviflow/kviflow/internal/core"
)

// New builds the session store selected by configuration.
func New(cfg config.SessionConfig) (core.SessionStore, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(cfg.TTL), nil
	case "json":
		return NewJSONStore(cfg.Path, cfg.TTL)
	case "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown session backend: %q", cfg.Backend)
	}
}

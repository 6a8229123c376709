package cmd

import (
	"fmt"

	"github.com/kviflow/kviflow/internal/config"
	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/logging"
	"github.com/kviflow/kviflow/internal/orchestrator"
	"github.com/kviflow/kviflow/internal/provider"
	"github.com/kviflow/kviflow/internal/session"
	"github.com/kviflow/kviflow/internal/stage"
	"github.com/kviflow/kviflow/internal/taxonomy"
)

// pipelineDeps bundles everything a command needs to run turns.
type pipelineDeps struct {
	orch     *orchestrator.Orchestrator
	sessions core.SessionStore
	closers  []func() error
}

// Close releases the pipeline's resources.
func (d *pipelineDeps) Close() {
	for _, c := range d.closers {
		_ = c()
	}
}

// loadReferenceData picks the taxonomy source: embedded data, an
// external file, or a watched external file.
func loadReferenceData(cfg *config.Config, logger *logging.Logger) (core.ReferenceData, func() error, error) {
	if cfg.Taxonomy.Path == "" {
		tax, err := taxonomy.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("loading embedded taxonomy: %w", err)
		}
		return tax, nil, nil
	}
	if cfg.Taxonomy.Watch {
		watcher, err := taxonomy.NewWatcher(cfg.Taxonomy.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("watching taxonomy: %w", err)
		}
		return watcher, watcher.Close, nil
	}
	tax, err := taxonomy.LoadFile(cfg.Taxonomy.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading taxonomy: %w", err)
	}
	return tax, nil, nil
}

// buildPipeline wires the orchestrator from configuration.
func buildPipeline(cfg *config.Config, logger *logging.Logger) (*pipelineDeps, error) {
	deps := &pipelineDeps{}

	ref, closeRef, err := loadReferenceData(cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeRef != nil {
		deps.closers = append(deps.closers, closeRef)
	}

	sessions, err := session.New(cfg.Session)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	deps.sessions = sessions
	deps.closers = append(deps.closers, sessions.Close)

	agent, err := provider.NewOpenRouter(cfg.Provider, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	registry := stage.NewRegistry(logger,
		stage.WithMaxSelections(cfg.Pipeline.ExtractMaxCategories),
		stage.WithModels(cfg.Provider.ModelFor),
	)

	orch, err := orchestrator.New(registry, agent, sessions, ref, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	deps.orch = orch
	return deps, nil
}

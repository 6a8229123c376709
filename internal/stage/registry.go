package stage

import (
	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/logging"
)

// Option adjusts the descriptor table before validation.
type Option func([]Descriptor)

// WithMaxSelections overrides the extract stage's category cap.
// 0 removes the cap.
func WithMaxSelections(n int) Option {
	return func(descs []Descriptor) {
		for i := range descs {
			if descs[i].Name == core.StageExtract {
				descs[i].MaxSelections = n
			}
		}
	}
}

// WithModels resolves each descriptor's model through fn, typically
// config.ProviderConfig.ModelFor. An empty result keeps the default.
func WithModels(fn func(core.Stage) string) Option {
	return func(descs []Descriptor) {
		if fn == nil {
			return
		}
		for i := range descs {
			if m := fn(descs[i].Name); m != "" {
				descs[i].Model = m
			}
		}
	}
}

// Registry holds the validated stage descriptors in pipeline order.
// Descriptors that fail validation are logged and excluded; the
// pipeline still runs with the surviving stages.
type Registry struct {
	ordered []Descriptor
	byName  map[core.Stage]*Descriptor
	logger  *logging.Logger
}

// NewRegistry builds a registry from the default descriptor table.
func NewRegistry(logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	descs := defaultDescriptors()
	for _, opt := range opts {
		opt(descs)
	}

	r := &Registry{
		byName: make(map[core.Stage]*Descriptor, len(descs)),
		logger: logger,
	}
	for _, d := range descs {
		if err := validate(&d); err != nil {
			logger.Error("excluding misconfigured stage",
				"stage", d.Name, "error", err)
			continue
		}
		r.ordered = append(r.ordered, d)
	}
	// Map entries point into the final backing array, after appends settle.
	for i := range r.ordered {
		r.byName[r.ordered[i].Name] = &r.ordered[i]
	}
	return r
}

func validate(d *Descriptor) error {
	if !core.ValidStage(d.Name) {
		return core.ErrValidation(core.CodeInvalidConfig, "unknown stage name")
	}
	if d.Description == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "missing description")
	}
	if d.Model == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "missing model")
	}
	if d.SystemPrompt == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "missing system prompt")
	}
	if !d.Conversational && d.Schema == core.SchemaNone {
		return core.ErrValidation(core.CodeInvalidConfig, "structured stage without schema")
	}
	if !d.Conversational && d.TriggerPrompt == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "structured stage without trigger prompt")
	}
	if !d.Conversational && d.Apology == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "structured stage without apology text")
	}
	return nil
}

// Resolve returns the descriptor for a stage, or an unknown-stage error
// when the stage was never registered or was excluded at load.
func (r *Registry) Resolve(name core.Stage) (*Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, core.ErrUnknownStage(name.String())
	}
	return d, nil
}

// Has reports whether a stage is registered.
func (r *Registry) Has(name core.Stage) bool {
	_, ok := r.byName[name]
	return ok
}

// List returns all registered descriptors in pipeline order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// First returns the entry stage of the pipeline.
func (r *Registry) First() core.Stage {
	if len(r.ordered) == 0 {
		return core.StageDone
	}
	return r.ordered[0].Name
}

// Next returns the registered stage that follows name, skipping any
// excluded stages. Returns StageDone past the end.
func (r *Registry) Next(name core.Stage) core.Stage {
	for s := core.NextStage(name); s != core.StageDone; s = core.NextStage(s) {
		if r.Has(s) {
			return s
		}
	}
	return core.StageDone
}

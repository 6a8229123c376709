package orchestrator

import (
	"github.com/kviflow/kviflow/internal/core"
)

// ResultStore accumulates stage results for one session in insertion
// order. It is not safe for concurrent use; the orchestrator serializes
// turns per session.
type ResultStore struct {
	order   []core.ResultKey
	entries map[core.ResultKey]*core.StageResult
}

// NewResultStore creates an empty result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		entries: make(map[core.ResultKey]*core.StageResult),
	}
}

// Put stores a result, replacing any existing entry for the same key
// while keeping its original position.
func (s *ResultStore) Put(result *core.StageResult) {
	if _, exists := s.entries[result.Key]; !exists {
		s.order = append(s.order, result.Key)
	}
	s.entries[result.Key] = result
}

// Get returns the result for a key, or nil.
func (s *ResultStore) Get(key core.ResultKey) *core.StageResult {
	return s.entries[key]
}

// Has reports whether a key is present.
func (s *ResultStore) Has(key core.ResultKey) bool {
	_, ok := s.entries[key]
	return ok
}

// ForStage returns the single non-iterative result of a stage, or nil.
func (s *ResultStore) ForStage(stage core.Stage) *core.StageResult {
	return s.entries[core.KeyFor(stage)]
}

// ComputeResults returns all per-indicator compute results in insertion
// order, which is category-then-indicator order by construction.
func (s *ResultStore) ComputeResults() []*core.StageResult {
	var out []*core.StageResult
	for _, key := range s.order {
		if key.Stage == core.StageCompute && key.Indicator != "" {
			out = append(out, s.entries[key])
		}
	}
	return out
}

// Len returns the number of stored results.
func (s *ResultStore) Len() int {
	return len(s.order)
}

// Keys returns all keys in insertion order.
func (s *ResultStore) Keys() []core.ResultKey {
	out := make([]core.ResultKey, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns a shallow copy sharing the immutable results. Used to
// stage a turn's writes so a failed turn commits nothing.
func (s *ResultStore) Clone() *ResultStore {
	c := &ResultStore{
		order:   make([]core.ResultKey, len(s.order)),
		entries: make(map[core.ResultKey]*core.StageResult, len(s.entries)),
	}
	copy(c.order, s.order)
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

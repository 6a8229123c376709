package core

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// Generation agent port
// =============================================================================

// GenerateRequest carries one rendered prompt to a generation agent.
type GenerateRequest struct {
	Stage        Stage
	Model        string
	SystemPrompt string
	Prompt       string
	Schema       SchemaKind // SchemaNone for free-text stages

	// OnDelta, when non-nil, receives incremental text tokens before the
	// final result. Only free-text generations stream; structured calls
	// deliver their payload whole.
	OnDelta func(delta string)
}

// GenerateResult is the outcome of one generation call. Exactly one of Text
// and Structured is meaningful: structured stages get the raw payload for
// schema type-checking, conversational stages get text. A structured stage
// whose provider answered with plain text gets Text set and Structured nil;
// that is the schema-mismatch case, decided by the orchestrator.
type GenerateResult struct {
	Text       string
	Structured json.RawMessage
}

// GenerationAgent is the external collaborator that produces text or
// schema-validated payloads for a stage.
type GenerationAgent interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// =============================================================================
// Session store port
// =============================================================================

// Session is one user's interview: the ordered message history and the
// pipeline's current stage. Owned exclusively by the session store; the
// orchestrator works on copies.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists sessions. ReplaceTurn must swap history and stage
// atomically: a failed turn commits nothing.
type SessionStore interface {
	// GetOrCreate returns the session with the given ID, creating it on the
	// given starting stage if absent. An empty id creates a fresh session.
	GetOrCreate(ctx context.Context, id string, start Stage) (*Session, error)

	// Get returns a session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// ReplaceTurn atomically replaces the session's history and stage.
	ReplaceTurn(ctx context.Context, id string, history []Message, stage Stage) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}

// EvictionNotifier is implemented by session stores that report when a
// session is removed, whether deleted explicitly or expired by TTL.
// Consumers register a callback to release per-session state of their
// own when the session goes away.
type EvictionNotifier interface {
	OnEvict(fn func(sessionID string))
}

// =============================================================================
// Static reference data port
// =============================================================================

// TaxonomyIndicator is one scoreable KVI registered to a subcategory.
type TaxonomyIndicator struct {
	Code        string
	Title       string
	Description string
}

// ReferenceData answers taxonomy lookups for prompt building. Implementations
// must return stable ordering for Indicators.
type ReferenceData interface {
	// CategoryNames resolves a main/sub ID pair to human-readable names,
	// with an explicit "Unknown (id)" fallback for unknown IDs.
	CategoryNames(mainID, subID string) (string, string)

	// Describe returns the description block for a subcategory, or "".
	Describe(mainID, subID string) string

	// Indicators returns the ordered indicator list for a subcategory.
	Indicators(mainID, subID string) []TaxonomyIndicator

	// Overview renders the whole taxonomy for prompts that need it.
	Overview() string
}

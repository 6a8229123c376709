package events

import "github.com/kviflow/kviflow/internal/core"

// Event type constants for the chat turn stream.
const (
	TypeConnected     = "connected"
	TypeStatus        = "status"
	TypeContent       = "content"
	TypeAgentComplete = "agent_complete"
	TypeTransition    = "transition"
	TypeComplete      = "complete"
	TypeError         = "error"
)

// ConnectedEvent acknowledges a new stream connection.
type ConnectedEvent struct {
	BaseEvent
}

// NewConnectedEvent creates a connected event.
func NewConnectedEvent(sessionID string) ConnectedEvent {
	return ConnectedEvent{
		BaseEvent: NewBaseEvent(TypeConnected, sessionID),
	}
}

// StatusEvent announces that a stage has started processing.
type StatusEvent struct {
	BaseEvent
	Stage core.Stage `json:"stage"`
}

// NewStatusEvent creates a status event for a stage.
func NewStatusEvent(sessionID string, stage core.Stage) StatusEvent {
	return StatusEvent{
		BaseEvent: NewBaseEvent(TypeStatus, sessionID),
		Stage:     stage,
	}
}

// ContentEvent carries an incremental chunk of assistant text.
type ContentEvent struct {
	BaseEvent
	Stage core.Stage `json:"stage"`
	Delta string     `json:"delta"`
}

// NewContentEvent creates a content delta event.
func NewContentEvent(sessionID string, stage core.Stage, delta string) ContentEvent {
	return ContentEvent{
		BaseEvent: NewBaseEvent(TypeContent, sessionID),
		Stage:     stage,
		Delta:     delta,
	}
}

// AgentCompleteEvent signals that a stage finished one full response.
type AgentCompleteEvent struct {
	BaseEvent
	Stage    core.Stage `json:"stage"`
	FullText string     `json:"full_text"`
}

// NewAgentCompleteEvent creates an agent completion event.
func NewAgentCompleteEvent(sessionID string, stage core.Stage, fullText string) AgentCompleteEvent {
	return AgentCompleteEvent{
		BaseEvent: NewBaseEvent(TypeAgentComplete, sessionID),
		Stage:     stage,
		FullText:  fullText,
	}
}

// TransitionEvent signals a stage handoff within a turn.
type TransitionEvent struct {
	BaseEvent
	From         core.Stage `json:"from"`
	To           core.Stage `json:"to"`
	Announcement string     `json:"announcement,omitempty"`
}

// NewTransitionEvent creates a stage transition event.
func NewTransitionEvent(sessionID string, from, to core.Stage, announcement string) TransitionEvent {
	return TransitionEvent{
		BaseEvent:    NewBaseEvent(TypeTransition, sessionID),
		From:         from,
		To:           to,
		Announcement: announcement,
	}
}

// CompleteEvent terminates a successful turn stream.
type CompleteEvent struct {
	BaseEvent
	FinalText    string         `json:"final_text"`
	FinalStage   core.Stage     `json:"final_stage"`
	FinalHistory []core.Message `json:"final_history"`
}

// NewCompleteEvent creates a terminal completion event.
func NewCompleteEvent(sessionID string, finalText string, finalStage core.Stage, history []core.Message) CompleteEvent {
	return CompleteEvent{
		BaseEvent:    NewBaseEvent(TypeComplete, sessionID),
		FinalText:    finalText,
		FinalStage:   finalStage,
		FinalHistory: history,
	}
}

// ErrorEvent terminates a failed turn stream.
type ErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// NewErrorEvent creates a terminal error event.
func NewErrorEvent(sessionID, message string) ErrorEvent {
	return ErrorEvent{
		BaseEvent: NewBaseEvent(TypeError, sessionID),
		Message:   message,
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/events"
	"github.com/kviflow/kviflow/internal/orchestrator"
)

// chatRequest is one user turn.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatResponse is the blocking turn result.
type chatResponse struct {
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	Stage     core.Stage     `json:"stage"`
	History   []core.Message `json:"history"`
}

// handleChat processes one turn and blocks until the whole cascade has
// run.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		// The store assigns an ID; resolve it first so the response can
		// name the session the turn committed to.
		sess, err := s.sessions.GetOrCreate(r.Context(), "", s.pipeline.Registry().First())
		if err != nil {
			respondDomainError(w, err)
			return
		}
		sessionID = sess.ID
	}

	result, err := s.pipeline.ProcessTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		SessionID: sessionID,
		Reply:     result.Reply,
		Stage:     result.Stage,
		History:   result.History,
	})
}

// sseEmitter writes pipeline events as Server-Sent Events. Writes are
// serialized: the orchestrator emits from its own goroutine flow.
type sseEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Emit(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// SSE format: event: type\ndata: json\n\n
	_, _ = e.w.Write([]byte("event: " + ev.EventType() + "\n"))
	_, _ = e.w.Write([]byte("data: "))
	_, _ = e.w.Write(data)
	_, _ = e.w.Write([]byte("\n\n"))
	e.flusher.Flush()
}

// handleChatStream processes one turn, streaming typed events over SSE.
// Exactly one terminal event ends the stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.sessions.GetOrCreate(r.Context(), "", s.pipeline.Registry().First())
		if err != nil {
			respondDomainError(w, err)
			return
		}
		sessionID = sess.ID
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	emitter := &sseEmitter{w: w, flusher: flusher}
	emitter.Emit(events.NewConnectedEvent(sessionID))

	s.logger.WithSession(sessionID).Info("chat stream started", "remote_addr", r.RemoteAddr)
	s.pipeline.ProcessTurnStream(r.Context(), sessionID, req.Message, emitter)
}

var _ orchestrator.Emitter = (*sseEmitter)(nil)

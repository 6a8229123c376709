package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kviflow/kviflow/internal/core"
)

// stageInfo describes one registered pipeline stage.
type stageInfo struct {
	Name           core.Stage `json:"name"`
	Description    string     `json:"description"`
	Model          string     `json:"model"`
	Conversational bool       `json:"conversational"`
}

// handleListStages lists the registered stages in pipeline order.
func (s *Server) handleListStages(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.pipeline.Registry().List()
	stages := make([]stageInfo, 0, len(descriptors))
	for _, d := range descriptors {
		stages = append(stages, stageInfo{
			Name:           d.Name,
			Description:    d.Description,
			Model:          d.Model,
			Conversational: d.Conversational,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

// sessionInfo is the session summary returned by the API.
type sessionInfo struct {
	ID           string     `json:"id"`
	Stage        core.Stage `json:"stage"`
	MessageCount int        `json:"message_count"`
	CreatedAt    string     `json:"created_at"`
	UpdatedAt    string     `json:"updated_at"`
}

// handleGetSession returns a session summary.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionInfo{
		ID:           sess.ID,
		Stage:        sess.Stage,
		MessageCount: len(sess.Messages),
		CreatedAt:    sess.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    sess.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// handleDeleteSession removes a session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// resultInfo is one stored stage result.
type resultInfo struct {
	Stage     core.Stage `json:"stage"`
	MainID    string     `json:"main_id,omitempty"`
	SubID     string     `json:"sub_id,omitempty"`
	Indicator string     `json:"indicator,omitempty"`
	Text      string     `json:"text"`
}

// handleGetResults lists the committed stage results of a session in
// the order they were produced.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	store := s.pipeline.Results(id)
	results := make([]resultInfo, 0, store.Len())
	for _, key := range store.Keys() {
		res := store.Get(key)
		results = append(results, resultInfo{
			Stage:     key.Stage,
			MainID:    key.Category.MainID,
			SubID:     key.Category.SubID,
			Indicator: key.Indicator,
			Text:      res.Text,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "results": results})
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/presence-engine/internal/types"
)

// handlePresenceChange ingests one presence event and runs the session
// transition it implies.
func (s *Server) handlePresenceChange(w http.ResponseWriter, r *http.Request) {
	var change types.PresenceChange
	if err := parseJSONBody(r, &change); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}

	if err := s.lifecycleService.HandlePresenceChange(r.Context(), &change); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "processed",
	})
}

type recordMessageRequest struct {
	UserID types.UserID `json:"userId"`
}

// handleRecordMessage bumps the daily message counter used by streaks.
func (s *Server) handleRecordMessage(w http.ResponseWriter, r *http.Request) {
	var req recordMessageRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "userId is required", nil)
		return
	}

	if err := s.lifecycleService.RecordMessage(r.Context(), req.UserID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "recorded",
	})
}

// handleGetStats returns a user's current counters.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := types.UserID(vars["id"])

	stats, err := s.lifecycleService.Stats(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

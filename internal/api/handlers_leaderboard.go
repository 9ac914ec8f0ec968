package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/presence-engine/internal/types"
)

// handleGetLeaderboard returns the cached board for a house, computing it on
// a cache miss.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	house := types.House(vars["house"])

	board, err := s.leaderboardService.GetCached(r.Context(), house)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, board)
}

type registerTargetRequest struct {
	Target types.TargetRef `json:"target"`
}

// handleRegisterTarget records an externally rendered leaderboard message as
// a standing publication target.
func (s *Server) handleRegisterTarget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	house := types.House(vars["house"])

	var req registerTargetRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}

	if err := s.leaderboardService.RegisterTarget(r.Context(), house, req.Target); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"status": "registered",
	})
}

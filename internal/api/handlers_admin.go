package api

import (
	"net/http"

	"github.com/presence-engine/internal/types"
)

type awardAdjustmentRequest struct {
	UserID types.UserID `json:"userId"`
	Delta  int64        `json:"delta"`
	Reason string       `json:"reason"`
}

// handleAwardAdjustment applies a manual admin point change.
func (s *Server) handleAwardAdjustment(w http.ResponseWriter, r *http.Request) {
	var req awardAdjustmentRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}

	adjustment, err := s.adjustmentService.AwardAdjustment(r.Context(), req.UserID, req.Delta, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, adjustment)
}

// handleRunAudit runs a full integrity audit and returns the report. The
// audit only reads, so exposing it as an endpoint is safe at any time.
func (s *Server) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.auditService.Audit(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleRunReconcile re-invokes the reconciliation scan. The scan is
// idempotent; running it against an already consistent store changes nothing.
func (s *Server) handleRunReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reconcileService.Reconcile(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

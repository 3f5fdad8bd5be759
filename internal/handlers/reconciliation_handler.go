package handlers

import (
	"encoding/json"
	"net/http"

	"forecast-reconciliation/internal/models"
	"forecast-reconciliation/internal/services"
)

type ReconciliationHandler struct {
	reconciliationService *services.ReconciliationService
	exclusionService      *services.ExclusionService
}

func NewReconciliationHandler(
	reconciliationService *services.ReconciliationService,
	exclusionService *services.ExclusionService,
) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
		exclusionService:      exclusionService,
	}
}

type triggerRunRequest struct {
	Period string `json:"period"`
	Mode   string `json:"mode"`
}

type triggerRunResponse struct {
	Period               string `json:"period"`
	Mode                 string `json:"mode"`
	TotalMatched         int    `json:"total_matched"`
	TotalFuzzy           int    `json:"total_fuzzy"`
	TotalUnmatchedOrders int    `json:"total_unmatched_orders"`
	TotalUnmatchedGl     int    `json:"total_unmatched_gl"`
	TotalOrderCount      int    `json:"total_order_count"`
	TotalGlCount         int    `json:"total_gl_count"`
}

// TriggerRun starts a reconciliation run for one period. mode="exact" runs
// only the exact pass; mode="fuzzy" runs exact then fuzzy.
func (h *ReconciliationHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var request triggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	run, err := h.reconciliationService.Run(r.Context(), request.Period, request.Mode)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, triggerRunResponse{
		Period:               run.Period,
		Mode:                 run.Mode,
		TotalMatched:         run.MatchedCount,
		TotalFuzzy:           run.FuzzyMatchedCount,
		TotalUnmatchedOrders: run.UnmatchedOrderCount,
		TotalUnmatchedGl:     run.UnmatchedGLCount,
		TotalOrderCount:      run.TotalOrderCount,
		TotalGlCount:         run.TotalGLCount,
	})
}

// ListRuns returns the reconciliation audit log, optionally filtered by the
// period query parameter.
func (h *ReconciliationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")

	runs, err := h.reconciliationService.ListRuns(r.Context(), period)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.ReconciliationRun{}
	}

	respondWithJSON(w, http.StatusOK, runs)
}

type setExclusionRequest struct {
	GLEntryIDs      []int64 `json:"gl_entry_ids"`
	IsExcluded      bool    `json:"is_excluded"`
	ExclusionReason string  `json:"exclusion_reason,omitempty"`
}

// SetExclusion bulk-toggles the excluded-from-matching flag on GL entries.
func (h *ReconciliationHandler) SetExclusion(w http.ResponseWriter, r *http.Request) {
	var request setExclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updated, err := h.exclusionService.SetExclusion(r.Context(), request.GLEntryIDs, request.IsExcluded, request.ExclusionReason)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int64{"updated_count": updated})
}

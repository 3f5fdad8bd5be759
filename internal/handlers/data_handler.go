package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"forecast-reconciliation/internal/models"
	"forecast-reconciliation/internal/repositories"
	"forecast-reconciliation/internal/services"
)

type DataHandler struct {
	ingestionService *services.IngestionService
	orderRepo        repositories.OrderForecastRepository
	glRepo           repositories.GLEntryRepository
}

func NewDataHandler(
	ingestionService *services.IngestionService,
	orderRepo repositories.OrderForecastRepository,
	glRepo repositories.GLEntryRepository,
) *DataHandler {
	return &DataHandler{
		ingestionService: ingestionService,
		orderRepo:        orderRepo,
		glRepo:           glRepo,
	}
}

// IngestGLEntries bulk-creates GL entries from pre-parsed import records.
func (h *DataHandler) IngestGLEntries(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Entries []services.GLEntryInput `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	result, err := h.ingestionService.IngestGLEntries(r.Context(), request.Entries)
	if err != nil {
		if result != nil && len(result.Errors) > 0 {
			respondWithJSON(w, http.StatusBadRequest, result)
			return
		}
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *DataHandler) CreateOrderForecast(w http.ResponseWriter, r *http.Request) {
	var input services.OrderForecastInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	line, err := h.ingestionService.CreateOrderForecast(r.Context(), input)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, line)
}

// UpdateOrderForecast applies a user edit. The body must carry the version
// the client read; a stale version yields 409.
func (h *DataHandler) UpdateOrderForecast(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order forecast id")
		return
	}

	var input services.OrderForecastInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	line, err := h.ingestionService.UpdateOrderForecast(r.Context(), id, input)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, line)
}

func (h *DataHandler) ListOrderForecasts(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if !validPeriod(period) {
		respondWithError(w, http.StatusBadRequest, "period query parameter is required in YYYY-MM format")
		return
	}

	lines, err := h.orderRepo.ListByPeriod(r.Context(), period)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if lines == nil {
		lines = []*models.OrderForecastLine{}
	}

	respondWithJSON(w, http.StatusOK, lines)
}

func (h *DataHandler) ListGLEntries(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if !validPeriod(period) {
		respondWithError(w, http.StatusBadRequest, "period query parameter is required in YYYY-MM format")
		return
	}

	entries, err := h.glRepo.ListByPeriod(r.Context(), period)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.GLEntry{}
	}

	respondWithJSON(w, http.StatusOK, entries)
}

func validPeriod(period string) bool {
	if period == "" {
		return false
	}
	_, err := time.Parse("2006-01", period)
	return err == nil
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"forecast-reconciliation/internal/repositories"
	"forecast-reconciliation/internal/services"
)

func SetupRouter(
	reconciliationHandler *ReconciliationHandler,
	dataHandler *DataHandler,
) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware)
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/reconciliation/runs", reconciliationHandler.TriggerRun).Methods(http.MethodPost)
	api.HandleFunc("/reconciliation/runs", reconciliationHandler.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/gl-entries/exclusions", reconciliationHandler.SetExclusion).Methods(http.MethodPost)

	api.HandleFunc("/gl-entries/bulk", dataHandler.IngestGLEntries).Methods(http.MethodPost)
	api.HandleFunc("/gl-entries", dataHandler.ListGLEntries).Methods(http.MethodGet)
	api.HandleFunc("/order-forecasts", dataHandler.CreateOrderForecast).Methods(http.MethodPost)
	api.HandleFunc("/order-forecasts", dataHandler.ListOrderForecasts).Methods(http.MethodGet)
	api.HandleFunc("/order-forecasts/{id:[0-9]+}", dataHandler.UpdateOrderForecast).Methods(http.MethodPut)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(started),
		}).Debug("request handled")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondWithServiceError maps the service error taxonomy onto HTTP statuses:
// validation 400, not found 404, conflicts 409, everything else 500.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: validationErr.Message,
			Field: validationErr.Field,
		})
	case errors.Is(err, services.ErrRunInProgress),
		errors.Is(err, repositories.ErrVersionConflict):
		respondWithJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, repositories.ErrNotFound):
		respondWithJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		logrus.WithError(err).Error("request failed")
		respondWithJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"forecast-reconciliation/internal/config"
	"forecast-reconciliation/internal/matching"
	"forecast-reconciliation/internal/models"
	"forecast-reconciliation/internal/repositories"
)

const defaultRunTimeout = 60 * time.Second

// ReconciliationService orchestrates reconciliation runs for fiscal periods.
// A run recomputes all pairings for its period from scratch, so re-running
// over unchanged data is idempotent.
type ReconciliationService struct {
	engine     *matching.Engine
	orderRepo  repositories.OrderForecastRepository
	glRepo     repositories.GLEntryRepository
	runRepo    repositories.ReconciliationRunRepository
	runTimeout time.Duration

	mu         sync.Mutex
	activeRuns map[string]bool
}

func NewReconciliationService(
	cfg config.MatchingConfig,
	orderRepo repositories.OrderForecastRepository,
	glRepo repositories.GLEntryRepository,
	runRepo repositories.ReconciliationRunRepository,
) *ReconciliationService {
	timeout := defaultRunTimeout
	if cfg.RunTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.RunTimeoutSeconds) * time.Second
	}
	return &ReconciliationService{
		engine:     matching.NewEngine(buildMatchingConfig(cfg)),
		orderRepo:  orderRepo,
		glRepo:     glRepo,
		runRepo:    runRepo,
		runTimeout: timeout,
		activeRuns: make(map[string]bool),
	}
}

func buildMatchingConfig(cfg config.MatchingConfig) matching.Config {
	mc := matching.DefaultConfig()
	if cfg.AmountTolerancePercent > 0 {
		mc.AmountTolerancePercent = decimal.NewFromFloat(cfg.AmountTolerancePercent)
	}
	if cfg.MinAmountTolerance > 0 {
		mc.MinAmountTolerance = decimal.NewFromFloat(cfg.MinAmountTolerance)
	}
	if cfg.ConfidenceThreshold > 0 {
		mc.ConfidenceThreshold = cfg.ConfidenceThreshold
	}
	return mc
}

// Run executes one reconciliation run for the given period and mode and
// returns the persisted audit row. Validation failures reject the request
// before any record is touched; a persistence failure aborts the whole run
// and writes no log row.
func (s *ReconciliationService) Run(ctx context.Context, period, mode string) (*models.ReconciliationRun, error) {
	if period == "" {
		return nil, newValidationError("period", "period is required")
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return nil, newValidationError("period", "period must be in YYYY-MM format")
	}
	switch mode {
	case "":
		mode = models.ModeFuzzy
	case models.ModeExact, models.ModeFuzzy:
	default:
		return nil, newValidationError("mode", `mode must be "exact" or "fuzzy"`)
	}

	if err := s.acquirePeriod(period); err != nil {
		return nil, err
	}
	defer s.releasePeriod(period)

	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	started := time.Now()

	orders, err := s.orderRepo.ListByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load order forecast lines: %w", err)
	}
	gls, err := s.glRepo.ListByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load GL entries: %w", err)
	}

	s.reportAnomalies(period, orders, gls)

	result := s.engine.Run(orders, gls, mode)

	run := &models.ReconciliationRun{
		Period:              period,
		Mode:                mode,
		ExecutedAt:          time.Now(),
		MatchedCount:        result.MatchedCount,
		FuzzyMatchedCount:   result.FuzzyMatchedCount,
		UnmatchedOrderCount: result.UnmatchedOrderCount,
		UnmatchedGLCount:    result.UnmatchedGLCount,
		TotalOrderCount:     result.TotalOrderCount,
		TotalGLCount:        result.TotalGLCount,
	}

	update := buildRunUpdate(orders, gls, result, run)
	if err := s.runRepo.CommitRun(ctx, update); err != nil {
		return nil, fmt.Errorf("reconciliation run failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"period":          period,
		"mode":            mode,
		"matched":         run.MatchedCount,
		"fuzzy_matched":   run.FuzzyMatchedCount,
		"unmatched_order": run.UnmatchedOrderCount,
		"unmatched_gl":    run.UnmatchedGLCount,
		"duration":        time.Since(started),
	}).Info("reconciliation run completed")

	return run, nil
}

// ListRuns returns the audit log rows, optionally filtered by period.
func (s *ReconciliationService) ListRuns(ctx context.Context, period string) ([]*models.ReconciliationRun, error) {
	if period != "" {
		if _, err := time.Parse("2006-01", period); err != nil {
			return nil, newValidationError("period", "period must be in YYYY-MM format")
		}
	}
	return s.runRepo.ListRuns(ctx, period)
}

func (s *ReconciliationService) acquirePeriod(period string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRuns[period] {
		return ErrRunInProgress
	}
	s.activeRuns[period] = true
	return nil
}

func (s *ReconciliationService) releasePeriod(period string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeRuns, period)
}

// reportAnomalies surfaces one-sided pairings found in the loaded pool. The
// run recomputes all pairings anyway, so anomalous records are simply treated
// as unmatched; the log line is the report.
func (s *ReconciliationService) reportAnomalies(period string, orders []*models.OrderForecastLine, gls []*models.GLEntry) {
	glByID := make(map[int64]*models.GLEntry, len(gls))
	for _, gl := range gls {
		glByID[gl.ID] = gl
	}
	orderByID := make(map[int64]*models.OrderForecastLine, len(orders))
	for _, order := range orders {
		orderByID[order.ID] = order
	}

	for _, order := range orders {
		if !order.MatchedGLEntryID.Valid {
			continue
		}
		gl, ok := glByID[order.MatchedGLEntryID.Int64]
		if !ok || !gl.MatchedOrderForecastID.Valid || gl.MatchedOrderForecastID.Int64 != order.ID {
			logrus.WithFields(logrus.Fields{
				"period":                period,
				"order_forecast_id":     order.ID,
				"matched_gl_entry_id":   order.MatchedGLEntryID.Int64,
			}).Warn("one-sided pairing on order forecast line, treating as unmatched")
		}
	}
	for _, gl := range gls {
		if !gl.MatchedOrderForecastID.Valid {
			continue
		}
		order, ok := orderByID[gl.MatchedOrderForecastID.Int64]
		if !ok || !order.MatchedGLEntryID.Valid || order.MatchedGLEntryID.Int64 != gl.ID {
			logrus.WithFields(logrus.Fields{
				"period":                    period,
				"gl_entry_id":               gl.ID,
				"matched_order_forecast_id": gl.MatchedOrderForecastID.Int64,
			}).Warn("one-sided pairing on GL entry, treating as unmatched")
		}
	}
}

// buildRunUpdate turns the engine result into the persistence mutation set.
// Records whose stored state already equals the computed state are skipped so
// an idempotent re-run writes nothing but the log row.
func buildRunUpdate(orders []*models.OrderForecastLine, gls []*models.GLEntry, result *matching.RunResult, run *models.ReconciliationRun) *repositories.RunUpdate {
	orderByID := make(map[int64]*models.OrderForecastLine, len(orders))
	for _, order := range orders {
		orderByID[order.ID] = order
	}
	glByID := make(map[int64]*models.GLEntry, len(gls))
	for _, gl := range gls {
		glByID[gl.ID] = gl
	}

	update := &repositories.RunUpdate{Run: run}

	appendOrderState := func(id int64, status string, counterpart sql.NullInt64) {
		order := orderByID[id]
		if order.ReconciliationStatus == status && order.MatchedGLEntryID == counterpart {
			return
		}
		update.OrderStates = append(update.OrderStates, repositories.EntryState{
			ID: id, Status: status, CounterpartID: counterpart,
		})
	}
	appendGLState := func(id int64, status string, counterpart sql.NullInt64) {
		gl := glByID[id]
		if gl.ReconciliationStatus == status && gl.MatchedOrderForecastID == counterpart {
			return
		}
		update.GLStates = append(update.GLStates, repositories.EntryState{
			ID: id, Status: status, CounterpartID: counterpart,
		})
	}

	for _, pairing := range result.Pairings {
		appendOrderState(pairing.OrderForecastID, pairing.Status, sql.NullInt64{Int64: pairing.GLEntryID, Valid: true})
		appendGLState(pairing.GLEntryID, pairing.Status, sql.NullInt64{Int64: pairing.OrderForecastID, Valid: true})
	}
	for _, id := range result.UnmatchedOrderIDs {
		appendOrderState(id, models.StatusUnmatched, sql.NullInt64{})
	}
	for _, id := range result.UnmatchedGLIDs {
		appendGLState(id, models.StatusUnmatched, sql.NullInt64{})
	}

	return update
}

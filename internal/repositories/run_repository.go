package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"forecast-reconciliation/internal/models"
)

// EntryState is the post-run reconciliation state of one order line or GL
// entry.
type EntryState struct {
	ID            int64
	Status        string
	CounterpartID sql.NullInt64
}

// RunUpdate is the full mutation set of one reconciliation run: every touched
// record's new state plus the audit row. CommitRun applies it atomically.
type RunUpdate struct {
	OrderStates []EntryState
	GLStates    []EntryState
	Run         *models.ReconciliationRun
}

type ReconciliationRunRepository interface {
	// CommitRun writes all status/cross-reference mutations and the
	// append-only run row in a single transaction. Either everything commits
	// or nothing does; a failed run never leaves a log row behind.
	CommitRun(ctx context.Context, update *RunUpdate) error
	ListRuns(ctx context.Context, period string) ([]*models.ReconciliationRun, error)
}

type reconciliationRunRepository struct {
	db *sql.DB
}

func NewReconciliationRunRepository(db *sql.DB) ReconciliationRunRepository {
	return &reconciliationRunRepository{db: db}
}

func (r *reconciliationRunRepository) CommitRun(ctx context.Context, update *RunUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	orderQuery := `
		UPDATE order_forecast_lines
		SET reconciliation_status = ?,
			matched_gl_entry_id = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ?
	`
	for _, state := range update.OrderStates {
		if _, err := tx.ExecContext(ctx, orderQuery, state.Status, state.CounterpartID, time.Now(), state.ID); err != nil {
			return fmt.Errorf("failed to update order forecast line %d: %w", state.ID, err)
		}
	}

	glQuery := `
		UPDATE gl_entries
		SET reconciliation_status = ?,
			matched_order_forecast_id = ?,
			updated_at = ?
		WHERE id = ?
	`
	for _, state := range update.GLStates {
		if _, err := tx.ExecContext(ctx, glQuery, state.Status, state.CounterpartID, time.Now(), state.ID); err != nil {
			return fmt.Errorf("failed to update GL entry %d: %w", state.ID, err)
		}
	}

	runQuery := `
		INSERT INTO reconciliation_runs (
			period, mode, executed_at, matched_count, fuzzy_matched_count,
			unmatched_order_count, unmatched_gl_count, total_order_count, total_gl_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, runQuery,
		update.Run.Period,
		update.Run.Mode,
		update.Run.ExecutedAt,
		update.Run.MatchedCount,
		update.Run.FuzzyMatchedCount,
		update.Run.UnmatchedOrderCount,
		update.Run.UnmatchedGLCount,
		update.Run.TotalOrderCount,
		update.Run.TotalGLCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	update.Run.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *reconciliationRunRepository) ListRuns(ctx context.Context, period string) ([]*models.ReconciliationRun, error) {
	query := `
		SELECT id, period, mode, executed_at, matched_count, fuzzy_matched_count,
		       unmatched_order_count, unmatched_gl_count, total_order_count, total_gl_count
		FROM reconciliation_runs
	`
	var args []interface{}
	if period != "" {
		query += ` WHERE period = ?`
		args = append(args, period)
	}
	query += ` ORDER BY executed_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.ReconciliationRun
	for rows.Next() {
		run := &models.ReconciliationRun{}
		err := rows.Scan(
			&run.ID,
			&run.Period,
			&run.Mode,
			&run.ExecutedAt,
			&run.MatchedCount,
			&run.FuzzyMatchedCount,
			&run.UnmatchedOrderCount,
			&run.UnmatchedGLCount,
			&run.TotalOrderCount,
			&run.TotalGLCount,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

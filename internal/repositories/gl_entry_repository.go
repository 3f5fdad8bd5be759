package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"forecast-reconciliation/internal/models"
)

type GLEntryRepository interface {
	BulkInsert(ctx context.Context, entries []*models.GLEntry) (int, error)
	GetByID(ctx context.Context, id int64) (*models.GLEntry, error)
	ListByPeriod(ctx context.Context, period string) ([]*models.GLEntry, error)
	// SetExclusion toggles the exclusion flag on the given entries in one
	// transaction. Excluding an entry that currently holds a pairing breaks
	// the pairing: both sides revert to unmatched with cleared
	// cross-references. Returns the number of entries updated.
	SetExclusion(ctx context.Context, ids []int64, excluded bool, reason string) (int64, error)
}

type glEntryRepository struct {
	db *sql.DB
}

func NewGLEntryRepository(db *sql.DB) GLEntryRepository {
	return &glEntryRepository{db: db}
}

// transaction_date is a DATE column selected as text so the scanned value is
// always YYYY-MM-DD, independent of the driver's parseTime setting (which the
// created_at/updated_at timestamps do require).
const glEntryColumns = `
	id, voucher_no, DATE_FORMAT(transaction_date, '%Y-%m-%d') AS transaction_date,
	account_code, account_name, amount,
	debit_credit, description, period, reconciliation_status,
	matched_order_forecast_id, is_excluded, exclusion_reason, created_at, updated_at
`

func scanGLEntry(row interface{ Scan(...interface{}) error }) (*models.GLEntry, error) {
	entry := &models.GLEntry{}
	err := row.Scan(
		&entry.ID,
		&entry.VoucherNo,
		&entry.TransactionDate,
		&entry.AccountCode,
		&entry.AccountName,
		&entry.Amount,
		&entry.DebitCredit,
		&entry.Description,
		&entry.Period,
		&entry.ReconciliationStatus,
		&entry.MatchedOrderForecastID,
		&entry.IsExcluded,
		&entry.ExclusionReason,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *glEntryRepository) BulkInsert(ctx context.Context, entries []*models.GLEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO gl_entries (
			voucher_no, transaction_date, account_code, account_name, amount,
			debit_credit, description, period, reconciliation_status, is_excluded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, entry := range entries {
		if entry.ReconciliationStatus == "" {
			entry.ReconciliationStatus = models.StatusUnmatched
		}
		result, err := stmt.ExecContext(ctx,
			entry.VoucherNo,
			entry.TransactionDate,
			entry.AccountCode,
			entry.AccountName,
			entry.Amount,
			entry.DebitCredit,
			entry.Description,
			entry.Period,
			entry.ReconciliationStatus,
			entry.IsExcluded,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert GL entry %s: %w", entry.VoucherNo, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return 0, err
		}
		entry.ID = id
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (r *glEntryRepository) GetByID(ctx context.Context, id int64) (*models.GLEntry, error) {
	query := `SELECT ` + glEntryColumns + ` FROM gl_entries WHERE id = ?`
	entry, err := scanGLEntry(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *glEntryRepository) ListByPeriod(ctx context.Context, period string) ([]*models.GLEntry, error) {
	query := `
		SELECT ` + glEntryColumns + `
		FROM gl_entries
		WHERE period = ?
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.GLEntry
	for rows.Next() {
		entry, err := scanGLEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *glEntryRepository) SetExclusion(ctx context.Context, ids []int64, excluded bool, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	if excluded {
		// Free the counterparts of any entry being excluded while paired.
		unpairQuery := fmt.Sprintf(`
			UPDATE order_forecast_lines
			SET reconciliation_status = ?,
				matched_gl_entry_id = NULL,
				version = version + 1,
				updated_at = ?
			WHERE matched_gl_entry_id IN (%s)
		`, placeholders)
		unpairArgs := append([]interface{}{models.StatusUnmatched, time.Now()}, args...)
		if _, err := tx.ExecContext(ctx, unpairQuery, unpairArgs...); err != nil {
			return 0, fmt.Errorf("failed to unpair order forecast lines: %w", err)
		}
	}

	var query string
	var updateArgs []interface{}
	if excluded {
		query = fmt.Sprintf(`
			UPDATE gl_entries
			SET is_excluded = TRUE,
				exclusion_reason = ?,
				reconciliation_status = ?,
				matched_order_forecast_id = NULL,
				updated_at = ?
			WHERE id IN (%s)
		`, placeholders)
		updateArgs = append([]interface{}{reason, models.StatusUnmatched, time.Now()}, args...)
	} else {
		query = fmt.Sprintf(`
			UPDATE gl_entries
			SET is_excluded = FALSE,
				exclusion_reason = NULL,
				updated_at = ?
			WHERE id IN (%s)
		`, placeholders)
		updateArgs = append([]interface{}{time.Now()}, args...)
	}

	result, err := tx.ExecContext(ctx, query, updateArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to update exclusion flags: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

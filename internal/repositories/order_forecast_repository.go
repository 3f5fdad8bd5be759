package repositories

import (
	"context"
	"database/sql"
	"time"

	"forecast-reconciliation/internal/models"
)

type OrderForecastRepository interface {
	Insert(ctx context.Context, line *models.OrderForecastLine) error
	GetByID(ctx context.Context, id int64) (*models.OrderForecastLine, error)
	ListByPeriod(ctx context.Context, period string) ([]*models.OrderForecastLine, error)
	// Update applies a user edit with an optimistic version check: the write
	// is rejected with ErrVersionConflict when the stored version has
	// advanced past line.Version. On success line.Version is bumped.
	Update(ctx context.Context, line *models.OrderForecastLine) error
}

type orderForecastRepository struct {
	db *sql.DB
}

func NewOrderForecastRepository(db *sql.DB) OrderForecastRepository {
	return &orderForecastRepository{db: db}
}

const orderForecastColumns = `
	id, project_id, customer_id, accounting_period, accounting_item_code,
	accounting_item_name, description, amount, period, reconciliation_status,
	matched_gl_entry_id, version, created_at, updated_at
`

func scanOrderForecastLine(row interface{ Scan(...interface{}) error }) (*models.OrderForecastLine, error) {
	line := &models.OrderForecastLine{}
	err := row.Scan(
		&line.ID,
		&line.ProjectID,
		&line.CustomerID,
		&line.AccountingPeriod,
		&line.AccountingItemCode,
		&line.AccountingItemName,
		&line.Description,
		&line.Amount,
		&line.Period,
		&line.ReconciliationStatus,
		&line.MatchedGLEntryID,
		&line.Version,
		&line.CreatedAt,
		&line.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (r *orderForecastRepository) Insert(ctx context.Context, line *models.OrderForecastLine) error {
	query := `
		INSERT INTO order_forecast_lines (
			project_id, customer_id, accounting_period, accounting_item_code,
			accounting_item_name, description, amount, period,
			reconciliation_status, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if line.ReconciliationStatus == "" {
		line.ReconciliationStatus = models.StatusUnmatched
	}
	if line.Version == 0 {
		line.Version = 1
	}
	result, err := r.db.ExecContext(ctx, query,
		line.ProjectID,
		line.CustomerID,
		line.AccountingPeriod,
		line.AccountingItemCode,
		line.AccountingItemName,
		line.Description,
		line.Amount,
		line.Period,
		line.ReconciliationStatus,
		line.Version,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	line.ID = id
	return nil
}

func (r *orderForecastRepository) GetByID(ctx context.Context, id int64) (*models.OrderForecastLine, error) {
	query := `SELECT ` + orderForecastColumns + ` FROM order_forecast_lines WHERE id = ?`
	line, err := scanOrderForecastLine(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (r *orderForecastRepository) ListByPeriod(ctx context.Context, period string) ([]*models.OrderForecastLine, error) {
	query := `
		SELECT ` + orderForecastColumns + `
		FROM order_forecast_lines
		WHERE period = ?
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*models.OrderForecastLine
	for rows.Next() {
		line, err := scanOrderForecastLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *orderForecastRepository) Update(ctx context.Context, line *models.OrderForecastLine) error {
	query := `
		UPDATE order_forecast_lines
		SET project_id = ?,
			customer_id = ?,
			accounting_period = ?,
			accounting_item_code = ?,
			accounting_item_name = ?,
			description = ?,
			amount = ?,
			period = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		line.ProjectID,
		line.CustomerID,
		line.AccountingPeriod,
		line.AccountingItemCode,
		line.AccountingItemName,
		line.Description,
		line.Amount,
		line.Period,
		time.Now(),
		line.ID,
		line.Version,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Disambiguate a missing row from a stale version.
		if _, err := r.GetByID(ctx, line.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	line.Version++
	return nil
}

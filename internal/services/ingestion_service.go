package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"forecast-reconciliation/internal/models"
	"forecast-reconciliation/internal/repositories"
)

// IngestionService creates GL entries and order-forecast lines from
// already-parsed records. File parsing (CSV, Excel) happens upstream; this
// service never touches files.
type IngestionService struct {
	orderRepo repositories.OrderForecastRepository
	glRepo    repositories.GLEntryRepository
	validate  *validator.Validate
}

func NewIngestionService(orderRepo repositories.OrderForecastRepository, glRepo repositories.GLEntryRepository) *IngestionService {
	return &IngestionService{
		orderRepo: orderRepo,
		glRepo:    glRepo,
		validate:  validator.New(),
	}
}

type GLEntryInput struct {
	VoucherNo       string          `json:"voucher_no" validate:"required"`
	TransactionDate string          `json:"transaction_date" validate:"required"`
	AccountCode     string          `json:"account_code" validate:"required"`
	AccountName     string          `json:"account_name"`
	Amount          decimal.Decimal `json:"amount"`
	DebitCredit     string          `json:"debit_credit" validate:"required,oneof=debit credit"`
	Description     string          `json:"description,omitempty"`
	Period          string          `json:"period" validate:"required"`
}

type OrderForecastInput struct {
	ProjectID          int64           `json:"project_id" validate:"required"`
	CustomerID         int64           `json:"customer_id" validate:"required"`
	AccountingPeriod   string          `json:"accounting_period" validate:"required"`
	AccountingItemCode string          `json:"accounting_item_code" validate:"required"`
	AccountingItemName string          `json:"accounting_item_name"`
	Description        string          `json:"description,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Period             string          `json:"period" validate:"required"`
	Version            int64           `json:"version"`
}

type IngestionResult struct {
	Success      bool     `json:"success"`
	RecordsCount int      `json:"records_count"`
	Errors       []string `json:"errors,omitempty"`
}

// IngestGLEntries bulk-creates GL entries as unmatched and non-excluded.
// All records must validate before anything is inserted.
func (s *IngestionService) IngestGLEntries(ctx context.Context, inputs []GLEntryInput) (*IngestionResult, error) {
	if len(inputs) == 0 {
		return nil, newValidationError("entries", "at least one GL entry is required")
	}

	result := &IngestionResult{}
	entries := make([]*models.GLEntry, 0, len(inputs))
	for i, input := range inputs {
		if err := s.validateGLEntry(input); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		entries = append(entries, &models.GLEntry{
			VoucherNo:            input.VoucherNo,
			TransactionDate:      input.TransactionDate,
			AccountCode:          input.AccountCode,
			AccountName:          input.AccountName,
			Amount:               input.Amount,
			DebitCredit:          input.DebitCredit,
			Description:          input.Description,
			Period:               input.Period,
			ReconciliationStatus: models.StatusUnmatched,
			IsExcluded:           false,
		})
	}

	if len(result.Errors) > 0 {
		return result, newValidationError("entries", "one or more GL entries failed validation")
	}

	inserted, err := s.glRepo.BulkInsert(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to insert GL entries: %w", err)
	}

	result.Success = true
	result.RecordsCount = inserted
	logrus.WithField("records", inserted).Info("GL entries ingested")
	return result, nil
}

// CreateOrderForecast registers a new order-forecast line as unmatched.
func (s *IngestionService) CreateOrderForecast(ctx context.Context, input OrderForecastInput) (*models.OrderForecastLine, error) {
	if err := s.validateOrderForecast(input); err != nil {
		return nil, err
	}

	line := &models.OrderForecastLine{
		ProjectID:            input.ProjectID,
		CustomerID:           input.CustomerID,
		AccountingPeriod:     input.AccountingPeriod,
		AccountingItemCode:   input.AccountingItemCode,
		AccountingItemName:   input.AccountingItemName,
		Description:          input.Description,
		Amount:               input.Amount,
		Period:               input.Period,
		ReconciliationStatus: models.StatusUnmatched,
		Version:              1,
	}
	if err := s.orderRepo.Insert(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to insert order forecast line: %w", err)
	}
	return line, nil
}

// UpdateOrderForecast applies a user edit under optimistic concurrency: the
// input carries the version the caller read, and a stale version surfaces as
// repositories.ErrVersionConflict.
//
// An edit does not touch an existing pairing, even when the new values no
// longer agree with the matched GL entry. Pairings are recomputed wholesale
// by the next reconciliation run for the period, which unpairs any line the
// edit has invalidated.
func (s *IngestionService) UpdateOrderForecast(ctx context.Context, id int64, input OrderForecastInput) (*models.OrderForecastLine, error) {
	if err := s.validateOrderForecast(input); err != nil {
		return nil, err
	}
	if input.Version <= 0 {
		return nil, newValidationError("version", "the version read by the client is required")
	}

	line, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	line.ProjectID = input.ProjectID
	line.CustomerID = input.CustomerID
	line.AccountingPeriod = input.AccountingPeriod
	line.AccountingItemCode = input.AccountingItemCode
	line.AccountingItemName = input.AccountingItemName
	line.Description = input.Description
	line.Amount = input.Amount
	line.Period = input.Period
	line.Version = input.Version

	if err := s.orderRepo.Update(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

func (s *IngestionService) validateGLEntry(input GLEntryInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	if _, err := time.Parse("2006-01-02", input.TransactionDate); err != nil {
		return newValidationError("transaction_date", "must be in YYYY-MM-DD format")
	}
	if _, err := time.Parse("2006-01", input.Period); err != nil {
		return newValidationError("period", "must be in YYYY-MM format")
	}
	return nil
}

func (s *IngestionService) validateOrderForecast(input OrderForecastInput) error {
	if err := s.validate.Struct(input); err != nil {
		return err
	}
	if _, err := time.Parse("2006-01", input.AccountingPeriod); err != nil {
		return newValidationError("accounting_period", "must be in YYYY-MM format")
	}
	if _, err := time.Parse("2006-01", input.Period); err != nil {
		return newValidationError("period", "must be in YYYY-MM format")
	}
	return nil
}

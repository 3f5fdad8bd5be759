package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// OrderForecastLine is a user-entered expected accounting entry for a
// project/customer, reconciled against imported GL postings per period.
type OrderForecastLine struct {
	ID                   int64           `db:"id" json:"id"`
	ProjectID            int64           `db:"project_id" json:"project_id"`
	CustomerID           int64           `db:"customer_id" json:"customer_id"`
	AccountingPeriod     string          `db:"accounting_period" json:"accounting_period"` // YYYY-MM
	AccountingItemCode   string          `db:"accounting_item_code" json:"accounting_item_code"`
	AccountingItemName   string          `db:"accounting_item_name" json:"accounting_item_name"`
	Description          string          `db:"description" json:"description"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	Period               string          `db:"period" json:"period"` // YYYY-MM
	ReconciliationStatus string          `db:"reconciliation_status" json:"reconciliation_status"`
	MatchedGLEntryID     sql.NullInt64   `db:"matched_gl_entry_id" json:"matched_gl_entry_id"`
	Version              int64           `db:"version" json:"version"`
	CreatedAt            time.Time       `db:"created_at" json:"-"`
	UpdatedAt            time.Time       `db:"updated_at" json:"-"`
}

// GLEntry is an imported general-ledger posting.
type GLEntry struct {
	ID                     int64           `db:"id" json:"id"`
	VoucherNo              string          `db:"voucher_no" json:"voucher_no"`
	TransactionDate        string          `db:"transaction_date" json:"transaction_date"` // YYYY-MM-DD
	AccountCode            string          `db:"account_code" json:"account_code"`
	AccountName            string          `db:"account_name" json:"account_name"`
	Amount                 decimal.Decimal `db:"amount" json:"amount"`
	DebitCredit            string          `db:"debit_credit" json:"debit_credit"`
	Description            string          `db:"description" json:"description"`
	Period                 string          `db:"period" json:"period"` // YYYY-MM
	ReconciliationStatus   string          `db:"reconciliation_status" json:"reconciliation_status"`
	MatchedOrderForecastID sql.NullInt64   `db:"matched_order_forecast_id" json:"matched_order_forecast_id"`
	IsExcluded             bool            `db:"is_excluded" json:"is_excluded"`
	ExclusionReason        sql.NullString  `db:"exclusion_reason" json:"exclusion_reason"`
	CreatedAt              time.Time       `db:"created_at" json:"-"`
	UpdatedAt              time.Time       `db:"updated_at" json:"-"`
}

// ReconciliationRun is the append-only audit row written once per run.
// Never updated or deleted.
type ReconciliationRun struct {
	ID                  int64     `db:"id" json:"id"`
	Period              string    `db:"period" json:"period"`
	Mode                string    `db:"mode" json:"mode"`
	ExecutedAt          time.Time `db:"executed_at" json:"executed_at"`
	MatchedCount        int       `db:"matched_count" json:"matched_count"`
	FuzzyMatchedCount   int       `db:"fuzzy_matched_count" json:"fuzzy_matched_count"`
	UnmatchedOrderCount int       `db:"unmatched_order_count" json:"unmatched_order_count"`
	UnmatchedGLCount    int       `db:"unmatched_gl_count" json:"unmatched_gl_count"`
	TotalOrderCount     int       `db:"total_order_count" json:"total_order_count"`
	TotalGLCount        int       `db:"total_gl_count" json:"total_gl_count"`
}

// ReconciliationStatus constants
const (
	StatusUnmatched = "unmatched"
	StatusFuzzy     = "fuzzy"
	StatusMatched   = "matched"
)

// Run mode constants
const (
	ModeExact = "exact"
	ModeFuzzy = "fuzzy"
)

// DebitCredit constants
const (
	Debit  = "debit"
	Credit = "credit"
)

// ClearOrderPairing resets an order line to unmatched with no counterpart.
func ClearOrderPairing(order *OrderForecastLine) {
	order.ReconciliationStatus = StatusUnmatched
	order.MatchedGLEntryID = sql.NullInt64{}
}

// ClearGLPairing resets a GL entry to unmatched with no counterpart.
func ClearGLPairing(gl *GLEntry) {
	gl.ReconciliationStatus = StatusUnmatched
	gl.MatchedOrderForecastID = sql.NullInt64{}
}

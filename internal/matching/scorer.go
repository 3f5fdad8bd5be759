package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"forecast-reconciliation/internal/models"
)

// Classification of a single order/GL candidate pair.
const (
	ClassExact = "exact"
	ClassFuzzy = "fuzzy"
	ClassNone  = "no_match"
)

// ExactConfidence is the confidence assigned to exact classifications.
const ExactConfidence = 100.0

// Score is the result of evaluating one order-forecast line against one GL
// entry.
type Score struct {
	Classification string
	Confidence     float64
	DateDiffDays   int
	AmountDiff     decimal.Decimal
}

// Scorer classifies candidate pairs. Pure: Score never mutates its inputs.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score classifies the pair as exact, fuzzy-candidate or no-match.
//
// Exact requires the same period, decimal-equal amounts and an accounting-item
// code identical to the GL account code. Fuzzy candidacy is evaluated only
// when exact fails: the amount difference must be within tolerance, the GL
// transaction date must fall inside the order's accounting-period month, and
// either the account codes agree or the normalized texts do. The fuzzy
// confidence is a weighted blend of amount, date and text sub-scores; below
// the acceptance threshold the candidate is discarded.
func (s *Scorer) Score(order *models.OrderForecastLine, gl *models.GLEntry) Score {
	none := Score{Classification: ClassNone}

	if order.Period == "" || order.Period != gl.Period || gl.IsExcluded {
		return none
	}

	amountDiff := order.Amount.Sub(gl.Amount).Abs()
	dateDiff, dateOK := accountingDateDiff(order.AccountingPeriod, gl.TransactionDate)

	if order.Amount.Equal(gl.Amount) && order.AccountingItemCode != "" &&
		order.AccountingItemCode == gl.AccountCode {
		return Score{
			Classification: ClassExact,
			Confidence:     ExactConfidence,
			DateDiffDays:   dateDiff,
			AmountDiff:     amountDiff,
		}
	}

	tolerance := s.amountTolerance(order.Amount)
	if amountDiff.GreaterThan(tolerance) {
		return none
	}
	if !dateOK {
		return none
	}

	codeMatch := order.AccountingItemCode != "" && order.AccountingItemCode == gl.AccountCode
	textMatch := false
	if key := Normalize(order.Description); key != "" {
		textMatch = key == Normalize(gl.AccountName) || key == Normalize(gl.Description)
	}
	if !codeMatch && !textMatch {
		return none
	}

	confidence := s.cfg.AmountWeight*amountScore(amountDiff, tolerance) +
		s.cfg.DateWeight*dateScore(order.AccountingPeriod, dateDiff) +
		s.cfg.TextWeight*textScore(codeMatch)

	if confidence < s.cfg.ConfidenceThreshold {
		return Score{Classification: ClassNone, Confidence: confidence, DateDiffDays: dateDiff, AmountDiff: amountDiff}
	}

	return Score{
		Classification: ClassFuzzy,
		Confidence:     confidence,
		DateDiffDays:   dateDiff,
		AmountDiff:     amountDiff,
	}
}

func (s *Scorer) amountTolerance(amount decimal.Decimal) decimal.Decimal {
	tolerance := amount.Abs().Mul(s.cfg.AmountTolerancePercent)
	if tolerance.LessThan(s.cfg.MinAmountTolerance) {
		tolerance = s.cfg.MinAmountTolerance
	}
	return tolerance
}

// amountScore decays linearly from 1.0 at identical amounts to 0.0 at the
// tolerance boundary.
func amountScore(diff, tolerance decimal.Decimal) float64 {
	if diff.IsZero() {
		return 1
	}
	if tolerance.IsZero() {
		return 0
	}
	ratio, _ := diff.Div(tolerance).Float64()
	if ratio > 1 {
		return 0
	}
	return 1 - ratio
}

// dateScore decays linearly from 1.0 at the first day of the accounting
// period to 0.0 at the last day of the month.
func dateScore(accountingPeriod string, dateDiffDays int) float64 {
	start, err := time.Parse("2006-01", accountingPeriod)
	if err != nil {
		return 0
	}
	lastDay := start.AddDate(0, 1, -1).Day()
	if lastDay <= 1 {
		return 1
	}
	score := 1 - float64(dateDiffDays)/float64(lastDay-1)
	if score < 0 {
		return 0
	}
	return score
}

func textScore(codeMatch bool) float64 {
	// An account-code agreement is stronger evidence than free-text equality.
	if codeMatch {
		return 1
	}
	return 0.7
}

// accountingDateDiff returns the day offset of the GL transaction date from
// the start of the order's accounting period, and whether the date falls
// inside that calendar month. Unparseable dates fail candidacy.
func accountingDateDiff(accountingPeriod, transactionDate string) (int, bool) {
	start, err := time.Parse("2006-01", accountingPeriod)
	if err != nil {
		return 0, false
	}
	txn, err := parseTransactionDate(transactionDate)
	if err != nil {
		return 0, false
	}
	if txn.Year() != start.Year() || txn.Month() != start.Month() {
		return int(txn.Sub(start).Hours() / 24), false
	}
	return txn.Day() - 1, true
}

// parseTransactionDate accepts the canonical YYYY-MM-DD form plus the
// timestamp forms a SQL driver may deliver for a DATE column, so a midnight
// suffix never disqualifies an otherwise valid candidate.
func parseTransactionDate(transactionDate string) (time.Time, error) {
	var err error
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		var txn time.Time
		if txn, err = time.Parse(layout, transactionDate); err == nil {
			return txn, nil
		}
	}
	return time.Time{}, err
}

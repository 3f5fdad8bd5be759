package matching

import "github.com/shopspring/decimal"

// Config holds the tolerances and weights for candidate scoring. The zero
// value is not usable; start from DefaultConfig.
type Config struct {
	// AmountTolerancePercent is the relative amount tolerance for fuzzy
	// candidacy, as a fraction of the order amount (0.01 = 1%).
	AmountTolerancePercent decimal.Decimal

	// MinAmountTolerance is an absolute floor on the amount tolerance so
	// near-zero order amounts do not collapse the tolerance to zero.
	MinAmountTolerance decimal.Decimal

	// ConfidenceThreshold is the minimum confidence (0-100) at which a fuzzy
	// candidate is retained for pairing.
	ConfidenceThreshold float64

	// Sub-score weights. They should sum to 100.
	AmountWeight float64
	DateWeight   float64
	TextWeight   float64
}

func DefaultConfig() Config {
	return Config{
		AmountTolerancePercent: decimal.NewFromFloat(0.01),
		MinAmountTolerance:     decimal.NewFromInt(1),
		ConfidenceThreshold:    60,
		AmountWeight:           60,
		DateWeight:             25,
		TextWeight:             15,
	}
}

package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/backoffice/internal/apperrors"
)

const defaultScale int32 = 2

// minor units per ISO 4217 for currencies that differ from two decimals.
var scales = map[string]int32{
	"XAF": 0,
	"XOF": 0,
	"JPY": 0,
	"KRW": 0,
	"RWF": 0,
	"UGX": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// Scale returns the number of minor-unit digits for a currency code.
func Scale(currency string) int32 {
	if s, ok := scales[strings.ToUpper(currency)]; ok {
		return s
	}
	return defaultScale
}

// NormalizeCurrency upper-cases and validates a three-letter currency code.
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return "", apperrors.Validation("currency must be a three-letter code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", apperrors.Validation("currency must be a three-letter code")
		}
	}
	return c, nil
}

// ValidateAmount rejects non-positive amounts and amounts with more precision
// than the currency allows.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return apperrors.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(Scale(currency))) {
		return apperrors.ErrInvalidAmount
	}
	return nil
}

// Format renders an amount at its currency scale, e.g. "1000.00".
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Scale(currency))
}

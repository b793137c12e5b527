package invoicing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the precision money is rounded to when it is persisted.
const CurrencyPlaces int32 = 2

// TaxRate is the fixed tax applied to taxable line subtotals (19%).
var TaxRate = decimal.RequireFromString("0.19")

// ParseMoney parses a decimal money string such as "19.99".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	return d, nil
}

// FormatMoney renders d with currency precision, e.g. "288.00".
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(CurrencyPlaces)
}

package invoicing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/invoicing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func line(code string, price string, qty int, taxable bool) invoicing.LineInput {
	return invoicing.LineInput{
		ProductCode: code,
		ProductName: "Product " + code,
		UnitPrice:   dec(price),
		Quantity:    qty,
		AppliesTax:  taxable,
	}
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestCalculateLine_Taxable(t *testing.T) {
	// GIVEN: 2 units at 100.00 with tax
	// WHEN: Calculating the line
	// THEN: subtotal 200, tax 38, total 238

	a := invoicing.CalculateLine(line("P1", "100.00", 2, true))

	assertDec(t, "200", a.Subtotal)
	assertDec(t, "38", a.TaxAmount)
	assertDec(t, "238", a.Total)
}

func TestCalculateLine_NotTaxable_ZeroTax(t *testing.T) {
	a := invoicing.CalculateLine(line("P2", "50.00", 1, false))

	assertDec(t, "50", a.Subtotal)
	assert.True(t, a.TaxAmount.IsZero())
	assertDec(t, "50", a.Total)
}

func TestCalculateLine_ZeroPrice(t *testing.T) {
	a := invoicing.CalculateLine(line("FREE", "0", 3, true))

	assert.True(t, a.Subtotal.IsZero())
	assert.True(t, a.TaxAmount.IsZero())
	assert.True(t, a.Total.IsZero())
}

func TestCalculateLine_TotalIsSubtotalPlusTax(t *testing.T) {
	prices := []string{"0.01", "0.05", "1.99", "33.33", "199.99", "420.50", "1234.5678"}
	for _, p := range prices {
		for qty := 1; qty <= 7; qty++ {
			for _, taxable := range []bool{true, false} {
				a := invoicing.CalculateLine(line("X", p, qty, taxable))
				assert.True(t, a.Total.Equal(a.Subtotal.Add(a.TaxAmount)), "price %s qty %d", p, qty)
				if !taxable {
					assert.True(t, a.TaxAmount.IsZero())
				}
			}
		}
	}
}

func TestCalculateLine_IsExact(t *testing.T) {
	// GIVEN: A price whose tax has more than two decimals
	// WHEN: Calculating without rounding
	// THEN: The tax keeps full precision (0.05 * 0.19 = 0.0095)

	a := invoicing.CalculateLine(line("C", "0.05", 1, true))

	assertDec(t, "0.0095", a.TaxAmount)
	assertDec(t, "0.0595", a.Total)
}

// =============================================================================
// ROUNDING
// =============================================================================

func TestLineAmounts_Round_RebuildsTotal(t *testing.T) {
	// GIVEN: 3 x 33.335 taxable -> subtotal 100.005, tax 19.00095
	// WHEN: Rounding to cents
	// THEN: Total equals the rounded parts summed, not the rounded exact total

	a := invoicing.CalculateLine(line("R", "33.335", 3, true)).Round(invoicing.CurrencyPlaces)

	assertDec(t, "100.01", a.Subtotal)
	assertDec(t, "19.00", a.TaxAmount)
	assertDec(t, "119.01", a.Total)
	assert.True(t, a.Total.Equal(a.Subtotal.Add(a.TaxAmount)))
}

func TestLineAmounts_Round_HalfUp(t *testing.T) {
	a := invoicing.CalculateLine(line("H", "0.05", 1, true)).Round(invoicing.CurrencyPlaces)

	assertDec(t, "0.05", a.Subtotal)
	assertDec(t, "0.01", a.TaxAmount)
	assertDec(t, "0.06", a.Total)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidateLine(t *testing.T) {
	tests := []struct {
		name    string
		in      invoicing.LineInput
		wantErr bool
	}{
		{"valid", line("P1", "10.00", 1, true), false},
		{"zero price allowed", line("P1", "0", 1, false), false},
		{"zero quantity", line("P1", "10.00", 0, true), true},
		{"negative quantity", line("P1", "10.00", -2, true), true},
		{"negative price", line("P1", "-0.01", 1, true), true},
		{"missing code", line(" ", "10.00", 1, true), true},
		{"missing name", invoicing.LineInput{ProductCode: "P1", UnitPrice: dec("1"), Quantity: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := invoicing.ValidateLine(4, tt.in)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, invoicing.ErrInvalidLineItem)

			var lineErr *invoicing.InvalidLineItemError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, 4, lineErr.Index)
		})
	}
}

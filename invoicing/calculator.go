/*
calculator.go - Per-line money

PURPOSE:
  Computes subtotal, tax and total of one line item:

    subtotal   = unit_price × quantity
    tax_amount = subtotal × TaxRate   (0 when the line is not taxable)
    total      = subtotal + tax_amount

PRECISION:
  CalculateLine works in exact decimal and never rounds. Round is applied
  once, at the point the line is persisted, and rebuilds the total from the
  rounded parts so total == subtotal + tax holds on stored values too.

VALIDATION:
  CalculateLine trusts its caller. ValidateLine is the re-check
  the coordinator runs before opening a transaction.
*/
package invoicing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CalculateLine computes the money of a single line item.
func CalculateLine(in LineInput) LineAmounts {
	subtotal := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))

	tax := decimal.Zero
	if in.AppliesTax {
		tax = subtotal.Mul(TaxRate)
	}

	return LineAmounts{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}

// Round rounds subtotal and tax to places and recomputes the total from them.
func (a LineAmounts) Round(places int32) LineAmounts {
	subtotal := a.Subtotal.Round(places)
	tax := a.TaxAmount.Round(places)
	return LineAmounts{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}

// ValidateLine checks the preconditions of CalculateLine for line index i.
func ValidateLine(i int, in LineInput) error {
	switch {
	case in.Quantity < 1:
		return &InvalidLineItemError{Index: i, Reason: "quantity must be at least 1"}
	case in.UnitPrice.IsNegative():
		return &InvalidLineItemError{Index: i, Reason: "unit price must not be negative"}
	case strings.TrimSpace(in.ProductCode) == "":
		return &InvalidLineItemError{Index: i, Reason: "product code is required"}
	case strings.TrimSpace(in.ProductName) == "":
		return &InvalidLineItemError{Index: i, Reason: "product name is required"}
	}
	return nil
}

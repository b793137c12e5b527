package invoicing

import "github.com/shopspring/decimal"

// Aggregate sums line amounts into invoice totals. Addition is exact, so the
// result does not depend on line order. Empty input yields zero totals; the
// coordinator rejects empty invoices before it gets here.
func Aggregate(lines []LineAmounts) Totals {
	subtotal, tax, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
		tax = tax.Add(l.TaxAmount)
		total = total.Add(l.Total)
	}
	return Totals{Subtotal: subtotal, TaxTotal: tax, Total: total}
}

// Amounts returns the computed money of each line, in order.
func (inv Invoice) Amounts() []LineAmounts {
	out := make([]LineAmounts, len(inv.Lines))
	for i, l := range inv.Lines {
		out[i] = l.Amounts
	}
	return out
}

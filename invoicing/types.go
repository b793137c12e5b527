/*
Package invoicing provides the invoice creation core.

PURPOSE:
  This package owns the numeric and transactional heart of the invoicing
  engine: line calculation, invoice aggregation, serial numbering and the
  coordinator that writes an invoice with its lines as one atomic unit.
  Transport (api/) and storage (store/sqlite, store/postgres) sit around it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client, User, Product: catalog records referenced by invoices
  - Invoice, Line: an invoice header and the lines it exclusively owns
  - LineInput, CreateInvoiceInput: explicit, typed inputs (no mass assignment)
  - Totals, LineAmounts: decimal money triples (subtotal, tax, total)

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, rounded only when persisted
  2. Snapshots: lines copy product code/name/price, never reference a product
  3. Atomicity: a header is never visible without its lines and final totals

SEE ALSO:
  - calculator.go: Per-line tax/subtotal/total
  - aggregate.go: Invoice-level sums
  - coordinator.go: Transactional creation
  - store.go: Persistence contract
*/
package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE TYPE
// =============================================================================

// InvoiceType decides the payment terms of an invoice.
type InvoiceType string

const (
	InvoiceCash   InvoiceType = "cash"
	InvoiceCredit InvoiceType = "credit"
)

// Valid reports whether t is a known invoice type.
func (t InvoiceType) Valid() bool {
	return t == InvoiceCash || t == InvoiceCredit
}

// ParseInvoiceType converts a raw string into an InvoiceType.
func ParseInvoiceType(s string) (InvoiceType, error) {
	t := InvoiceType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInvoiceType, s)
	}
	return t, nil
}

// =============================================================================
// CATALOG RECORDS
// =============================================================================

// Client is the party an invoice is issued to.
// Identification is the external identification string and is unique.
type Client struct {
	ID             int64
	Identification string
	Name           string
	Email          string
	CreatedAt      time.Time
}

// User is the person issuing invoices.
type User struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
}

// Product is a catalog entry. AppliesTax is an optional default that clients
// use to pre-fill line items; the per-line flag is authoritative.
type Product struct {
	ID         int64
	Code       string
	Name       string
	UnitPrice  decimal.Decimal
	AppliesTax *bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ClientInput carries the fields accepted when registering a client.
type ClientInput struct {
	Identification string
	Name           string
	Email          string
}

// UserInput carries the fields accepted when creating a user.
type UserInput struct {
	Name  string
	Email string
}

// ProductInput carries the editable product fields. The code is generated.
type ProductInput struct {
	Name       string
	UnitPrice  decimal.Decimal
	AppliesTax *bool
}

// =============================================================================
// INVOICES
// =============================================================================

// LineInput is one submitted line item. Code, name and price are snapshots
// taken by the caller at invoice time.
type LineInput struct {
	ProductCode string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	AppliesTax  bool
}

// LineAmounts is the computed money of a single line.
type LineAmounts struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// Totals is the invoice-level aggregate of its lines.
type Totals struct {
	Subtotal decimal.Decimal
	TaxTotal decimal.Decimal
	Total    decimal.Decimal
}

// ZeroTotals is the placeholder written with a provisional header.
func ZeroTotals() Totals {
	return Totals{Subtotal: decimal.Zero, TaxTotal: decimal.Zero, Total: decimal.Zero}
}

// Line is a persisted invoice line.
type Line struct {
	ID          int64
	InvoiceID   int64
	ProductCode string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	AppliesTax  bool
	Amounts     LineAmounts
}

// Invoice is an invoice header together with its lines.
// ID is the storage key; Number is the human-facing serial.
type Invoice struct {
	ID          int64
	Number      string
	ClientID    int64
	UserID      int64
	Type        InvoiceType
	InvoiceDate time.Time
	DueDate     time.Time
	Totals      Totals
	Lines       []Line
	CreatedAt   time.Time
}

// CreateInvoiceInput is everything the coordinator needs to create an invoice.
type CreateInvoiceInput struct {
	ClientID int64
	UserID   int64
	Type     InvoiceType
	Lines    []LineInput
}

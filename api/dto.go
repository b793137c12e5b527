/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types list
  exactly the fields a caller may set; computed fields (totals, serials,
  dates, ids) only exist on response types, so they cannot be mass-assigned.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - Envelope: Wrapper around every response

ENVELOPE:
  {"success": true,  "message": "...", "data": {...}}
  {"success": false, "error": "...", "details": [...]}

MONEY:
  Responses render money as strings with two decimals ("288.00").
  Requests accept unit_price as a JSON number or string.

VALIDATION:
  Struct tags are checked by go-playground/validator (see validation.go)
  before anything reaches the invoicing package. Business rules (invoice
  type, empty invoices, references) are enforced there too.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoicing-engine/invoicing"
)

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO describes one rejected request field.
type FieldErrorDTO struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// =============================================================================
// CLIENTS AND USERS
// =============================================================================

type CreateClientRequest struct {
	Identification string `json:"client_identification" validate:"required,max=50"`
	Name           string `json:"client_name" validate:"required,max=200"`
	Email          string `json:"email" validate:"omitempty,email"`
}

type ClientDTO struct {
	ID             int64  `json:"id"`
	Identification string `json:"client_identification"`
	Name           string `json:"client_name"`
	Email          string `json:"email,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

type UserDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toClientDTO(c invoicing.Client) ClientDTO {
	return ClientDTO{
		ID:             c.ID,
		Identification: c.Identification,
		Name:           c.Name,
		Email:          c.Email,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

func toUserDTO(u invoicing.User) UserDTO {
	return UserDTO{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt.Format(time.RFC3339)}
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductRequest is used for both create and update. The code is generated.
type ProductRequest struct {
	Name       string           `json:"product_name" validate:"required,max=200"`
	UnitPrice  *decimal.Decimal `json:"unit_price" validate:"required,gte=0"`
	AppliesTax *bool            `json:"applies_tax"`
}

type ProductDTO struct {
	ID         int64  `json:"id"`
	Code       string `json:"product_code"`
	Name       string `json:"product_name"`
	UnitPrice  string `json:"unit_price"`
	AppliesTax *bool  `json:"applies_tax"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (r ProductRequest) toInput() invoicing.ProductInput {
	return invoicing.ProductInput{Name: r.Name, UnitPrice: *r.UnitPrice, AppliesTax: r.AppliesTax}
}

func toProductDTO(p invoicing.Product) ProductDTO {
	return ProductDTO{
		ID:         p.ID,
		Code:       p.Code,
		Name:       p.Name,
		UnitPrice:  invoicing.FormatMoney(p.UnitPrice),
		AppliesTax: p.AppliesTax,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  p.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// LineRequest is one submitted line. Code, name and price are the caller's
// snapshot of the product; applies_tax is authoritative for the line.
type LineRequest struct {
	ProductCode string           `json:"product_code" validate:"required,max=50"`
	ProductName string           `json:"product_name" validate:"required,max=200"`
	UnitPrice   *decimal.Decimal `json:"unit_price" validate:"required,gte=0"`
	Quantity    int              `json:"quantity" validate:"required,min=1"`
	AppliesTax  *bool            `json:"applies_tax" validate:"required"`
}

// CreateInvoiceRequest carries everything a caller may set on an invoice.
type CreateInvoiceRequest struct {
	ClientID    int64         `json:"client_id" validate:"required,gt=0"`
	UserID      int64         `json:"user_id" validate:"required,gt=0"`
	InvoiceType string        `json:"invoice_type" validate:"required"`
	Details     []LineRequest `json:"details" validate:"dive"`
}

func (r CreateInvoiceRequest) toInput() invoicing.CreateInvoiceInput {
	lines := make([]invoicing.LineInput, len(r.Details))
	for i, d := range r.Details {
		lines[i] = invoicing.LineInput{
			ProductCode: d.ProductCode,
			ProductName: d.ProductName,
			UnitPrice:   *d.UnitPrice,
			Quantity:    d.Quantity,
			AppliesTax:  *d.AppliesTax,
		}
	}
	return invoicing.CreateInvoiceInput{
		ClientID: r.ClientID,
		UserID:   r.UserID,
		Type:     invoicing.InvoiceType(r.InvoiceType),
		Lines:    lines,
	}
}

type LineDTO struct {
	ID          int64  `json:"id"`
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	AppliesTax  bool   `json:"applies_tax"`
	Subtotal    string `json:"subtotal"`
	TaxAmount   string `json:"tax_amount"`
	Total       string `json:"total"`
}

type PartySummaryDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type InvoiceDTO struct {
	ID            int64            `json:"id"`
	InvoiceNumber string           `json:"invoice_number"`
	ClientID      int64            `json:"client_id"`
	UserID        int64            `json:"user_id"`
	InvoiceType   string           `json:"invoice_type"`
	InvoiceDate   string           `json:"invoice_date"`
	DueDate       string           `json:"due_date"`
	Subtotal      string           `json:"subtotal"`
	TaxTotal      string           `json:"tax_total"`
	Total         string           `json:"total"`
	CreatedAt     string           `json:"created_at"`
	Client        *PartySummaryDTO `json:"client,omitempty"`
	User          *PartySummaryDTO `json:"user,omitempty"`
	Details       []LineDTO        `json:"details,omitempty"`
}

func toInvoiceDTO(inv invoicing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:            inv.ID,
		InvoiceNumber: inv.Number,
		ClientID:      inv.ClientID,
		UserID:        inv.UserID,
		InvoiceType:   string(inv.Type),
		InvoiceDate:   inv.InvoiceDate.Format(invoicing.DateLayout),
		DueDate:       inv.DueDate.Format(invoicing.DateLayout),
		Subtotal:      invoicing.FormatMoney(inv.Totals.Subtotal),
		TaxTotal:      invoicing.FormatMoney(inv.Totals.TaxTotal),
		Total:         invoicing.FormatMoney(inv.Totals.Total),
		CreatedAt:     inv.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range inv.Lines {
		dto.Details = append(dto.Details, LineDTO{
			ID:          l.ID,
			ProductCode: l.ProductCode,
			ProductName: l.ProductName,
			UnitPrice:   invoicing.FormatMoney(l.UnitPrice),
			Quantity:    l.Quantity,
			AppliesTax:  l.AppliesTax,
			Subtotal:    invoicing.FormatMoney(l.Amounts.Subtotal),
			TaxAmount:   invoicing.FormatMoney(l.Amounts.TaxAmount),
			Total:       invoicing.FormatMoney(l.Amounts.Total),
		})
	}
	return dto
}

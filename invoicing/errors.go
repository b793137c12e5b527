/*
errors.go - Centralized error types for invoice creation and the catalog

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the API wrap or match these with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Input errors - empty invoice, bad line item, bad invoice type, bad field
  2. Reference errors - client or user id that does not exist
  3. Backend errors - sequence read failure, persistence failure

ROLLBACK RULE:
  Every error returned from inside a WithTx callback aborts the transaction.
  None of them is retried locally; the caller decides whether to retry the
  whole creation.

SEE ALSO:
  - coordinator.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package invoicing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrReferenceNotFound is returned when a client or user id does not exist.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrEmptyInvoice is returned when an invoice is submitted without lines.
	ErrEmptyInvoice = errors.New("invoice has no lines")

	// ErrInvalidLineItem is returned for a negative price or non-positive quantity.
	ErrInvalidLineItem = errors.New("invalid line item")

	// ErrInvalidInvoiceType is returned for a type other than cash or credit.
	ErrInvalidInvoiceType = errors.New("invalid invoice type")

	// ErrInvalidInput is returned when a catalog field fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence is returned when the transactional backend fails.
	ErrPersistence = errors.New("persistence failure")

	// ErrSequence is returned when the next serial cannot be determined.
	ErrSequence = errors.New("cannot determine next serial")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ReferenceNotFoundError names the dangling reference.
type ReferenceNotFoundError struct {
	Kind string // "client" or "user"
	ID   int64
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *ReferenceNotFoundError) Unwrap() error {
	return ErrReferenceNotFound
}

// InvalidLineItemError points at the offending line (zero-based).
type InvalidLineItemError struct {
	Index  int
	Reason string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Index, e.Reason)
}

func (e *InvalidLineItemError) Unwrap() error {
	return ErrInvalidLineItem
}

// InputError describes a rejected catalog field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// PersistenceError wraps a backend failure with the step that failed.
// It matches both ErrPersistence and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrReferenceNotFound) ||
		errors.Is(err, ErrEmptyInvoice) ||
		errors.Is(err, ErrInvalidLineItem) ||
		errors.Is(err, ErrInvalidInvoiceType) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Reason maps an error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReferenceNotFound):
		return "reference_not_found"
	case errors.Is(err, ErrEmptyInvoice):
		return "empty_invoice"
	case errors.Is(err, ErrInvalidLineItem):
		return "invalid_line_item"
	case errors.Is(err, ErrInvalidInvoiceType):
		return "invalid_invoice_type"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrSequence):
		return "sequence"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}

/*
coordinator.go - Atomic invoice creation

PURPOSE:
  The Coordinator writes one invoice and all of its lines as a single
  transaction. It is the only code path that creates invoices.

STEPS (inside one WithTx):
  1. Check the client and user references exist
  2. Read the last invoice serial value (locked) and derive the next serial
  3. Insert the header with zero totals
  4. Calculate, round and insert every line
  5. Aggregate the lines and update the header totals
  6. Advance the invoice sequence
  Commit happens when the callback returns nil.

CRITICAL INVARIANTS:
  1. ALL-OR-NOTHING: any error rolls back header, lines and counter together
  2. INVISIBLE PLACEHOLDER: the zero-total header only exists inside the tx
  3. UNIQUE SERIALS: the counter read and write share the transaction lock
  4. RE-DERIVED: every attempt derives its own serial, so retries are safe

INPUT CHECKS:
  Empty line lists, unknown invoice types and invalid lines are rejected
  before a transaction is opened. Reference checks run inside it.

SEE ALSO:
  - calculator.go, aggregate.go, sequence.go, dates.go: the pure steps
  - store.go: Tx contract
*/
package invoicing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Recorder receives creation outcomes. metrics.Collector implements it.
type Recorder interface {
	InvoiceCreated(lines int, total decimal.Decimal, elapsed time.Duration)
	InvoiceFailed(reason string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) InvoiceCreated(int, decimal.Decimal, time.Duration) {}
func (nopRecorder) InvoiceFailed(string, time.Duration)                {}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator orchestrates invoice creation and deletion.
type Coordinator struct {
	Store   TxStore
	Serials SerialFormat

	// Now is the clock used for issue dates. Defaults to time.Now.
	Now func() time.Time

	// Metrics receives outcomes. Defaults to a no-op recorder.
	Metrics Recorder

	logger *zap.Logger
}

// NewCoordinator creates a coordinator over store using the given serial format.
func NewCoordinator(store TxStore, serials SerialFormat, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		Store:   store,
		Serials: serials,
		Now:     time.Now,
		Metrics: nopRecorder{},
		logger:  logger,
	}
}

// CreateInvoice validates in and persists it atomically.
func (c *Coordinator) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	start := time.Now()

	inv, err := c.createInvoice(ctx, in)
	elapsed := time.Since(start)
	if err != nil {
		reason := Reason(err)
		c.Metrics.InvoiceFailed(reason, elapsed)
		c.logger.Warn("invoice creation failed",
			zap.Int64("client_id", in.ClientID),
			zap.Int64("user_id", in.UserID),
			zap.Int("lines", len(in.Lines)),
			zap.String("reason", reason),
			zap.Error(err))
		return nil, err
	}

	c.Metrics.InvoiceCreated(len(inv.Lines), inv.Totals.Total, elapsed)
	c.logger.Info("invoice created",
		zap.Int64("invoice_id", inv.ID),
		zap.String("invoice_number", inv.Number),
		zap.Int64("client_id", inv.ClientID),
		zap.Int("lines", len(inv.Lines)),
		zap.String("total", FormatMoney(inv.Totals.Total)),
		zap.Duration("duration", elapsed))
	return inv, nil
}

// ValidateInvoiceInput runs the checks that need no database access.
func ValidateInvoiceInput(in CreateInvoiceInput) error {
	if len(in.Lines) == 0 {
		return ErrEmptyInvoice
	}
	if !in.Type.Valid() {
		_, err := ParseInvoiceType(string(in.Type))
		return err
	}
	for i, l := range in.Lines {
		if err := ValidateLine(i, l); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) createInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := ValidateInvoiceInput(in); err != nil {
		return nil, err
	}

	now := c.Now()
	issued := IssueDate(now)

	var created Invoice
	err := c.Store.WithTx(ctx, func(tx Tx) error {
		if err := checkReferences(ctx, tx, in.ClientID, in.UserID); err != nil {
			return err
		}

		last, err := tx.LastSequenceValue(ctx, SequenceInvoice)
		if err != nil {
			return errors.Join(ErrSequence, err)
		}
		n, serial := c.Serials.NextSerial(last)

		inv := Invoice{
			Number:      serial,
			ClientID:    in.ClientID,
			UserID:      in.UserID,
			Type:        in.Type,
			InvoiceDate: issued,
			DueDate:     DueDate(in.Type, issued),
			Totals:      ZeroTotals(),
			CreatedAt:   now.UTC(),
		}
		id, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return persistenceError("insert invoice", err)
		}
		inv.ID = id

		amounts := make([]LineAmounts, 0, len(in.Lines))
		inv.Lines = make([]Line, 0, len(in.Lines))
		for _, li := range in.Lines {
			a := CalculateLine(li).Round(CurrencyPlaces)
			line := Line{
				InvoiceID:   id,
				ProductCode: li.ProductCode,
				ProductName: li.ProductName,
				UnitPrice:   li.UnitPrice,
				Quantity:    li.Quantity,
				AppliesTax:  li.AppliesTax,
				Amounts:     a,
			}
			lineID, err := tx.InsertLine(ctx, id, line)
			if err != nil {
				return persistenceError("insert line", err)
			}
			line.ID = lineID
			inv.Lines = append(inv.Lines, line)
			amounts = append(amounts, a)
		}

		inv.Totals = Aggregate(amounts)
		if err := tx.UpdateInvoiceTotals(ctx, id, inv.Totals); err != nil {
			return persistenceError("update invoice totals", err)
		}
		if err := tx.SetSequenceValue(ctx, SequenceInvoice, n); err != nil {
			return persistenceError("advance invoice sequence", err)
		}

		created = inv
		return nil
	})
	if err != nil {
		return nil, classify("create invoice", err)
	}
	return &created, nil
}

// DeleteInvoice removes an invoice together with its lines.
func (c *Coordinator) DeleteInvoice(ctx context.Context, id int64) error {
	err := c.Store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DeleteInvoice(ctx, id)
		if err != nil {
			return persistenceError("delete invoice", err)
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return classify("delete invoice", err)
	}
	c.logger.Info("invoice deleted", zap.Int64("invoice_id", id))
	return nil
}

func checkReferences(ctx context.Context, tx Tx, clientID, userID int64) error {
	ok, err := tx.ClientExists(ctx, clientID)
	if err != nil {
		return persistenceError("check client", err)
	}
	if !ok {
		return &ReferenceNotFoundError{Kind: "client", ID: clientID}
	}

	ok, err = tx.UserExists(ctx, userID)
	if err != nil {
		return persistenceError("check user", err)
	}
	if !ok {
		return &ReferenceNotFoundError{Kind: "user", ID: userID}
	}
	return nil
}

// classify keeps domain errors as they are and wraps anything else (begin,
// commit, driver errors) as a persistence failure.
func classify(op string, err error) error {
	if IsClientError(err) ||
		errors.Is(err, ErrSequence) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicate) {
		return err
	}
	return persistenceError(op, err)
}

/*
store.go - Persistence contract for invoices and the catalog

PURPOSE:
  Defines the interface between the invoicing core and the database.
  Every write happens inside WithTx so a creation is all-or-nothing.

KEY INTERFACES:
  Tx:      Writes and locked reads available inside one transaction
  TxStore: Opens a transaction scope (commit on nil, rollback on error)
  Reader:  Committed-state queries used by the API
  Store:   TxStore + Reader, what the stores implement

SEQUENCES:
  LastSequenceValue must lock the counter row for the rest of the
  transaction (SELECT ... FOR UPDATE on PostgreSQL, an IMMEDIATE transaction
  on SQLite, a mutex in memory). SetSequenceValue writes it back.

NOT FOUND:
  Reader getters return (nil, nil) for a missing record. Update/Delete
  methods report whether a row was affected.

IMPLEMENTATIONS:
  - invoicing/store/memory.go: In-memory for tests
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - coordinator.go: Invoice creation transaction
  - catalog.go: Catalog writes
*/
package invoicing

import "context"

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// ClientExists and UserExists check invoice references.
	ClientExists(ctx context.Context, id int64) (bool, error)
	UserExists(ctx context.Context, id int64) (bool, error)

	// LastSequenceValue returns the last value handed out for a named
	// sequence (0 if none) and locks it until the transaction ends.
	LastSequenceValue(ctx context.Context, name string) (int64, error)

	// SetSequenceValue records value as the last one handed out.
	SetSequenceValue(ctx context.Context, name string, value int64) error

	// InsertInvoice stores a header and returns its storage key.
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)

	// InsertLine stores a line owned by invoiceID and returns its key.
	InsertLine(ctx context.Context, invoiceID int64, line Line) (int64, error)

	// UpdateInvoiceTotals overwrites the three aggregate fields.
	UpdateInvoiceTotals(ctx context.Context, invoiceID int64, totals Totals) error

	// DeleteInvoice removes an invoice and, by cascade, its lines.
	DeleteInvoice(ctx context.Context, id int64) (bool, error)

	// InsertClient fails with ErrDuplicate when the identification is taken.
	InsertClient(ctx context.Context, c Client) (int64, error)
	InsertUser(ctx context.Context, u User) (int64, error)

	// InsertProduct fails with ErrDuplicate when the code is taken.
	InsertProduct(ctx context.Context, p Product) (int64, error)
	UpdateProduct(ctx context.Context, p Product) (bool, error)
	DeleteProduct(ctx context.Context, id int64) (bool, error)
}

// TxStore opens transaction scopes.
type TxStore interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// READS
// =============================================================================

// Reader queries committed state.
type Reader interface {
	ListClients(ctx context.Context) ([]Client, error)
	Client(ctx context.Context, id int64) (*Client, error)
	ClientByIdentification(ctx context.Context, identification string) (*Client, error)

	ListUsers(ctx context.Context) ([]User, error)
	User(ctx context.Context, id int64) (*User, error)

	ListProducts(ctx context.Context) ([]Product, error)
	Product(ctx context.Context, id int64) (*Product, error)

	// ListInvoices returns headers only, ordered by storage key.
	ListInvoices(ctx context.Context) ([]Invoice, error)

	// Invoice returns a header with its lines.
	Invoice(ctx context.Context, id int64) (*Invoice, error)
}

// Store is implemented by every backend.
type Store interface {
	TxStore
	Reader
}

/*
Package sqlite provides a SQLite-backed implementation of invoicing.Store.

PURPOSE:
  Default persistence for the invoicing engine. Implements the Tx, TxStore
  and Reader contracts with plain SQL over database/sql.

KEY TABLES:
  users:           Issuing users
  clients:         Invoice recipients (client_identification is UNIQUE)
  products:        Catalog entries (product_code is UNIQUE)
  invoices:        Headers (invoice_number is UNIQUE)
  invoice_details: Lines, ON DELETE CASCADE from invoices
  sequences:       One counter row per named sequence (invoice, product)

MONEY:
  Stored as TEXT with two decimals ("288.00") and scanned straight into
  decimal.Decimal. Never REAL.

CONCURRENCY:
  One connection, a Go mutex around every transaction and IMMEDIATE
  transactions (_txlock=immediate). A creation therefore reads and advances
  the sequence row without any other writer in between. Inside WithTx only
  the *sql.Tx is used; touching s.db there would wait for the connection the
  transaction already holds.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/invoicing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  coord := invoicing.NewCoordinator(store, invoicing.DefaultInvoiceSerial, logger)

MIGRATION:
  Schema is auto-migrated on New(). PostgreSQL uses versioned migrations
  (store/postgres/migrations).

SEE ALSO:
  - invoicing/store.go: Interface definitions
  - invoicing/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/invoicing-engine/invoicing"
)

// Store implements invoicing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_identification TEXT NOT NULL UNIQUE,
		client_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_code TEXT NOT NULL UNIQUE,
		product_name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		applies_tax INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Totals are zero until the creation transaction updates them; the
	-- placeholder is never visible outside that transaction.
	CREATE TABLE IF NOT EXISTS invoices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invoice_number TEXT NOT NULL UNIQUE,
		client_id INTEGER NOT NULL REFERENCES clients(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		invoice_type TEXT NOT NULL CHECK (invoice_type IN ('cash', 'credit')),
		invoice_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax_total TEXT NOT NULL,
		total TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices(client_id);

	CREATE TABLE IF NOT EXISTS invoice_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invoice_id INTEGER NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		product_code TEXT NOT NULL,
		product_name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		applies_tax INTEGER NOT NULL,
		subtotal TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		total TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoice_details_invoice ON invoice_details(invoice_id);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL DEFAULT 0
	);

	INSERT OR IGNORE INTO sequences (name, last_value) VALUES ('invoice', 0);
	INSERT OR IGNORE INTO sequences (name, last_value) VALUES ('product', 0);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (invoicing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx invoicing.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ClientExists(ctx context.Context, id int64) (bool, error) {
	return ts.exists(ctx, "SELECT 1 FROM clients WHERE id = ?", id)
}

func (ts *txStore) UserExists(ctx context.Context, id int64) (bool, error) {
	return ts.exists(ctx, "SELECT 1 FROM users WHERE id = ?", id)
}

func (ts *txStore) exists(ctx context.Context, query string, id int64) (bool, error) {
	var one int
	err := ts.tx.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LastSequenceValue reads the counter. The IMMEDIATE transaction already
// holds the database write lock, so no other writer can interleave.
func (ts *txStore) LastSequenceValue(ctx context.Context, name string) (int64, error) {
	var last int64
	err := ts.tx.QueryRowContext(ctx,
		"SELECT last_value FROM sequences WHERE name = ?", name,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return last, err
}

func (ts *txStore) SetSequenceValue(ctx context.Context, name string, value int64) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO sequences (name, last_value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET last_value = excluded.last_value
	`, name, value)
	return err
}

func (ts *txStore) InsertInvoice(ctx context.Context, inv invoicing.Invoice) (int64, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO invoices (invoice_number, client_id, user_id, invoice_type,
			invoice_date, due_date, subtotal, tax_total, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.Number, inv.ClientID, inv.UserID, string(inv.Type),
		inv.InvoiceDate.Format(invoicing.DateLayout),
		inv.DueDate.Format(invoicing.DateLayout),
		invoicing.FormatMoney(inv.Totals.Subtotal),
		invoicing.FormatMoney(inv.Totals.TaxTotal),
		invoicing.FormatMoney(inv.Totals.Total),
		formatTime(inv.CreatedAt),
	)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

func (ts *txStore) InsertLine(ctx context.Context, invoiceID int64, l invoicing.Line) (int64, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO invoice_details (invoice_id, product_code, product_name,
			unit_price, quantity, applies_tax, subtotal, tax_amount, total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		invoiceID, l.ProductCode, l.ProductName,
		l.UnitPrice.String(), l.Quantity, l.AppliesTax,
		invoicing.FormatMoney(l.Amounts.Subtotal),
		invoicing.FormatMoney(l.Amounts.TaxAmount),
		invoicing.FormatMoney(l.Amounts.Total),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (ts *txStore) UpdateInvoiceTotals(ctx context.Context, invoiceID int64, t invoicing.Totals) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE invoices SET subtotal = ?, tax_total = ?, total = ? WHERE id = ?",
		invoicing.FormatMoney(t.Subtotal),
		invoicing.FormatMoney(t.TaxTotal),
		invoicing.FormatMoney(t.Total),
		invoiceID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invoicing.ErrNotFound
	}
	return nil
}

func (ts *txStore) DeleteInvoice(ctx context.Context, id int64) (bool, error) {
	return ts.delete(ctx, "DELETE FROM invoices WHERE id = ?", id)
}

func (ts *txStore) InsertClient(ctx context.Context, c invoicing.Client) (int64, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO clients (client_identification, client_name, email, created_at)
		VALUES (?, ?, ?, ?)
	`, c.Identification, c.Name, c.Email, formatTime(c.CreatedAt))
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

func (ts *txStore) InsertUser(ctx context.Context, u invoicing.User) (int64, error) {
	res, err := ts.tx.ExecContext(ctx,
		"INSERT INTO users (name, email, created_at) VALUES (?, ?, ?)",
		u.Name, u.Email, formatTime(u.CreatedAt),
	)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

func (ts *txStore) InsertProduct(ctx context.Context, p invoicing.Product) (int64, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO products (product_code, product_name, unit_price, applies_tax, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		p.Code, p.Name, p.UnitPrice.String(), nullBool(p.AppliesTax),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

func (ts *txStore) UpdateProduct(ctx context.Context, p invoicing.Product) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE products SET product_name = ?, unit_price = ?, applies_tax = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.UnitPrice.String(), nullBool(p.AppliesTax), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (ts *txStore) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	return ts.delete(ctx, "DELETE FROM products WHERE id = ?", id)
}

func (ts *txStore) delete(ctx context.Context, query string, id int64) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// CLIENTS AND USERS
// =============================================================================

const clientColumns = "id, client_identification, client_name, email, created_at"

// ListClients returns all clients ordered by id.
func (s *Store) ListClients(ctx context.Context) ([]invoicing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []invoicing.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// Client retrieves a client by id.
func (s *Store) Client(ctx context.Context, id int64) (*invoicing.Client, error) {
	return s.queryClient(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
}

// ClientByIdentification retrieves a client by its identification string.
func (s *Store) ClientByIdentification(ctx context.Context, identification string) (*invoicing.Client, error) {
	return s.queryClient(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE client_identification = ?",
		strings.TrimSpace(identification))
}

func (s *Store) queryClient(ctx context.Context, query string, arg any) (*invoicing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanClient(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanClient(row scanner) (invoicing.Client, error) {
	var c invoicing.Client
	var createdAt string
	if err := row.Scan(&c.ID, &c.Identification, &c.Name, &c.Email, &createdAt); err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]invoicing.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []invoicing.User
	for rows.Next() {
		var u invoicing.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// User retrieves a user by id.
func (s *Store) User(ctx context.Context, id int64) (*invoicing.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u invoicing.User
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &u.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = "id, product_code, product_name, unit_price, applies_tax, created_at, updated_at"

// ListProducts returns the catalog ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]invoicing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []invoicing.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Product retrieves a product by id.
func (s *Store) Product(ctx context.Context, id int64) (*invoicing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProduct(s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProduct(row scanner) (invoicing.Product, error) {
	var p invoicing.Product
	var appliesTax sql.NullBool
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.UnitPrice, &appliesTax, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	if appliesTax.Valid {
		v := appliesTax.Bool
		p.AppliesTax = &v
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, invoice_number, client_id, user_id, invoice_type, invoice_date,
	due_date, subtotal, tax_total, total, created_at`

// ListInvoices returns invoice headers (without lines) ordered by id.
func (s *Store) ListInvoices(ctx context.Context) ([]invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []invoicing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Invoice retrieves an invoice header with its lines.
func (s *Store) Invoice(ctx context.Context, id int64) (*invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, err := scanInvoice(s.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, product_code, product_name, unit_price, quantity,
			applies_tax, subtotal, tax_amount, total
		FROM invoice_details WHERE invoice_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l invoicing.Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductCode, &l.ProductName,
			&l.UnitPrice, &l.Quantity, &l.AppliesTax,
			&l.Amounts.Subtotal, &l.Amounts.TaxAmount, &l.Amounts.Total); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanInvoice(row scanner) (invoicing.Invoice, error) {
	var inv invoicing.Invoice
	var typ, invoiceDate, dueDate, createdAt string
	var subtotal, taxTotal, total decimal.Decimal
	err := row.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.UserID, &typ,
		&invoiceDate, &dueDate, &subtotal, &taxTotal, &total, &createdAt)
	if err != nil {
		return inv, err
	}
	inv.Type = invoicing.InvoiceType(typ)
	inv.InvoiceDate, _ = time.Parse(invoicing.DateLayout, invoiceDate)
	inv.DueDate, _ = time.Parse(invoicing.DateLayout, dueDate)
	inv.Totals = invoicing.Totals{Subtotal: subtotal, TaxTotal: taxTotal, Total: total}
	inv.CreatedAt = parseTime(createdAt)
	return inv, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// mapError turns UNIQUE violations into invoicing.ErrDuplicate.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", invoicing.ErrDuplicate, err)
	}
	return err
}

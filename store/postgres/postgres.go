/*
Package postgres provides a PostgreSQL implementation of invoicing.Store.

PURPOSE:
  Server-grade persistence for deployments with more than one writer.
  Same contract and table layout as store/sqlite; money is NUMERIC,
  dates are DATE and timestamps TIMESTAMPTZ.

DRIVER:
  pgx through its database/sql adapter (driver name "pgx"). Constraint
  violations are recognised through *pgconn.PgError codes.

CONCURRENCY:
  No process-level lock. LastSequenceValue runs SELECT ... FOR UPDATE, so
  concurrent creations queue on the sequence row until the holder commits
  or rolls back. Serials stay unique across processes.

SCHEMA:
  Versioned migrations in migrations/, embedded and applied with
  golang-migrate (see migrate.go).

SEE ALSO:
  - invoicing/store.go: Interface definitions
  - store/sqlite: Embedded implementation
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/invoicing-engine/invoicing"
)

const uniqueViolation = "23505"

// Store implements invoicing.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a connection pool for dsn and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx invoicing.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

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
	var ok bool
	err := ts.tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM clients WHERE id = $1)", id).Scan(&ok)
	return ok, err
}

func (ts *txStore) UserExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := ts.tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&ok)
	return ok, err
}

// LastSequenceValue locks the counter row until the transaction ends.
// A missing row is created first so the lock always has a target.
func (ts *txStore) LastSequenceValue(ctx context.Context, name string) (int64, error) {
	if _, err := ts.tx.ExecContext(ctx,
		"INSERT INTO sequences (name, last_value) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING", name,
	); err != nil {
		return 0, err
	}

	var last int64
	err := ts.tx.QueryRowContext(ctx,
		"SELECT last_value FROM sequences WHERE name = $1 FOR UPDATE", name,
	).Scan(&last)
	return last, err
}

func (ts *txStore) SetSequenceValue(ctx context.Context, name string, value int64) error {
	_, err := ts.tx.ExecContext(ctx, "UPDATE sequences SET last_value = $2 WHERE name = $1", name, value)
	return err
}

func (ts *txStore) InsertInvoice(ctx context.Context, inv invoicing.Invoice) (int64, error) {
	var id int64
	err := ts.tx.QueryRowContext(ctx, `
		INSERT INTO invoices (invoice_number, client_id, user_id, invoice_type,
			invoice_date, due_date, subtotal, tax_total, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		inv.Number, inv.ClientID, inv.UserID, string(inv.Type),
		inv.InvoiceDate, inv.DueDate,
		inv.Totals.Subtotal, inv.Totals.TaxTotal, inv.Totals.Total,
		inv.CreatedAt,
	).Scan(&id)
	return id, mapError(err)
}

func (ts *txStore) InsertLine(ctx context.Context, invoiceID int64, l invoicing.Line) (int64, error) {
	var id int64
	err := ts.tx.QueryRowContext(ctx, `
		INSERT INTO invoice_details (invoice_id, product_code, product_name,
			unit_price, quantity, applies_tax, subtotal, tax_amount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		invoiceID, l.ProductCode, l.ProductName,
		l.UnitPrice, l.Quantity, l.AppliesTax,
		l.Amounts.Subtotal, l.Amounts.TaxAmount, l.Amounts.Total,
	).Scan(&id)
	return id, err
}

func (ts *txStore) UpdateInvoiceTotals(ctx context.Context, invoiceID int64, t invoicing.Totals) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE invoices SET subtotal = $1, tax_total = $2, total = $3 WHERE id = $4",
		t.Subtotal, t.TaxTotal, t.Total, invoiceID,
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
	return ts.delete(ctx, "DELETE FROM invoices WHERE id = $1", id)
}

func (ts *txStore) InsertClient(ctx context.Context, c invoicing.Client) (int64, error) {
	var id int64
	err := ts.tx.QueryRowContext(ctx, `
		INSERT INTO clients (client_identification, client_name, email, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.Identification, c.Name, c.Email, c.CreatedAt).Scan(&id)
	return id, mapError(err)
}

func (ts *txStore) InsertUser(ctx context.Context, u invoicing.User) (int64, error) {
	var id int64
	err := ts.tx.QueryRowContext(ctx,
		"INSERT INTO users (name, email, created_at) VALUES ($1, $2, $3) RETURNING id",
		u.Name, u.Email, u.CreatedAt,
	).Scan(&id)
	return id, mapError(err)
}

func (ts *txStore) InsertProduct(ctx context.Context, p invoicing.Product) (int64, error) {
	var id int64
	err := ts.tx.QueryRowContext(ctx, `
		INSERT INTO products (product_code, product_name, unit_price, applies_tax, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.Code, p.Name, p.UnitPrice, nullBool(p.AppliesTax), p.CreatedAt, p.UpdatedAt).Scan(&id)
	return id, mapError(err)
}

func (ts *txStore) UpdateProduct(ctx context.Context, p invoicing.Product) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE products SET product_name = $1, unit_price = $2, applies_tax = $3, updated_at = $4
		WHERE id = $5
	`, p.Name, p.UnitPrice, nullBool(p.AppliesTax), p.UpdatedAt, p.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (ts *txStore) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	return ts.delete(ctx, "DELETE FROM products WHERE id = $1", id)
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
// READS
// =============================================================================

const clientColumns = "id, client_identification, client_name, email, created_at"

func (s *Store) ListClients(ctx context.Context) ([]invoicing.Client, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]invoicing.Client, 0, 16)
	for rows.Next() {
		var c invoicing.Client
		if err := rows.Scan(&c.ID, &c.Identification, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Store) Client(ctx context.Context, id int64) (*invoicing.Client, error) {
	return s.queryClient(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = $1", id)
}

func (s *Store) ClientByIdentification(ctx context.Context, identification string) (*invoicing.Client, error) {
	return s.queryClient(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE client_identification = $1",
		strings.TrimSpace(identification))
}

func (s *Store) queryClient(ctx context.Context, query string, arg any) (*invoicing.Client, error) {
	var c invoicing.Client
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.Identification, &c.Name, &c.Email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]invoicing.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]invoicing.User, 0, 4)
	for rows.Next() {
		var u invoicing.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) User(ctx context.Context, id int64) (*invoicing.User, error) {
	var u invoicing.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const productColumns = "id, product_code, product_name, unit_price, applies_tax, created_at, updated_at"

func (s *Store) ListProducts(ctx context.Context) ([]invoicing.Product, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]invoicing.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) Product(ctx context.Context, id int64) (*invoicing.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProduct(row interface{ Scan(...any) error }) (invoicing.Product, error) {
	var p invoicing.Product
	var appliesTax sql.NullBool
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.UnitPrice, &appliesTax, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if appliesTax.Valid {
		v := appliesTax.Bool
		p.AppliesTax = &v
	}
	return p, nil
}

const invoiceColumns = `id, invoice_number, client_id, user_id, invoice_type, invoice_date,
	due_date, subtotal, tax_total, total, created_at`

func (s *Store) ListInvoices(ctx context.Context) ([]invoicing.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]invoicing.Invoice, 0, 32)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *Store) Invoice(ctx context.Context, id int64) (*invoicing.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, product_code, product_name, unit_price, quantity,
			applies_tax, subtotal, tax_amount, total
		FROM invoice_details WHERE invoice_id = $1 ORDER BY id
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

func scanInvoice(row interface{ Scan(...any) error }) (invoicing.Invoice, error) {
	var inv invoicing.Invoice
	var typ string
	err := row.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.UserID, &typ,
		&inv.InvoiceDate, &inv.DueDate,
		&inv.Totals.Subtotal, &inv.Totals.TaxTotal, &inv.Totals.Total,
		&inv.CreatedAt)
	if err != nil {
		return inv, err
	}
	inv.Type = invoicing.InvoiceType(typ)
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.DueDate = inv.DueDate.UTC()
	return inv, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// mapError turns unique violations into invoicing.ErrDuplicate.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", invoicing.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

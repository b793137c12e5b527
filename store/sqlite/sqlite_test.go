package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/invoicing"
	"github.com/warp/invoicing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	store       *sqlite.Store
	coordinator *invoicing.Coordinator
	catalog     *invoicing.Catalog
	clientID    int64
	userID      int64
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	catalog := invoicing.NewCatalog(store, invoicing.DefaultProductCode, nil)
	client, err := catalog.RegisterClient(ctx, invoicing.ClientInput{Identification: "900123456", Name: "Acme Corporation", Email: "billing@acme.example"})
	require.NoError(t, err)
	user, err := catalog.CreateUser(ctx, invoicing.UserInput{Name: "Default User", Email: "admin@example.com"})
	require.NoError(t, err)

	coord := invoicing.NewCoordinator(store, invoicing.DefaultInvoiceSerial, nil)
	coord.Now = func() time.Time { return time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC) }

	return &env{store: store, coordinator: coord, catalog: catalog, clientID: client.ID, userID: user.ID}
}

func line(code, price string, qty int, taxable bool) invoicing.LineInput {
	return invoicing.LineInput{
		ProductCode: code,
		ProductName: "Product " + code,
		UnitPrice:   decimal.RequireFromString(price),
		Quantity:    qty,
		AppliesTax:  taxable,
	}
}

func (e *env) input(typ invoicing.InvoiceType, lines ...invoicing.LineInput) invoicing.CreateInvoiceInput {
	return invoicing.CreateInvoiceInput{ClientID: e.clientID, UserID: e.userID, Type: typ, Lines: lines}
}

func money(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, invoicing.FormatMoney(got))
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestStore_CreateAndReadInvoice(t *testing.T) {
	// GIVEN: 2 x 100.00 taxable and 1 x 50.00 non-taxable on credit
	// WHEN: Creating and reading back the invoice
	// THEN: Header, dates and lines survive the database unchanged

	e := newTestEnv(t)
	ctx := context.Background()

	created, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCredit,
		line("P1", "100.00", 2, true),
		line("P2", "50.00", 1, false),
	))
	require.NoError(t, err)

	inv, err := e.store.Invoice(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, "000-0001", inv.Number)
	assert.Equal(t, invoicing.InvoiceCredit, inv.Type)
	assert.Equal(t, e.clientID, inv.ClientID)
	assert.Equal(t, e.userID, inv.UserID)
	assert.Equal(t, "2025-01-01", inv.InvoiceDate.Format(invoicing.DateLayout))
	assert.Equal(t, "2025-01-31", inv.DueDate.Format(invoicing.DateLayout))
	money(t, "250.00", inv.Totals.Subtotal)
	money(t, "38.00", inv.Totals.TaxTotal)
	money(t, "288.00", inv.Totals.Total)

	require.Len(t, inv.Lines, 2)
	assert.Equal(t, "P1", inv.Lines[0].ProductCode)
	assert.Equal(t, 2, inv.Lines[0].Quantity)
	assert.True(t, inv.Lines[0].AppliesTax)
	money(t, "238.00", inv.Lines[0].Amounts.Total)
	assert.False(t, inv.Lines[1].AppliesTax)
	money(t, "0.00", inv.Lines[1].Amounts.TaxAmount)

	headers, err := e.store.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.Empty(t, headers[0].Lines)
}

func TestStore_MissingRecords_ReturnNil(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	inv, err := e.store.Invoice(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, inv)

	p, err := e.store.Product(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, p)

	u, err := e.store.User(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, u)

	c, err := e.store.Client(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, c)
}

// =============================================================================
// ATOMICITY
// =============================================================================

type failAfterHeader struct {
	invoicing.TxStore
}

func (s failAfterHeader) WithTx(ctx context.Context, fn func(invoicing.Tx) error) error {
	return s.TxStore.WithTx(ctx, func(tx invoicing.Tx) error {
		return fn(brokenLines{tx})
	})
}

type brokenLines struct {
	invoicing.Tx
}

func (brokenLines) InsertLine(context.Context, int64, invoicing.Line) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestStore_FailureAfterHeader_RollsBack(t *testing.T) {
	// GIVEN: The header insert succeeds but the first line insert fails
	// WHEN: Creating an invoice
	// THEN: No header, no lines, and the counter did not move

	e := newTestEnv(t)
	ctx := context.Background()
	e.coordinator.Store = failAfterHeader{e.store}

	_, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCash, line("P1", "10.00", 1, true)))
	require.Error(t, err)
	assert.ErrorIs(t, err, invoicing.ErrPersistence)

	headers, err := e.store.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, headers)

	e.coordinator.Store = e.store
	inv, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCash, line("P1", "10.00", 1, true)))
	require.NoError(t, err)
	assert.Equal(t, "000-0001", inv.Number)
}

func TestStore_UnknownClient_NoSerialConsumed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.coordinator.CreateInvoice(ctx, invoicing.CreateInvoiceInput{
		ClientID: 999, UserID: e.userID, Type: invoicing.InvoiceCash,
		Lines: []invoicing.LineInput{line("P1", "1", 1, false)},
	})
	assert.ErrorIs(t, err, invoicing.ErrReferenceNotFound)

	inv, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCash, line("P1", "1", 1, false)))
	require.NoError(t, err)
	assert.Equal(t, "000-0001", inv.Number)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestStore_ConcurrentCreation_UniqueSerials(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	serials := map[string]bool{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCash, line("P", "3.00", 1, true)))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, serials[inv.Number], "serial %s assigned twice", inv.Number)
			serials[inv.Number] = true
		}()
	}
	wg.Wait()

	assert.Len(t, serials, n)
	for i := 1; i <= n; i++ {
		assert.True(t, serials[fmt.Sprintf("000-%04d", i)])
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestStore_DuplicateClient(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.catalog.RegisterClient(context.Background(), invoicing.ClientInput{Identification: "900123456", Name: "Other"})

	assert.ErrorIs(t, err, invoicing.ErrDuplicate)
}

func TestStore_ProductRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	taxable := true

	p, err := e.catalog.CreateProduct(ctx, invoicing.ProductInput{Name: "Software License", UnitPrice: decimal.RequireFromString("420.50"), AppliesTax: &taxable})
	require.NoError(t, err)
	q, err := e.catalog.CreateProduct(ctx, invoicing.ProductInput{Name: "Support", UnitPrice: decimal.RequireFromString("310")})
	require.NoError(t, err)

	got, err := e.store.Product(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ITEM-0001", got.Code)
	assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("420.5")))
	require.NotNil(t, got.AppliesTax)
	assert.True(t, *got.AppliesTax)

	got, err = e.store.Product(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "ITEM-0002", got.Code)
	assert.Nil(t, got.AppliesTax)

	updated, err := e.catalog.UpdateProduct(ctx, q.ID, invoicing.ProductInput{Name: "Premium Support", UnitPrice: decimal.RequireFromString("330")})
	require.NoError(t, err)
	assert.Equal(t, "Premium Support", updated.Name)
	assert.Equal(t, "ITEM-0002", updated.Code)

	require.NoError(t, e.catalog.DeleteProduct(ctx, p.ID))
	products, err := e.store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, q.ID, products[0].ID)
}

func TestStore_DeleteInvoice_CascadesLines(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	inv, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCash, line("A", "1", 1, false), line("B", "2", 2, true)))
	require.NoError(t, err)

	require.NoError(t, e.coordinator.DeleteInvoice(ctx, inv.ID))

	got, err := e.store.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A new invoice keeps counting; serials are never reused.
	next, err := e.coordinator.CreateInvoice(ctx, e.input(invoicing.InvoiceCash, line("A", "1", 1, false)))
	require.NoError(t, err)
	assert.Equal(t, "000-0002", next.Number)
	reread, err := e.store.Invoice(ctx, next.ID)
	require.NoError(t, err)
	assert.Len(t, reread.Lines, 1)
}

func TestStore_SeedDemoData(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	seeded, err := invoicing.SeedDemoData(ctx, invoicing.NewCatalog(store, invoicing.DefaultProductCode, nil))
	require.NoError(t, err)
	assert.True(t, seeded)

	c, err := store.ClientByIdentification(ctx, "1020304050")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Jane Doe", c.Name)

	require.NoError(t, store.Ping(ctx))
}

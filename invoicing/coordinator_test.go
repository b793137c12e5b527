package invoicing_test

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
	"github.com/warp/invoicing-engine/invoicing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.January, 1, 10, 30, 0, 0, time.UTC)

type fixture struct {
	store       *store.Memory
	coordinator *invoicing.Coordinator
	catalog     *invoicing.Catalog
	clientID    int64
	userID      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	catalog := invoicing.NewCatalog(mem, invoicing.DefaultProductCode, nil)
	catalog.Now = func() time.Time { return testNow }

	client, err := catalog.RegisterClient(ctx, invoicing.ClientInput{Identification: "900123456", Name: "Acme"})
	require.NoError(t, err)
	user, err := catalog.CreateUser(ctx, invoicing.UserInput{Name: "Clerk", Email: "clerk@example.com"})
	require.NoError(t, err)

	coord := invoicing.NewCoordinator(mem, invoicing.DefaultInvoiceSerial, nil)
	coord.Now = func() time.Time { return testNow }

	return &fixture{store: mem, coordinator: coord, catalog: catalog, clientID: client.ID, userID: user.ID}
}

func (f *fixture) input(typ invoicing.InvoiceType, lines ...invoicing.LineInput) invoicing.CreateInvoiceInput {
	return invoicing.CreateInvoiceInput{ClientID: f.clientID, UserID: f.userID, Type: typ, Lines: lines}
}

// failingStore wraps a TxStore and makes InsertLine fail on the given call.
type failingStore struct {
	invoicing.TxStore
	failOnLine int
}

func (s *failingStore) WithTx(ctx context.Context, fn func(invoicing.Tx) error) error {
	return s.TxStore.WithTx(ctx, func(tx invoicing.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOnLine})
	})
}

type failingTx struct {
	invoicing.Tx
	failOn int
	calls  int
}

var errDiskFull = errors.New("disk full")

func (t *failingTx) InsertLine(ctx context.Context, invoiceID int64, l invoicing.Line) (int64, error) {
	t.calls++
	if t.calls == t.failOn {
		return 0, errDiskFull
	}
	return t.Tx.InsertLine(ctx, invoiceID, l)
}

// brokenSequenceStore fails every sequence read.
type brokenSequenceStore struct {
	invoicing.TxStore
}

func (s *brokenSequenceStore) WithTx(ctx context.Context, fn func(invoicing.Tx) error) error {
	return s.TxStore.WithTx(ctx, func(tx invoicing.Tx) error {
		return fn(brokenSequenceTx{tx})
	})
}

type brokenSequenceTx struct {
	invoicing.Tx
}

func (brokenSequenceTx) LastSequenceValue(context.Context, string) (int64, error) {
	return 0, errors.New("sequence table missing")
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreateInvoice_ComputesTotals(t *testing.T) {
	// GIVEN: 2 x 100.00 taxable and 1 x 50.00 non-taxable
	// WHEN: Creating a credit invoice
	// THEN: Totals are 250 / 38 / 288 and the first serial is 000-0001

	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCredit,
		line("P1", "100.00", 2, true),
		line("P2", "50.00", 1, false),
	))
	require.NoError(t, err)

	assert.Equal(t, "000-0001", inv.Number)
	assertDec(t, "250.00", inv.Totals.Subtotal)
	assertDec(t, "38.00", inv.Totals.TaxTotal)
	assertDec(t, "288.00", inv.Totals.Total)
	require.Len(t, inv.Lines, 2)
	assertDec(t, "238.00", inv.Lines[0].Amounts.Total)
	assertDec(t, "50.00", inv.Lines[1].Amounts.Total)

	assert.Equal(t, "2025-01-01", inv.InvoiceDate.Format(invoicing.DateLayout))
	assert.Equal(t, "2025-01-31", inv.DueDate.Format(invoicing.DateLayout))
}

func TestCreateInvoice_PersistedMatchesReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCash,
		line("A", "0.05", 3, true),
		line("B", "199.99", 2, true),
	))
	require.NoError(t, err)

	stored, err := f.store.Invoice(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.Equal(t, created.Number, stored.Number)
	assert.True(t, created.Totals.Total.Equal(stored.Totals.Total))
	assert.Equal(t, stored.InvoiceDate, stored.DueDate, "cash invoices are due on issue")
	require.Len(t, stored.Lines, 2)

	// Stored totals are exactly the sum of stored lines.
	sum := invoicing.Aggregate(stored.Amounts())
	assert.True(t, sum.Subtotal.Equal(stored.Totals.Subtotal))
	assert.True(t, sum.TaxTotal.Equal(stored.Totals.TaxTotal))
	assert.True(t, sum.Total.Equal(stored.Totals.Total))
	assert.True(t, stored.Totals.Total.Equal(stored.Totals.Subtotal.Add(stored.Totals.TaxTotal)))
}

func TestCreateInvoice_SerialsIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		inv, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCash, line("P", "1.00", 1, false)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("000-%04d", i), inv.Number)
	}
}

func TestCreateInvoice_CustomPrefix(t *testing.T) {
	f := newFixture(t)
	f.coordinator.Serials = invoicing.SerialFormat{Prefix: "FAC-", Width: 6}

	inv, err := f.coordinator.CreateInvoice(context.Background(), f.input(invoicing.InvoiceCash, line("P", "1.00", 1, false)))
	require.NoError(t, err)

	assert.Equal(t, "FAC-000001", inv.Number)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestCreateInvoice_Rejections(t *testing.T) {
	f := newFixture(t)
	ok := line("P", "10.00", 1, true)

	tests := []struct {
		name string
		in   invoicing.CreateInvoiceInput
		want error
	}{
		{"unknown client", invoicing.CreateInvoiceInput{ClientID: 999, UserID: f.userID, Type: invoicing.InvoiceCash, Lines: []invoicing.LineInput{ok}}, invoicing.ErrReferenceNotFound},
		{"unknown user", invoicing.CreateInvoiceInput{ClientID: f.clientID, UserID: 999, Type: invoicing.InvoiceCash, Lines: []invoicing.LineInput{ok}}, invoicing.ErrReferenceNotFound},
		{"no lines", f.input(invoicing.InvoiceCash), invoicing.ErrEmptyInvoice},
		{"bad type", f.input("barter", ok), invoicing.ErrInvalidInvoiceType},
		{"zero quantity", f.input(invoicing.InvoiceCash, ok, line("P", "10.00", 0, true)), invoicing.ErrInvalidLineItem},
		{"negative price", f.input(invoicing.InvoiceCash, line("P", "-1", 1, true)), invoicing.ErrInvalidLineItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := f.coordinator.CreateInvoice(context.Background(), tt.in)

			assert.Nil(t, inv)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, invoicing.IsClientError(err))
		})
	}

	// THEN: Nothing was written and the first serial is still available
	invoices, lines := f.store.Counts()
	assert.Zero(t, invoices)
	assert.Zero(t, lines)

	inv, err := f.coordinator.CreateInvoice(context.Background(), f.input(invoicing.InvoiceCash, ok))
	require.NoError(t, err)
	assert.Equal(t, "000-0001", inv.Number)
}

func TestCreateInvoice_UnknownClient_NamesReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.CreateInvoice(context.Background(), invoicing.CreateInvoiceInput{
		ClientID: 42, UserID: f.userID, Type: invoicing.InvoiceCash,
		Lines: []invoicing.LineInput{line("P", "1", 1, false)},
	})

	var refErr *invoicing.ReferenceNotFoundError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "client", refErr.Kind)
	assert.Equal(t, int64(42), refErr.ID)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestCreateInvoice_LineFailure_RollsBackEverything(t *testing.T) {
	// GIVEN: A backend whose second line insert fails
	// WHEN: Creating a three-line invoice
	// THEN: Persistence error, no header, no lines, serial not consumed

	f := newFixture(t)
	ctx := context.Background()
	f.coordinator.Store = &failingStore{TxStore: f.store, failOnLine: 2}

	inv, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCredit,
		line("A", "10.00", 1, true),
		line("B", "20.00", 1, true),
		line("C", "30.00", 1, true),
	))

	assert.Nil(t, inv)
	assert.ErrorIs(t, err, invoicing.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, invoicing.IsClientError(err))

	invoices, lines := f.store.Counts()
	assert.Zero(t, invoices)
	assert.Zero(t, lines)

	// WHEN: The backend recovers
	f.coordinator.Store = f.store
	inv, err = f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCredit, line("A", "10.00", 1, true)))
	require.NoError(t, err)
	assert.Equal(t, "000-0001", inv.Number, "failed attempt must not consume a serial")
}

func TestCreateInvoice_SequenceFailure(t *testing.T) {
	f := newFixture(t)
	f.coordinator.Store = &brokenSequenceStore{TxStore: f.store}

	_, err := f.coordinator.CreateInvoice(context.Background(), f.input(invoicing.InvoiceCash, line("A", "1", 1, false)))

	assert.ErrorIs(t, err, invoicing.ErrSequence)
	assert.Equal(t, "sequence", invoicing.Reason(err))

	invoices, _ := f.store.Counts()
	assert.Zero(t, invoices)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCreateInvoice_Concurrent_UniqueSerials(t *testing.T) {
	// GIVEN: 25 concurrent creations
	// THEN: 25 distinct serials 000-0001..000-0025

	f := newFixture(t)
	ctx := context.Background()
	const n = 25

	var wg sync.WaitGroup
	serials := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCash, line("P", "5.00", 2, true)))
			if err != nil {
				errs <- err
				return
			}
			serials <- inv.Number
		}()
	}
	wg.Wait()
	close(serials)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	seen := map[string]bool{}
	for s := range serials {
		assert.False(t, seen[s], "serial %s assigned twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("000-%04d", i)], "missing serial %d", i)
	}
}

// =============================================================================
// DELETION
// =============================================================================

func TestDeleteInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCash, line("A", "1", 1, false), line("B", "2", 1, false)))
	require.NoError(t, err)

	require.NoError(t, f.coordinator.DeleteInvoice(ctx, inv.ID))

	invoices, lines := f.store.Counts()
	assert.Zero(t, invoices)
	assert.Zero(t, lines)

	err = f.coordinator.DeleteInvoice(ctx, inv.ID)
	assert.ErrorIs(t, err, invoicing.ErrNotFound)
}

// =============================================================================
// METRICS HOOK
// =============================================================================

type countingRecorder struct {
	mu      sync.Mutex
	created int
	total   decimal.Decimal
	failed  map[string]int
}

func (r *countingRecorder) InvoiceCreated(_ int, total decimal.Decimal, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	r.total = r.total.Add(total)
}

func (r *countingRecorder) InvoiceFailed(reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[reason]++
}

func TestCreateInvoice_ReportsOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &countingRecorder{failed: map[string]int{}}
	f.coordinator.Metrics = rec

	_, err := f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCash, line("P1", "100.00", 2, true)))
	require.NoError(t, err)
	_, err = f.coordinator.CreateInvoice(ctx, f.input(invoicing.InvoiceCash))
	require.Error(t, err)

	assert.Equal(t, 1, rec.created)
	assertDec(t, "238", rec.total)
	assert.Equal(t, 1, rec.failed["empty_invoice"])
}

// Package store provides invoicing.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/invoicing-engine/invoicing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all records in maps. WithTx runs against a private copy of
// the state and publishes it only on success, so a failed callback leaves no
// trace. Transactions are serialised by the mutex.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	clients   map[int64]invoicing.Client
	users     map[int64]invoicing.User
	products  map[int64]invoicing.Product
	invoices  map[int64]invoicing.Invoice
	sequences map[string]int64
	nextID    map[string]int64
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		clients:   make(map[int64]invoicing.Client),
		users:     make(map[int64]invoicing.User),
		products:  make(map[int64]invoicing.Product),
		invoices:  make(map[int64]invoicing.Invoice),
		sequences: make(map[string]int64),
		nextID:    make(map[string]int64),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		clients:   make(map[int64]invoicing.Client, len(s.clients)),
		users:     make(map[int64]invoicing.User, len(s.users)),
		products:  make(map[int64]invoicing.Product, len(s.products)),
		invoices:  make(map[int64]invoicing.Invoice, len(s.invoices)),
		sequences: make(map[string]int64, len(s.sequences)),
		nextID:    make(map[string]int64, len(s.nextID)),
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.invoices {
		v.Lines = append([]invoicing.Line(nil), v.Lines...)
		c.invoices[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.nextID {
		c.nextID[k] = v
	}
	return c
}

func (s *memState) id(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

// WithTx runs fn against a copy of the state and commits it if fn succeeds.
func (m *Memory) WithTx(ctx context.Context, fn func(invoicing.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

type memTx struct {
	state *memState
}

func (t *memTx) ClientExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.state.clients[id]
	return ok, nil
}

func (t *memTx) UserExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.state.users[id]
	return ok, nil
}

func (t *memTx) LastSequenceValue(_ context.Context, name string) (int64, error) {
	return t.state.sequences[name], nil
}

func (t *memTx) SetSequenceValue(_ context.Context, name string, value int64) error {
	t.state.sequences[name] = value
	return nil
}

func (t *memTx) InsertInvoice(_ context.Context, inv invoicing.Invoice) (int64, error) {
	for _, existing := range t.state.invoices {
		if existing.Number == inv.Number {
			return 0, invoicing.ErrDuplicate
		}
	}
	inv.ID = t.state.id("invoices")
	inv.Lines = nil
	t.state.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memTx) InsertLine(_ context.Context, invoiceID int64, line invoicing.Line) (int64, error) {
	inv, ok := t.state.invoices[invoiceID]
	if !ok {
		return 0, invoicing.ErrNotFound
	}
	line.ID = t.state.id("lines")
	line.InvoiceID = invoiceID
	inv.Lines = append(inv.Lines, line)
	t.state.invoices[invoiceID] = inv
	return line.ID, nil
}

func (t *memTx) UpdateInvoiceTotals(_ context.Context, invoiceID int64, totals invoicing.Totals) error {
	inv, ok := t.state.invoices[invoiceID]
	if !ok {
		return invoicing.ErrNotFound
	}
	inv.Totals = totals
	t.state.invoices[invoiceID] = inv
	return nil
}

func (t *memTx) DeleteInvoice(_ context.Context, id int64) (bool, error) {
	if _, ok := t.state.invoices[id]; !ok {
		return false, nil
	}
	delete(t.state.invoices, id)
	return true, nil
}

func (t *memTx) InsertClient(_ context.Context, c invoicing.Client) (int64, error) {
	for _, existing := range t.state.clients {
		if existing.Identification == c.Identification {
			return 0, invoicing.ErrDuplicate
		}
	}
	c.ID = t.state.id("clients")
	t.state.clients[c.ID] = c
	return c.ID, nil
}

func (t *memTx) InsertUser(_ context.Context, u invoicing.User) (int64, error) {
	u.ID = t.state.id("users")
	t.state.users[u.ID] = u
	return u.ID, nil
}

func (t *memTx) InsertProduct(_ context.Context, p invoicing.Product) (int64, error) {
	for _, existing := range t.state.products {
		if existing.Code == p.Code {
			return 0, invoicing.ErrDuplicate
		}
	}
	p.ID = t.state.id("products")
	t.state.products[p.ID] = p
	return p.ID, nil
}

func (t *memTx) UpdateProduct(_ context.Context, p invoicing.Product) (bool, error) {
	existing, ok := t.state.products[p.ID]
	if !ok {
		return false, nil
	}
	existing.Name = p.Name
	existing.UnitPrice = p.UnitPrice
	existing.AppliesTax = p.AppliesTax
	existing.UpdatedAt = p.UpdatedAt
	t.state.products[p.ID] = existing
	return true, nil
}

func (t *memTx) DeleteProduct(_ context.Context, id int64) (bool, error) {
	if _, ok := t.state.products[id]; !ok {
		return false, nil
	}
	delete(t.state.products, id)
	return true, nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) ListClients(_ context.Context) ([]invoicing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]invoicing.Client, 0, len(m.state.clients))
	for _, c := range m.state.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Client(_ context.Context, id int64) (*invoicing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.state.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ClientByIdentification(_ context.Context, identification string) (*invoicing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.state.clients {
		if c.Identification == strings.TrimSpace(identification) {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]invoicing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]invoicing.User, 0, len(m.state.users))
	for _, u := range m.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) User(_ context.Context, id int64) (*invoicing.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.state.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]invoicing.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]invoicing.Product, 0, len(m.state.products))
	for _, p := range m.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Product(_ context.Context, id int64) (*invoicing.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.state.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListInvoices(_ context.Context) ([]invoicing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]invoicing.Invoice, 0, len(m.state.invoices))
	for _, inv := range m.state.invoices {
		inv.Lines = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Invoice(_ context.Context, id int64) (*invoicing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.state.invoices[id]
	if !ok {
		return nil, nil
	}
	inv.Lines = append([]invoicing.Line(nil), inv.Lines...)
	return &inv, nil
}

// Counts reports how many invoices and lines are stored. Tests use it to
// prove rolled-back creations left nothing behind.
func (m *Memory) Counts() (invoices, lines int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inv := range m.state.invoices {
		invoices++
		lines += len(inv.Lines)
	}
	return invoices, lines
}

/*
handlers.go - HTTP API handlers for the invoicing engine

PURPOSE:
  Exposes invoice creation and the catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the invoicing
  package.

ENDPOINTS:
  Clients:
    GET    /api/clients                   List clients
    POST   /api/clients                   Register client
    GET    /api/clients/{identification}  Client by identification

  Users:
    GET    /api/users                     List users
    POST   /api/users                     Create user

  Products:
    GET    /api/products                  List catalog
    POST   /api/products                  Create product (code generated)
    GET    /api/products/{id}             Get product
    PUT    /api/products/{id}             Update name, price, tax default
    DELETE /api/products/{id}             Remove product

  Invoices:
    GET    /api/invoices                  List headers with client/user
    POST   /api/invoices                  Create invoice (atomic)
    GET    /api/invoices/{id}             Header, lines, client, user
    DELETE /api/invoices/{id}             Remove invoice and lines

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Read queries
  - Coordinator: Invoice writes
  - Catalog: Client, user and product writes

REQUEST FLOW:
  1. Decode JSON into an explicit *Request type
  2. Validate struct tags
  3. Call the coordinator or catalog
  4. Serialize response in the envelope
  5. Map errors to status codes

ERROR HANDLING:
  - 400: Malformed JSON or path parameter
  - 422: Validation errors, unknown client/user, empty invoice,
         invalid line item, invalid invoice type
  - 404: Resource not found
  - 409: Duplicate identification / code
  - 500: Persistence or sequence failure (details only in logs)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/warp/invoicing-engine/invoicing"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       invoicing.Store
	Coordinator *invoicing.Coordinator
	Catalog     *invoicing.Catalog

	logger   *zap.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler over the given store and services.
func NewHandler(store invoicing.Store, coord *invoicing.Coordinator, catalog *invoicing.Catalog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:       store,
		Coordinator: coord,
		Catalog:     catalog,
		logger:      logger,
		validate:    newValidator(),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		h.writeFailure(w, r, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// GetClient returns a client by its identification string.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "identification")

	c, err := h.Store.ClientByIdentification(r.Context(), ident)
	if err != nil {
		h.writeFailure(w, r, "Failed to get client", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}
	writeData(w, http.StatusOK, "", toClientDTO(*c))
}

// CreateClient registers a new client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Catalog.RegisterClient(r.Context(), invoicing.ClientInput{
		Identification: req.Identification,
		Name:           req.Name,
		Email:          req.Email,
	})
	if err != nil {
		h.writeFailure(w, r, "Failed to register client", err)
		return
	}
	writeData(w, http.StatusCreated, "Client registered", toClientDTO(*c))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all issuing users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeFailure(w, r, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// CreateUser creates an issuing user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.Catalog.CreateUser(r.Context(), invoicing.UserInput{Name: req.Name, Email: req.Email})
	if err != nil {
		h.writeFailure(w, r, "Failed to create user", err)
		return
	}
	writeData(w, http.StatusCreated, "User created", toUserDTO(*u))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeFailure(w, r, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.Store.Product(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "Failed to get product", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}
	writeData(w, http.StatusOK, "", toProductDTO(*p))
}

// CreateProduct adds a product under the next product code.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Catalog.CreateProduct(r.Context(), req.toInput())
	if err != nil {
		h.writeFailure(w, r, "Failed to create product", err)
		return
	}
	writeData(w, http.StatusCreated, "Product created", toProductDTO(*p))
}

// UpdateProduct edits a product. Existing invoices keep their snapshot.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Catalog.UpdateProduct(r.Context(), id, req.toInput())
	if err != nil {
		h.writeFailure(w, r, "Failed to update product", err)
		return
	}
	writeData(w, http.StatusOK, "Product updated", toProductDTO(*p))
}

// DeleteProduct removes a product from the catalog.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Catalog.DeleteProduct(r.Context(), id); err != nil {
		h.writeFailure(w, r, "Failed to delete product", err)
		return
	}
	writeData(w, http.StatusOK, "Product deleted", nil)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoice headers with client and user summaries.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoices, err := h.Store.ListInvoices(ctx)
	if err != nil {
		h.writeFailure(w, r, "Failed to list invoices", err)
		return
	}

	parties, err := h.loadParties(ctx)
	if err != nil {
		h.writeFailure(w, r, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
		parties.attach(&dtos[i])
	}
	writeData(w, http.StatusOK, "", dtos)
}

// GetInvoice returns an invoice with its lines.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.Store.Invoice(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	dto, err := h.invoiceWithParties(r.Context(), *inv)
	if err != nil {
		h.writeFailure(w, r, "Failed to get invoice", err)
		return
	}
	writeData(w, http.StatusOK, "", dto)
}

// CreateInvoice creates an invoice with all of its lines in one transaction.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.Coordinator.CreateInvoice(r.Context(), req.toInput())
	if err != nil {
		h.writeFailure(w, r, "Failed to create invoice", err)
		return
	}

	dto, err := h.invoiceWithParties(r.Context(), *inv)
	if err != nil {
		// The invoice is committed; answer without the summaries.
		h.logger.Warn("load invoice parties", zap.Int64("invoice_id", inv.ID), zap.Error(err))
		dto = toInvoiceDTO(*inv)
	}
	writeData(w, http.StatusCreated, "Invoice created", dto)
}

// DeleteInvoice removes an invoice and its lines.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Coordinator.DeleteInvoice(r.Context(), id); err != nil {
		h.writeFailure(w, r, "Failed to delete invoice", err)
		return
	}
	writeData(w, http.StatusOK, "Invoice deleted", nil)
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", nil)
			return
		}
	}
	writeData(w, http.StatusOK, "ok", nil)
}

// =============================================================================
// PARTY SUMMARIES
// =============================================================================

type parties struct {
	clients map[int64]invoicing.Client
	users   map[int64]invoicing.User
}

func (h *Handler) loadParties(ctx context.Context) (*parties, error) {
	clients, err := h.Store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	users, err := h.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	p := &parties{
		clients: make(map[int64]invoicing.Client, len(clients)),
		users:   make(map[int64]invoicing.User, len(users)),
	}
	for _, c := range clients {
		p.clients[c.ID] = c
	}
	for _, u := range users {
		p.users[u.ID] = u
	}
	return p, nil
}

func (p *parties) attach(dto *InvoiceDTO) {
	if c, ok := p.clients[dto.ClientID]; ok {
		dto.Client = &PartySummaryDTO{ID: c.ID, Name: c.Name}
	}
	if u, ok := p.users[dto.UserID]; ok {
		dto.User = &PartySummaryDTO{ID: u.ID, Name: u.Name}
	}
}

func (h *Handler) invoiceWithParties(ctx context.Context, inv invoicing.Invoice) (InvoiceDTO, error) {
	dto := toInvoiceDTO(inv)

	c, err := h.Store.Client(ctx, inv.ClientID)
	if err != nil {
		return dto, err
	}
	if c != nil {
		dto.Client = &PartySummaryDTO{ID: c.ID, Name: c.Name}
	}

	u, err := h.Store.User(ctx, inv.UserID)
	if err != nil {
		return dto, err
	}
	if u != nil {
		dto.User = &PartySummaryDTO{ID: u.ID, Name: u.Name}
	}
	return dto, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body into dst. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", fieldErrors(err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", nil)
		return 0, false
	}
	return id, true
}

// writeFailure maps an invoicing error to a status code. Server-side
// failures are logged and their details withheld from the client.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case invoicing.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err.Error())
	case invoicing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, invoicing.ErrDuplicate):
		writeError(w, http.StatusConflict, message, err.Error())
	default:
		h.logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("reason", invoicing.Reason(err)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, Envelope{Success: false, Error: message, Details: details})
}

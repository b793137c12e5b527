package invoicing

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Catalog manages clients, users and products. Clients are immutable once
// registered; products may be edited or removed because invoice lines keep
// their own snapshot of code, name and price.
type Catalog struct {
	Store Store
	Codes SerialFormat
	Now   func() time.Time

	logger *zap.Logger
}

// NewCatalog creates a catalog that numbers products with codes.
func NewCatalog(store Store, codes SerialFormat, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{Store: store, Codes: codes, Now: time.Now, logger: logger}
}

// =============================================================================
// CLIENTS
// =============================================================================

// RegisterClient stores a new client. The identification must be unused.
func (c *Catalog) RegisterClient(ctx context.Context, in ClientInput) (*Client, error) {
	client := Client{
		Identification: strings.TrimSpace(in.Identification),
		Name:           strings.TrimSpace(in.Name),
		Email:          strings.TrimSpace(in.Email),
		CreatedAt:      c.Now().UTC(),
	}
	if client.Identification == "" {
		return nil, &InputError{Field: "client_identification", Reason: "required"}
	}
	if client.Name == "" {
		return nil, &InputError{Field: "client_name", Reason: "required"}
	}
	if err := checkEmail("email", client.Email); err != nil {
		return nil, err
	}

	err := c.Store.WithTx(ctx, func(tx Tx) error {
		id, err := tx.InsertClient(ctx, client)
		if err != nil {
			return err
		}
		client.ID = id
		return nil
	})
	if err != nil {
		return nil, classify("insert client", err)
	}

	c.logger.Info("client registered",
		zap.Int64("client_id", client.ID),
		zap.String("identification", client.Identification))
	return &client, nil
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser stores a new issuing user.
func (c *Catalog) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	user := User{
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		CreatedAt: c.Now().UTC(),
	}
	if user.Name == "" {
		return nil, &InputError{Field: "name", Reason: "required"}
	}
	if err := checkEmail("email", user.Email); err != nil {
		return nil, err
	}

	err := c.Store.WithTx(ctx, func(tx Tx) error {
		id, err := tx.InsertUser(ctx, user)
		if err != nil {
			return err
		}
		user.ID = id
		return nil
	})
	if err != nil {
		return nil, classify("insert user", err)
	}
	return &user, nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

// CreateProduct stores a product under the next product code. The code is
// reserved in the same transaction as the insert.
func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	if err := checkProduct(in); err != nil {
		return nil, err
	}

	now := c.Now().UTC()
	product := Product{
		Name:       strings.TrimSpace(in.Name),
		UnitPrice:  in.UnitPrice,
		AppliesTax: in.AppliesTax,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := c.Store.WithTx(ctx, func(tx Tx) error {
		last, err := tx.LastSequenceValue(ctx, SequenceProduct)
		if err != nil {
			return errors.Join(ErrSequence, err)
		}
		n, code := c.Codes.NextSerial(last)
		product.Code = code

		id, err := tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		product.ID = id
		return tx.SetSequenceValue(ctx, SequenceProduct, n)
	})
	if err != nil {
		return nil, classify("insert product", err)
	}

	c.logger.Info("product created",
		zap.Int64("product_id", product.ID),
		zap.String("product_code", product.Code))
	return &product, nil
}

// UpdateProduct replaces the editable fields of product id. Existing invoice
// lines are unaffected.
func (c *Catalog) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*Product, error) {
	if err := checkProduct(in); err != nil {
		return nil, err
	}

	update := Product{
		ID:         id,
		Name:       strings.TrimSpace(in.Name),
		UnitPrice:  in.UnitPrice,
		AppliesTax: in.AppliesTax,
		UpdatedAt:  c.Now().UTC(),
	}
	err := c.Store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.UpdateProduct(ctx, update)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, classify("update product", err)
	}

	p, err := c.Store.Product(ctx, id)
	if err != nil {
		return nil, persistenceError("read product", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// DeleteProduct removes product id from the catalog.
func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	err := c.Store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DeleteProduct(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return classify("delete product", err)
	}
	c.logger.Info("product deleted", zap.Int64("product_id", id))
	return nil
}

func checkProduct(in ProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return &InputError{Field: "name", Reason: "required"}
	}
	if in.UnitPrice.IsNegative() {
		return &InputError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

func checkEmail(field, email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &InputError{Field: field, Reason: "invalid email"}
	}
	return nil
}

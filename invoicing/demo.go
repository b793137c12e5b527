/*
demo.go - Demo catalog for development databases

PURPOSE:
  Populates an empty database with one issuing user, two clients and a
  handful of products so the API can be exercised right away.

WHEN IT RUNS:
  Only when the product catalog is empty. Seeding an already populated
  database is a no-op, so it is safe to leave enabled in development.

USAGE:
  seeded, err := invoicing.SeedDemoData(ctx, catalog)

SEE ALSO:
  - cmd/server/main.go: --seed flag / seed.demo config
*/
package invoicing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DemoProducts is the product catalog created by SeedDemoData.
var DemoProducts = []ProductInput{
	{Name: "Consulting Service", UnitPrice: decimal.RequireFromString("850.00"), AppliesTax: boolPtr(true)},
	{Name: "Software License", UnitPrice: decimal.RequireFromString("420.50"), AppliesTax: boolPtr(true)},
	{Name: "Hardware Maintenance", UnitPrice: decimal.RequireFromString("199.99"), AppliesTax: boolPtr(true)},
	{Name: "Online Training", UnitPrice: decimal.RequireFromString("75.00"), AppliesTax: boolPtr(false)},
	{Name: "Premium Technical Support", UnitPrice: decimal.RequireFromString("310.00"), AppliesTax: nil},
}

// DemoClients is the client list created by SeedDemoData.
var DemoClients = []ClientInput{
	{Identification: "900123456", Name: "Acme Corporation", Email: "billing@acme.example"},
	{Identification: "1020304050", Name: "Jane Doe", Email: "jane.doe@example.com"},
}

// DemoUser is the issuing user created by SeedDemoData.
var DemoUser = UserInput{Name: "Default User", Email: "admin@example.com"}

// SeedDemoData fills an empty catalog. It reports whether anything was written.
func SeedDemoData(ctx context.Context, c *Catalog) (bool, error) {
	products, err := c.Store.ListProducts(ctx)
	if err != nil {
		return false, fmt.Errorf("list products: %w", err)
	}
	if len(products) > 0 {
		return false, nil
	}

	users, err := c.Store.ListUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		if _, err := c.CreateUser(ctx, DemoUser); err != nil {
			return false, fmt.Errorf("seed user: %w", err)
		}
	}

	for _, in := range DemoClients {
		existing, err := c.Store.ClientByIdentification(ctx, in.Identification)
		if err != nil {
			return false, fmt.Errorf("lookup client %s: %w", in.Identification, err)
		}
		if existing != nil {
			continue
		}
		if _, err := c.RegisterClient(ctx, in); err != nil {
			return false, fmt.Errorf("seed client %s: %w", in.Identification, err)
		}
	}

	for _, in := range DemoProducts {
		if _, err := c.CreateProduct(ctx, in); err != nil {
			return false, fmt.Errorf("seed product %s: %w", in.Name, err)
		}
	}
	return true, nil
}

func boolPtr(b bool) *bool { return &b }

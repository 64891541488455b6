// Package catalog resolves product and option codes against the storefront
// catalog tables. The order core only reads from it.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("catalog: not found")

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx so lookups can
// run inside the caller's transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Product struct {
	ID    int64
	Code  string
	Name  string
	Price decimal.Decimal
}

type Option struct {
	ID    int64
	Code  string
	Name  string
	Price decimal.Decimal
}

type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveProduct returns the product with its current price: the sale price
// when one is set, the base price otherwise.
func (r *Resolver) ResolveProduct(ctx context.Context, q Querier, code string) (Product, error) {
	query := `
		SELECT id, code, name, COALESCE(sale_price, price)
		FROM catalog.products
		WHERE code = $1 AND active
	`

	var p Product
	err := q.QueryRow(ctx, query, code).Scan(&p.ID, &p.Code, &p.Name, &p.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product %q", ErrNotFound, code)
		}
		return Product{}, fmt.Errorf("catalog: failed to resolve product %q: %w", code, err)
	}

	return p, nil
}

// ResolveOption looks the option up within the product it belongs to.
func (r *Resolver) ResolveOption(ctx context.Context, q Querier, productID int64, code string) (Option, error) {
	query := `
		SELECT id, code, name, price
		FROM catalog.product_options
		WHERE product_id = $1 AND code = $2
	`

	var o Option
	err := q.QueryRow(ctx, query, productID, code).Scan(&o.ID, &o.Code, &o.Name, &o.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Option{}, fmt.Errorf("%w: option %q of product %d", ErrNotFound, code, productID)
		}
		return Option{}, fmt.Errorf("catalog: failed to resolve option %q: %w", code, err)
	}

	return o, nil
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-pricing/internal/pricing"
)

// AggregateFilter narrows the aggregates loaded for a batch.
type AggregateFilter struct {
	CustomerCode string
	ProductCode  string
	Limit        int
}

// AggregateRepo reads sales aggregates and product costs.
type AggregateRepo struct {
	DB DBTX
}

func scanAggregate(row pgx.CollectableRow) (pricing.SalesAggregate, error) {
	var (
		agg                 pricing.SalesAggregate
		category            pgtype.Text
		cost, amount, gross pgtype.Numeric
	)
	if err := row.Scan(&agg.CustomerCode, &agg.ProductCode, &category, &cost, &amount, &gross); err != nil {
		return pricing.SalesAggregate{}, err
	}
	agg.Category = category.String
	agg.IncomingCost = fromNumeric(cost)
	agg.LastAmount = fromNumeric(amount)
	agg.LastGrossProfit = fromNumeric(gross)
	agg.Key = pricing.AggregateKey{CustomerCode: agg.CustomerCode, ProductCode: agg.ProductCode}
	return agg, nil
}

// List returns aggregates ordered by key. A zero limit loads every match.
func (r AggregateRepo) List(ctx context.Context, filter AggregateFilter) ([]pricing.SalesAggregate, error) {
	if r.DB == nil {
		return nil, ErrStoreUnavailable
	}
	var limit pgtype.Int8
	if filter.Limit > 0 {
		limit = pgtype.Int8{Int64: int64(filter.Limit), Valid: true}
	}
	rows, err := r.DB.Query(ctx, `SELECT customer_code, product_code, primary_group, incoming_cost, last_amount, last_gross_profit
FROM sales_aggregate
WHERE ($1::text IS NULL OR customer_code = $1)
  AND ($2::text IS NULL OR product_code = $2)
ORDER BY customer_code, product_code
LIMIT $3`, toText(strings.TrimSpace(filter.CustomerCode)), toText(strings.TrimSpace(filter.ProductCode)), limit)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	aggs, err := pgx.CollectRows(rows, scanAggregate)
	if err != nil {
		return nil, fmt.Errorf("scan aggregates: %w", err)
	}
	return aggs, nil
}

// Get returns one aggregate by key.
func (r AggregateRepo) Get(ctx context.Context, key pricing.AggregateKey) (pricing.SalesAggregate, error) {
	if r.DB == nil {
		return pricing.SalesAggregate{}, ErrStoreUnavailable
	}
	rows, err := r.DB.Query(ctx, `SELECT customer_code, product_code, primary_group, incoming_cost, last_amount, last_gross_profit
FROM sales_aggregate WHERE customer_code = $1 AND product_code = $2`, key.CustomerCode, key.ProductCode)
	if err != nil {
		return pricing.SalesAggregate{}, fmt.Errorf("query aggregate %s: %w", key, err)
	}
	agg, err := pgx.CollectExactlyOneRow(rows, scanAggregate)
	if err != nil {
		return pricing.SalesAggregate{}, notFound(err, "aggregate "+key.String())
	}
	return agg, nil
}

// UpsertAggregate writes an aggregate keyed by customer and product code.
func (r AggregateRepo) UpsertAggregate(ctx context.Context, agg pricing.SalesAggregate) error {
	if r.DB == nil {
		return ErrStoreUnavailable
	}
	key := agg.AggregateKey()
	_, err := r.DB.Exec(ctx, `INSERT INTO sales_aggregate (customer_code, product_code, primary_group, incoming_cost, last_amount, last_gross_profit)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (customer_code, product_code) DO UPDATE SET
    primary_group = EXCLUDED.primary_group,
    incoming_cost = EXCLUDED.incoming_cost,
    last_amount = EXCLUDED.last_amount,
    last_gross_profit = EXCLUDED.last_gross_profit,
    updated_at = now()`,
		key.CustomerCode, key.ProductCode, toText(agg.Category),
		toNullNumeric(agg.IncomingCost), toNullNumeric(agg.LastAmount), toNullNumeric(agg.LastGrossProfit))
	if err != nil {
		return fmt.Errorf("upsert aggregate %s: %w", key, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (pricing.Product, error) {
	var (
		p                     pricing.Product
		description, category pgtype.Text
		cost                  pgtype.Numeric
	)
	if err := row.Scan(&p.Code, &description, &category, &cost); err != nil {
		return pricing.Product{}, err
	}
	p.Description = description.String
	p.Category = category.String
	p.StandardCost = fromNumeric(cost)
	return p, nil
}

// Products returns the product cost catalogue used by rule previews.
func (r AggregateRepo) Products(ctx context.Context) ([]pricing.Product, error) {
	if r.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.DB.Query(ctx, `SELECT product_code, description, primary_group, standard_cost FROM product_cost ORDER BY product_code`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// UpsertProduct writes a product cost row.
func (r AggregateRepo) UpsertProduct(ctx context.Context, p pricing.Product) error {
	if r.DB == nil {
		return ErrStoreUnavailable
	}
	_, err := r.DB.Exec(ctx, `INSERT INTO product_cost (product_code, description, primary_group, standard_cost)
VALUES ($1, $2, $3, $4)
ON CONFLICT (product_code) DO UPDATE SET
    description = EXCLUDED.description,
    primary_group = EXCLUDED.primary_group,
    standard_cost = EXCLUDED.standard_cost,
    updated_at = now()`, p.Code, toText(p.Description), toText(p.Category), toNullNumeric(p.StandardCost))
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", p.Code, err)
	}
	return nil
}

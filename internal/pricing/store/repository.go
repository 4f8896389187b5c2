// Package store loads pricing reference data (prices, related products,
// currencies, exchange rates and discount limits) from PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/demand-pricing/internal/platform/db"
	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements pricing.PriceLookup and pricing.ProductLookup on top of
// PostgreSQL and exposes the reference lists used by the HTTP and job layers.
type Repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository bound to the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithTx runs fn against a transaction-scoped repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, *Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, pool: r.pool})
	})
}

// GetPrices returns the list price row of each requested product. Products
// without a price row are simply absent from the result.
func (r *Repository) GetPrices(ctx context.Context, reqs []pricing.PriceRequest) ([]pricing.PriceQuote, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	codes := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if code := strings.TrimSpace(req.ProductCode); code != "" {
			codes = append(codes, code)
		}
	}
	rows, err := r.db.Query(ctx, `SELECT product_code, group_code, currency, list_price, discount1, discount2, discount3
FROM product_prices
WHERE product_code = ANY($1) AND valid_from <= CURRENT_DATE
ORDER BY product_code, valid_from DESC`, codes)
	if err != nil {
		return nil, fmt.Errorf("store: query prices: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{}, len(codes))
	var quotes []pricing.PriceQuote
	for rows.Next() {
		var q pricing.PriceQuote
		if err := rows.Scan(&q.ProductCode, &q.GroupCode, &q.Currency, &q.ListPrice, &q.Discount1, &q.Discount2, &q.Discount3); err != nil {
			return nil, fmt.Errorf("store: scan price: %w", err)
		}
		if _, dup := seen[q.ProductCode]; dup {
			continue
		}
		seen[q.ProductCode] = struct{}{}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate prices: %w", err)
	}
	return quotes, nil
}

// GetProductByRelationID resolves a mandatory/optional companion product.
func (r *Repository) GetProductByRelationID(ctx context.Context, id string) (pricing.ProductRef, error) {
	var p pricing.ProductRef
	err := r.db.QueryRow(ctx, `SELECT p.code, p.name, p.group_code
FROM product_relations rel
JOIN products p ON p.code = rel.related_product_code
WHERE rel.id = $1`, id).Scan(&p.Code, &p.Name, &p.GroupCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.ProductRef{}, fmt.Errorf("%w: relation %s", pricing.ErrProductNotFound, id)
		}
		return pricing.ProductRef{}, fmt.Errorf("store: get related product: %w", err)
	}
	return p, nil
}

// ListCurrencies returns the currency catalog.
func (r *Repository) ListCurrencies(ctx context.Context) ([]pricing.Currency, error) {
	rows, err := r.db.Query(ctx, `SELECT code, doviz_tipi, name FROM currencies ORDER BY doviz_tipi`)
	if err != nil {
		return nil, fmt.Errorf("store: query currencies: %w", err)
	}
	defer rows.Close()

	var out []pricing.Currency
	for rows.Next() {
		var c pricing.Currency
		if err := rows.Scan(&c.Code, &c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("store: scan currency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListOfficialRates returns the latest published rate per currency on or before asOf.
func (r *Repository) ListOfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT ON (currency_id) currency_id, rate, rate_date
FROM official_exchange_rates
WHERE rate_date <= $1
ORDER BY currency_id, rate_date DESC`, asOf)
	if err != nil {
		return nil, fmt.Errorf("store: query rates: %w", err)
	}
	defer rows.Close()

	var out []pricing.ExchangeRate
	for rows.Next() {
		rate := pricing.ExchangeRate{IsOfficial: true}
		if err := rows.Scan(&rate.CurrencyID, &rate.Rate, &rate.Date); err != nil {
			return nil, fmt.Errorf("store: scan rate: %w", err)
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

// UpsertOfficialRates stores a batch of published rates atomically and returns
// how many rows were written. Non-positive rates are skipped.
func (r *Repository) UpsertOfficialRates(ctx context.Context, rates []pricing.ExchangeRate) (int, error) {
	written := 0
	err := r.WithTx(ctx, func(ctx context.Context, tx *Repository) error {
		for _, rate := range rates {
			if !rate.Rate.IsPositive() {
				continue
			}
			tag, err := tx.db.Exec(ctx, `INSERT INTO official_exchange_rates (currency_id, rate, rate_date)
VALUES ($1, $2, $3)
ON CONFLICT (currency_id, rate_date) DO UPDATE SET rate = EXCLUDED.rate`,
				rate.CurrencyID, rate.Rate, rate.Date)
			if err != nil {
				return fmt.Errorf("store: upsert rate %d: %w", rate.CurrencyID, err)
			}
			written += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ListDiscountLimits returns the limit table of one salesperson.
func (r *Repository) ListDiscountLimits(ctx context.Context, salespersonID int64) ([]pricing.DiscountLimit, error) {
	rows, err := r.db.Query(ctx, `SELECT group_code, salesperson_id, max_discount1, max_discount2, max_discount3
FROM discount_limits
WHERE salesperson_id = $1
ORDER BY group_code`, salespersonID)
	if err != nil {
		return nil, fmt.Errorf("store: query discount limits: %w", err)
	}
	defer rows.Close()

	var out []pricing.DiscountLimit
	for rows.Next() {
		var (
			limit      pricing.DiscountLimit
			max2, max3 decimal.NullDecimal
		)
		if err := rows.Scan(&limit.GroupCode, &limit.SalespersonID, &limit.MaxDiscount1, &max2, &max3); err != nil {
			return nil, fmt.Errorf("store: scan discount limit: %w", err)
		}
		limit.MaxDiscount2 = nullable(max2)
		limit.MaxDiscount3 = nullable(max3)
		out = append(out, limit)
	}
	return out, rows.Err()
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

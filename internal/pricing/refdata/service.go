// Package refdata serves pricing reference data (currency catalog, official
// exchange rates and discount limits) through a Redis cache in front of the store.
package refdata

import (
	"context"
	"strconv"
	"time"

	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

// Source is the backing store of reference lists.
type Source interface {
	ListCurrencies(ctx context.Context) ([]pricing.Currency, error)
	ListOfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error)
	ListDiscountLimits(ctx context.Context, salespersonID int64) ([]pricing.DiscountLimit, error)
}

// Service loads reference data with caching.
type Service struct {
	source Source
	cache  *Cache
}

// NewService wires the source with an optional cache.
func NewService(source Source, cache *Cache) *Service {
	return &Service{source: source, cache: cache}
}

// Currencies returns the raw currency list.
func (s *Service) Currencies(ctx context.Context) ([]pricing.Currency, error) {
	key, err := s.cache.BuildKey(ctx, "currencies")
	if err != nil {
		return nil, err
	}
	var out []pricing.Currency
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.source.ListCurrencies(ctx)
	})
	return out, err
}

// Catalog returns the currency catalog used to resolve code references.
func (s *Service) Catalog(ctx context.Context) (*pricing.CurrencyCatalog, error) {
	list, err := s.Currencies(ctx)
	if err != nil {
		return nil, err
	}
	return pricing.NewCurrencyCatalog(list), nil
}

// OfficialRates returns the latest published rate per currency as of the given day.
func (s *Service) OfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error) {
	day := asOf.UTC().Truncate(24 * time.Hour)
	key, err := s.cache.BuildKey(ctx, "rates", day.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	var out []pricing.ExchangeRate
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.source.ListOfficialRates(ctx, day)
	})
	return out, err
}

// DiscountLimits returns the limit table of a salesperson.
func (s *Service) DiscountLimits(ctx context.Context, salespersonID int64) ([]pricing.DiscountLimit, error) {
	key, err := s.cache.BuildKey(ctx, "limits", strconv.FormatInt(salespersonID, 10))
	if err != nil {
		return nil, err
	}
	var out []pricing.DiscountLimit
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.source.ListDiscountLimits(ctx, salespersonID)
	})
	return out, err
}

// Invalidate drops every cached list.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

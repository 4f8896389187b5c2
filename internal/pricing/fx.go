package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate converts one unit of CurrencyID into the local accounting currency.
// Overrides entered on a demand carry IsOfficial=false; the published feed sets it true.
type ExchangeRate struct {
	CurrencyID int             `json:"currency_id"`
	Rate       decimal.Decimal `json:"rate"`
	Date       time.Time       `json:"date"`
	IsOfficial bool            `json:"is_official"`
}

// ResolveRate returns the best known rate for a currency: a positive document
// override first, then a positive official rate. ok is false when neither exists.
func ResolveRate(currencyID int, overrides, official []ExchangeRate) (rate decimal.Decimal, ok bool) {
	if rate, ok := findPositive(currencyID, overrides); ok {
		return rate, true
	}
	return findPositive(currencyID, official)
}

func findPositive(currencyID int, rates []ExchangeRate) (decimal.Decimal, bool) {
	for _, r := range rates {
		if r.CurrencyID == currencyID && r.Rate.IsPositive() {
			return r.Rate, true
		}
	}
	return decimal.Zero, false
}

// RateBook bundles the two rate sources used while pricing a single demand.
type RateBook struct {
	Overrides []ExchangeRate
	Official  []ExchangeRate
}

// Resolve is ResolveRate over the book's sources.
func (b RateBook) Resolve(currencyID int) (decimal.Decimal, bool) {
	return ResolveRate(currencyID, b.Overrides, b.Official)
}

// Convert rescales amount from one currency to another. ok is false when either
// side has no rate, in which case amount is returned untouched.
func (b RateBook) Convert(amount decimal.Decimal, fromID, toID int) (decimal.Decimal, bool) {
	if fromID == toID {
		return amount, true
	}
	fromRate, ok := b.Resolve(fromID)
	if !ok {
		return amount, false
	}
	toRate, ok := b.Resolve(toID)
	if !ok {
		return amount, false
	}
	return amount.Mul(fromRate).Div(toRate), true
}

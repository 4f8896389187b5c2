package pricing

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// CurrencyRefKind tells how a CurrencyRef identifies its currency.
type CurrencyRefKind int

const (
	// CurrencyRefID is a numeric currency id (the catalog's "doviz tipi").
	CurrencyRefID CurrencyRefKind = iota + 1
	// CurrencyRefCode is a textual code that needs a catalog lookup.
	CurrencyRefCode
)

// UnknownCurrencyID labels a line whose price currency could not be resolved.
// No rate is ever stored under it, so such lines are never converted.
const UnknownCurrencyID = -1

// CurrencyRef is a currency reference as received from a price quote.
type CurrencyRef struct {
	Kind CurrencyRefKind
	ID   int
	Code string
}

// ParseCurrencyRef classifies a raw currency value. Numeric strings become ids,
// anything else is kept as an upper-cased code.
func ParseCurrencyRef(raw string) (CurrencyRef, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CurrencyRef{}, false
	}
	if id, err := strconv.Atoi(raw); err == nil {
		return CurrencyRef{Kind: CurrencyRefID, ID: id}, true
	}
	return CurrencyRef{Kind: CurrencyRefCode, Code: strings.ToUpper(raw)}, true
}

// String renders the reference for logs.
func (r CurrencyRef) String() string {
	switch r.Kind {
	case CurrencyRefID:
		return strconv.Itoa(r.ID)
	case CurrencyRefCode:
		return r.Code
	default:
		return "unknown"
	}
}

// Currency is one row of the currency catalog.
type Currency struct {
	Code string `json:"code"`
	ID   int    `json:"doviz_tipi"`
	Name string `json:"name"`
}

// CurrencyCatalog maps currency references to canonical numeric ids.
type CurrencyCatalog struct {
	byID   map[int]Currency
	byCode map[string]Currency
}

// NewCurrencyCatalog indexes the given currencies. Codes are matched
// case-insensitively.
func NewCurrencyCatalog(currencies []Currency) *CurrencyCatalog {
	c := &CurrencyCatalog{
		byID:   make(map[int]Currency, len(currencies)),
		byCode: make(map[string]Currency, len(currencies)),
	}
	for _, cur := range currencies {
		c.byID[cur.ID] = cur
		code := strings.ToUpper(strings.TrimSpace(cur.Code))
		if code == "" {
			continue
		}
		if _, exists := c.byCode[code]; !exists {
			c.byCode[code] = cur
		}
	}
	return c
}

// Resolve returns the canonical id for ref. Numeric refs resolve to themselves
// even when absent from the catalog. An unknown code yields
// ErrCurrencyNotInCatalog when it is a valid ISO 4217 code and
// ErrInvalidCurrencyCode otherwise.
func (c *CurrencyCatalog) Resolve(ref CurrencyRef) (int, error) {
	switch ref.Kind {
	case CurrencyRefID:
		return ref.ID, nil
	case CurrencyRefCode:
		if c != nil {
			if cur, ok := c.byCode[ref.Code]; ok {
				return cur.ID, nil
			}
		}
		if _, err := currency.ParseISO(ref.Code); err == nil {
			return 0, fmt.Errorf("%w: %s", ErrCurrencyNotInCatalog, ref.Code)
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrencyCode, ref.Code)
	default:
		return 0, ErrInvalidCurrencyCode
	}
}

// Lookup returns the catalog row for a canonical id.
func (c *CurrencyCatalog) Lookup(id int) (Currency, bool) {
	if c == nil {
		return Currency{}, false
	}
	cur, ok := c.byID[id]
	return cur, ok
}

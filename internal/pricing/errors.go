package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrPriceNotFound indicates the price lookup returned no entry for a product.
	ErrPriceNotFound = errors.New("pricing: price not found")
	// ErrProductNotFound indicates a related product id could not be resolved.
	ErrProductNotFound = errors.New("pricing: product not found")
	// ErrInvalidCurrencyCode indicates a quote carried an unparseable currency.
	ErrInvalidCurrencyCode = errors.New("pricing: invalid currency code")
	// ErrCurrencyNotInCatalog indicates a valid ISO currency missing from the catalog.
	ErrCurrencyNotInCatalog = errors.New("pricing: currency not in catalog")
	// ErrLineIndex indicates a document line index out of range.
	ErrLineIndex = errors.New("pricing: line index out of range")
)

// LookupStage names the external call that failed for an item.
type LookupStage string

const (
	// StageProduct is the related-product metadata lookup.
	StageProduct LookupStage = "product"
	// StagePrice is the price quote lookup.
	StagePrice LookupStage = "price"
)

// LookupFailure explains why an item of an add-product batch became a placeholder.
type LookupFailure struct {
	Index       int         `json:"index"`
	ProductCode string      `json:"product_code,omitempty"`
	Stage       LookupStage `json:"stage"`
	Err         error       `json:"-"`
}

func (f *LookupFailure) Error() string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pricing: %s lookup for item %d (%s): %v", f.Stage, f.Index, f.ProductCode, f.Err)
}

func (f *LookupFailure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

type lineRequest struct {
	ProductCode          string                 `json:"product_code" validate:"required,max=64"`
	ProductName          string                 `json:"product_name" validate:"max=255"`
	CurrencyID           *int                   `json:"currency_id,omitempty" validate:"omitempty,gte=0"`
	Quantity             decimal.Decimal        `json:"quantity" validate:"gte=0"`
	UnitPrice            decimal.Decimal        `json:"unit_price" validate:"gte=0"`
	DiscountRate1        decimal.Decimal        `json:"discount_rate1" validate:"gte=0,lte=100"`
	DiscountRate2        decimal.Decimal        `json:"discount_rate2" validate:"gte=0,lte=100"`
	DiscountRate3        decimal.Decimal        `json:"discount_rate3" validate:"gte=0,lte=100"`
	VATRate              decimal.Decimal        `json:"vat_rate" validate:"gte=0,lte=100"`
	GroupCode            *string                `json:"group_code,omitempty" validate:"omitempty,max=64"`
	RelatedProductKey    *string                `json:"related_product_key,omitempty"`
	IsMainRelatedProduct bool                   `json:"is_main_related_product"`
	ApprovalStatus       pricing.ApprovalStatus `json:"approval_status" validate:"omitempty,oneof=NOT_REQUIRED WAITING APPROVED REJECTED CLOSED"`
	Placeholder          bool                   `json:"placeholder"`
}

// toLine converts the request line. Lines posted without a currency are taken
// to be in defaultCurrency.
func (r lineRequest) toLine(defaultCurrency int) pricing.Line {
	currencyID := defaultCurrency
	if r.CurrencyID != nil {
		currencyID = *r.CurrencyID
	}
	return pricing.Line{
		ProductCode:          r.ProductCode,
		ProductName:          r.ProductName,
		CurrencyID:           currencyID,
		Quantity:             r.Quantity,
		UnitPrice:            r.UnitPrice,
		DiscountRate1:        r.DiscountRate1,
		DiscountRate2:        r.DiscountRate2,
		DiscountRate3:        r.DiscountRate3,
		VATRate:              r.VATRate,
		GroupCode:            r.GroupCode,
		RelatedProductKey:    r.RelatedProductKey,
		IsMainRelatedProduct: r.IsMainRelatedProduct,
		ApprovalStatus:       r.ApprovalStatus,
		Placeholder:          r.Placeholder,
	}
}

func toLines(reqs []lineRequest, defaultCurrency int) []pricing.Line {
	lines := make([]pricing.Line, len(reqs))
	for i, req := range reqs {
		lines[i] = req.toLine(defaultCurrency)
	}
	return lines
}

type rateOverrideRequest struct {
	CurrencyID int             `json:"currency_id" validate:"gte=0"`
	Rate       decimal.Decimal `json:"rate" validate:"gt=0"`
	Date       time.Time       `json:"date"`
}

func toOverrides(reqs []rateOverrideRequest) []pricing.ExchangeRate {
	out := make([]pricing.ExchangeRate, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, pricing.ExchangeRate{CurrencyID: req.CurrencyID, Rate: req.Rate, Date: req.Date})
	}
	return out
}

type discountLimitRequest struct {
	GroupCode    string           `json:"group_code" validate:"required,max=64"`
	MaxDiscount1 decimal.Decimal  `json:"max_discount1" validate:"gte=0,lte=100"`
	MaxDiscount2 *decimal.Decimal `json:"max_discount2,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxDiscount3 *decimal.Decimal `json:"max_discount3,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// CalculateLinesRequest carries lines to total.
type CalculateLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
}

// LinesResponse returns recalculated lines with document totals.
type LinesResponse struct {
	Lines  []pricing.Line `json:"lines"`
	Totals pricing.Totals `json:"totals"`
}

// RepriceRequest moves lines from one currency to another.
type RepriceRequest struct {
	FromCurrency  string                `json:"from_currency" validate:"required,max=16"`
	ToCurrency    string                `json:"to_currency" validate:"required,max=16"`
	Lines         []lineRequest         `json:"lines" validate:"required,min=1,max=500,dive"`
	ExchangeRates []rateOverrideRequest `json:"exchange_rates" validate:"max=50,dive"`
	AsOf          *time.Time            `json:"as_of,omitempty"`
}

// RepriceResponse reports repriced lines and the indexes left unconverted.
type RepriceResponse struct {
	CurrencyID  int            `json:"currency_id"`
	Lines       []pricing.Line `json:"lines"`
	Unconverted []int          `json:"unconverted"`
}

// EvaluateLimitRequest checks discount rates against a limit table. When
// Limits is empty the salesperson's stored table is used.
type EvaluateLimitRequest struct {
	GroupCode     *string                `json:"group_code,omitempty" validate:"omitempty,max=64"`
	DiscountRate1 decimal.Decimal        `json:"discount_rate1" validate:"gte=0,lte=100"`
	DiscountRate2 decimal.Decimal        `json:"discount_rate2" validate:"gte=0,lte=100"`
	DiscountRate3 decimal.Decimal        `json:"discount_rate3" validate:"gte=0,lte=100"`
	SalespersonID int64                  `json:"salesperson_id" validate:"gte=0"`
	Limits        []discountLimitRequest `json:"limits" validate:"max=200,dive"`
}

// AddProductRequest adds a product and its related products to a demand.
type AddProductRequest struct {
	ProductCode       string                `json:"product_code" validate:"required,max=64"`
	ProductName       string                `json:"product_name" validate:"max=255"`
	GroupCode         string                `json:"group_code" validate:"max=64"`
	RelatedProductIDs []string              `json:"related_product_ids" validate:"max=50,dive,required"`
	Currency          string                `json:"currency" validate:"required,max=16"`
	Quantity          decimal.Decimal       `json:"quantity" validate:"gte=0"`
	VATRate           decimal.Decimal       `json:"vat_rate" validate:"gte=0,lte=100"`
	RepresentativeID  int64                 `json:"representative_id" validate:"gte=0"`
	ExchangeRates     []rateOverrideRequest `json:"exchange_rates" validate:"max=50,dive"`
}

type failureResponse struct {
	Index       int                 `json:"index"`
	ProductCode string              `json:"product_code,omitempty"`
	Stage       pricing.LookupStage `json:"stage"`
	Error       string              `json:"error"`
}

// AddProductResponse lists every produced line, including placeholders.
type AddProductResponse struct {
	CurrencyID        int               `json:"currency_id"`
	RelatedProductKey string            `json:"related_product_key"`
	Lines             []pricing.Line    `json:"lines"`
	Failures          []failureResponse `json:"failures"`
	Unconverted       []int             `json:"unconverted"`
}

// SubmitDemandRequest finalises a demand's lines before saving.
type SubmitDemandRequest struct {
	DemandID         string        `json:"demand_id" validate:"required,max=64"`
	RepresentativeID int64         `json:"representative_id" validate:"required,gt=0"`
	Lines            []lineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
}

// SubmitDemandResponse reports totals and whether approval was requested.
type SubmitDemandResponse struct {
	DemandID          string         `json:"demand_id"`
	Lines             []pricing.Line `json:"lines"`
	Totals            pricing.Totals `json:"totals"`
	WaitingLines      []int          `json:"waiting_lines"`
	Placeholders      []int          `json:"placeholders"`
	ApprovalRequested bool           `json:"approval_requested"`
}

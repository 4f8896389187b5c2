// Package pricing implements line pricing for demands (sales quotations): cascading
// discount totals, currency repricing and discount-limit evaluation.
package pricing

import "github.com/shopspring/decimal"

// ApprovalStatus tracks whether a line's discounts need sign-off.
type ApprovalStatus string

const (
	// ApprovalNotRequired means the requested discounts are within the salesperson's limits.
	ApprovalNotRequired ApprovalStatus = "NOT_REQUIRED"
	// ApprovalWaiting means at least one discount tier exceeds the limit.
	ApprovalWaiting ApprovalStatus = "WAITING"
	// ApprovalApproved is set by the approval workflow.
	ApprovalApproved ApprovalStatus = "APPROVED"
	// ApprovalRejected is set by the approval workflow.
	ApprovalRejected ApprovalStatus = "REJECTED"
	// ApprovalClosed is set by the approval workflow.
	ApprovalClosed ApprovalStatus = "CLOSED"
)

// Settled reports whether the approval workflow has decided the line.
func (s ApprovalStatus) Settled() bool {
	switch s {
	case ApprovalApproved, ApprovalRejected, ApprovalClosed:
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Line is one priced row of a demand.
//
// DiscountAmount1..3, VATAmount, LineTotal and LineGrandTotal are derived by
// CalculateLineTotals and are never read back as inputs.
type Line struct {
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name,omitempty"`
	CurrencyID  int    `json:"currency_id"`

	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`

	DiscountRate1   decimal.Decimal `json:"discount_rate1"`
	DiscountRate2   decimal.Decimal `json:"discount_rate2"`
	DiscountRate3   decimal.Decimal `json:"discount_rate3"`
	DiscountAmount1 decimal.Decimal `json:"discount_amount1"`
	DiscountAmount2 decimal.Decimal `json:"discount_amount2"`
	DiscountAmount3 decimal.Decimal `json:"discount_amount3"`

	VATRate        decimal.Decimal `json:"vat_rate"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
	LineGrandTotal decimal.Decimal `json:"line_grand_total"`

	GroupCode            *string        `json:"group_code,omitempty"`
	RelatedProductKey    *string        `json:"related_product_key,omitempty"`
	IsMainRelatedProduct bool           `json:"is_main_related_product"`
	ApprovalStatus       ApprovalStatus `json:"approval_status"`
	Placeholder          bool           `json:"placeholder"`
}

// CalculateLineTotals derives discount amounts, subtotal, VAT and grand total.
// Each discount tier applies to what remains after the previous tiers. Derived
// amounts are clamped at zero; no input is rejected.
func CalculateLineTotals(line Line) Line {
	base := line.Quantity.Mul(line.UnitPrice)

	line.DiscountAmount1, base = applyTier(base, line.DiscountRate1)
	line.DiscountAmount2, base = applyTier(base, line.DiscountRate2)
	line.DiscountAmount3, base = applyTier(base, line.DiscountRate3)

	line.LineTotal = nonNegative(base)
	line.VATAmount = nonNegative(line.LineTotal.Mul(line.VATRate).Div(hundred))
	line.LineGrandTotal = nonNegative(line.LineTotal.Add(line.VATAmount))
	if line.ApprovalStatus == "" {
		line.ApprovalStatus = ApprovalNotRequired
	}
	return line
}

func applyTier(base, rate decimal.Decimal) (amount, remaining decimal.Decimal) {
	amount = nonNegative(base.Mul(rate).Div(hundred))
	return amount, base.Sub(amount)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

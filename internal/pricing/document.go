package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Document is a demand under edit. It is owned by a single editing session and
// is not safe for concurrent use.
type Document struct {
	CurrencyID       int            `json:"currency_id"`
	RepresentativeID int64          `json:"representative_id"`
	DemandDate       time.Time      `json:"demand_date"`
	ValidUntil       time.Time      `json:"valid_until"`
	Lines            []Line         `json:"lines"`
	ExchangeRates    []ExchangeRate `json:"exchange_rates"`
}

// LineEdit carries the user-editable inputs of a line. Nil fields keep their value.
type LineEdit struct {
	Quantity      *decimal.Decimal
	UnitPrice     *decimal.Decimal
	DiscountRate1 *decimal.Decimal
	DiscountRate2 *decimal.Decimal
	DiscountRate3 *decimal.Decimal
	VATRate       *decimal.Decimal
	GroupCode     *string
}

// Totals aggregates the derived amounts of all lines.
type Totals struct {
	Discount   decimal.Decimal `json:"discount"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	VAT        decimal.Decimal `json:"vat"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// AppendLines adds lines to the end of the document, recalculating each.
func (d *Document) AppendLines(lines ...Line) {
	for _, line := range lines {
		d.Lines = append(d.Lines, CalculateLineTotals(line))
	}
}

// RemoveLine deletes the line at index. Removing the main line of a related
// product group removes its companions too.
func (d *Document) RemoveLine(index int) error {
	if index < 0 || index >= len(d.Lines) {
		return fmt.Errorf("%w: %d", ErrLineIndex, index)
	}
	target := d.Lines[index]
	if !target.IsMainRelatedProduct || target.RelatedProductKey == nil {
		d.Lines = append(d.Lines[:index], d.Lines[index+1:]...)
		return nil
	}
	kept := d.Lines[:0]
	for _, line := range d.Lines {
		if line.RelatedProductKey != nil && *line.RelatedProductKey == *target.RelatedProductKey {
			continue
		}
		kept = append(kept, line)
	}
	d.Lines = kept
	return nil
}

// UpdateLine applies an edit, recalculates totals and re-checks discount limits.
func (d *Document) UpdateLine(index int, edit LineEdit, limits []DiscountLimit) (Line, error) {
	if index < 0 || index >= len(d.Lines) {
		return Line{}, fmt.Errorf("%w: %d", ErrLineIndex, index)
	}
	line := d.Lines[index]
	setIf(&line.Quantity, edit.Quantity)
	setIf(&line.UnitPrice, edit.UnitPrice)
	setIf(&line.DiscountRate1, edit.DiscountRate1)
	setIf(&line.DiscountRate2, edit.DiscountRate2)
	setIf(&line.DiscountRate3, edit.DiscountRate3)
	setIf(&line.VATRate, edit.VATRate)
	if edit.GroupCode != nil {
		group := *edit.GroupCode
		line.GroupCode = &group
	}
	if edit.UnitPrice != nil {
		line.Placeholder = false
	}
	line = CalculateLineTotals(line)
	if edit.touchesDiscount() {
		line = ApplyDiscountLimit(line, limits)
	} else {
		line = RefreshDiscountLimit(line, limits)
	}
	d.Lines[index] = line
	return line, nil
}

func (e LineEdit) touchesDiscount() bool {
	return e.DiscountRate1 != nil || e.DiscountRate2 != nil || e.DiscountRate3 != nil || e.GroupCode != nil
}

func setIf(dst *decimal.Decimal, src *decimal.Decimal) {
	if src != nil {
		*dst = *src
	}
}

// SetExchangeRateOverride records a document-level rate for a currency,
// replacing any previous override.
func (d *Document) SetExchangeRateOverride(currencyID int, rate decimal.Decimal, date time.Time) {
	override := ExchangeRate{CurrencyID: currencyID, Rate: rate, Date: date, IsOfficial: false}
	for i := range d.ExchangeRates {
		if d.ExchangeRates[i].CurrencyID == currencyID {
			d.ExchangeRates[i] = override
			return
		}
	}
	d.ExchangeRates = append(d.ExchangeRates, override)
}

// ChangeCurrency reprices all lines into newCurrencyID and returns the indexes of
// lines that kept their price because a rate was missing.
func (d *Document) ChangeCurrency(newCurrencyID int, official []ExchangeRate) []int {
	lines, unconverted := RepriceDetailed(d.Lines, d.CurrencyID, newCurrencyID, d.ExchangeRates, official)
	d.Lines = lines
	d.CurrencyID = newCurrencyID
	return unconverted
}

// Totals sums the derived amounts across lines.
func (d *Document) Totals() Totals {
	t := Totals{Discount: decimal.Zero, Subtotal: decimal.Zero, VAT: decimal.Zero, GrandTotal: decimal.Zero}
	for _, line := range d.Lines {
		t.Discount = t.Discount.Add(line.DiscountAmount1).Add(line.DiscountAmount2).Add(line.DiscountAmount3)
		t.Subtotal = t.Subtotal.Add(line.LineTotal)
		t.VAT = t.VAT.Add(line.VATAmount)
		t.GrandTotal = t.GrandTotal.Add(line.LineGrandTotal)
	}
	return t
}

// RequiresApproval reports whether any line is waiting for discount approval.
func (d *Document) RequiresApproval() bool {
	for _, line := range d.Lines {
		if line.ApprovalStatus == ApprovalWaiting {
			return true
		}
	}
	return false
}

// WaitingLines returns the indexes of lines waiting for approval.
func (d *Document) WaitingLines() []int {
	var out []int
	for i, line := range d.Lines {
		if line.ApprovalStatus == ApprovalWaiting {
			out = append(out, i)
		}
	}
	return out
}

// Placeholders returns the indexes of placeholder lines that still need review.
func (d *Document) Placeholders() []int {
	var out []int
	for i, line := range d.Lines {
		if line.Placeholder {
			out = append(out, i)
		}
	}
	return out
}

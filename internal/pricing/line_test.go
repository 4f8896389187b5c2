package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func TestCalculateLineTotals(t *testing.T) {
	t.Run("cascading discounts", func(t *testing.T) {
		line := CalculateLineTotals(Line{
			Quantity:      dec("10"),
			UnitPrice:     dec("100"),
			DiscountRate1: dec("10"),
			DiscountRate2: dec("10"),
			DiscountRate3: dec("0"),
			VATRate:       dec("18"),
		})

		assertDecimal(t, "100", line.DiscountAmount1)
		assertDecimal(t, "90", line.DiscountAmount2)
		assertDecimal(t, "0", line.DiscountAmount3)
		assertDecimal(t, "810", line.LineTotal)
		assertDecimal(t, "145.8", line.VATAmount)
		assertDecimal(t, "955.8", line.LineGrandTotal)
		assert.Equal(t, ApprovalNotRequired, line.ApprovalStatus)
	})

	t.Run("third tier applies to remainder", func(t *testing.T) {
		line := CalculateLineTotals(Line{
			Quantity:      dec("1"),
			UnitPrice:     dec("1000"),
			DiscountRate1: dec("50"),
			DiscountRate2: dec("50"),
			DiscountRate3: dec("50"),
		})

		assertDecimal(t, "500", line.DiscountAmount1)
		assertDecimal(t, "250", line.DiscountAmount2)
		assertDecimal(t, "125", line.DiscountAmount3)
		assertDecimal(t, "125", line.LineTotal)
		assertDecimal(t, "125", line.LineGrandTotal)
	})

	t.Run("idempotent", func(t *testing.T) {
		in := Line{
			Quantity:      dec("3"),
			UnitPrice:     dec("33.33"),
			DiscountRate1: dec("12.5"),
			DiscountRate2: dec("7"),
			VATRate:       dec("20"),
		}
		once := CalculateLineTotals(in)
		twice := CalculateLineTotals(once)
		assert.Equal(t, once, twice)
	})

	t.Run("derived inputs are ignored", func(t *testing.T) {
		line := CalculateLineTotals(Line{
			Quantity:       dec("2"),
			UnitPrice:      dec("50"),
			LineTotal:      dec("999"),
			VATAmount:      dec("999"),
			LineGrandTotal: dec("999"),
		})
		assertDecimal(t, "100", line.LineTotal)
		assertDecimal(t, "0", line.VATAmount)
		assertDecimal(t, "100", line.LineGrandTotal)
	})

	t.Run("keeps workflow status", func(t *testing.T) {
		line := CalculateLineTotals(Line{Quantity: dec("1"), UnitPrice: dec("1"), ApprovalStatus: ApprovalApproved})
		assert.Equal(t, ApprovalApproved, line.ApprovalStatus)
	})
}

func TestCalculateLineTotals_NeverNegative(t *testing.T) {
	cases := []struct {
		name string
		line Line
	}{
		{"negative rate", Line{Quantity: dec("1"), UnitPrice: dec("100"), DiscountRate1: dec("-20"), VATRate: dec("18")}},
		{"rate above hundred", Line{Quantity: dec("1"), UnitPrice: dec("100"), DiscountRate1: dec("150"), DiscountRate2: dec("10")}},
		{"negative quantity", Line{Quantity: dec("-5"), UnitPrice: dec("100"), DiscountRate1: dec("10"), VATRate: dec("18")}},
		{"negative vat", Line{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("-18")}},
		{"zero everything", Line{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateLineTotals(tc.line)
			for _, d := range []decimal.Decimal{
				got.DiscountAmount1, got.DiscountAmount2, got.DiscountAmount3,
				got.LineTotal, got.VATAmount, got.LineGrandTotal,
			} {
				assert.False(t, d.IsNegative(), "negative derived amount %s", d)
			}
		})
	}
}

func TestCalculateLineTotals_NegativeRateLeavesBase(t *testing.T) {
	got := CalculateLineTotals(Line{Quantity: dec("1"), UnitPrice: dec("100"), DiscountRate1: dec("-20")})
	assertDecimal(t, "0", got.DiscountAmount1)
	assertDecimal(t, "100", got.LineTotal)
}

package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountLimit caps the discount a salesperson may grant on a product group
// without approval. A nil tier maximum leaves that tier unconstrained.
type DiscountLimit struct {
	GroupCode     string           `json:"group_code"`
	SalespersonID int64            `json:"salesperson_id"`
	MaxDiscount1  decimal.Decimal  `json:"max_discount1"`
	MaxDiscount2  *decimal.Decimal `json:"max_discount2,omitempty"`
	MaxDiscount3  *decimal.Decimal `json:"max_discount3,omitempty"`
}

// LimitDecision is the outcome of a discount-limit check.
type LimitDecision struct {
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	MatchingLimit  *DiscountLimit `json:"matching_limit,omitempty"`
}

// EvaluateDiscountLimit decides whether the requested discounts on a line of
// groupCode need approval. limits must already be filtered to the acting
// salesperson; the first row with an equal group code is used.
func EvaluateDiscountLimit(groupCode *string, rate1, rate2, rate3 decimal.Decimal, limits []DiscountLimit) LimitDecision {
	notRequired := LimitDecision{ApprovalStatus: ApprovalNotRequired}
	if groupCode == nil || strings.TrimSpace(*groupCode) == "" || len(limits) == 0 {
		return notRequired
	}

	var match *DiscountLimit
	for i := range limits {
		if limits[i].GroupCode == *groupCode {
			limit := limits[i]
			match = &limit
			break
		}
	}
	if match == nil {
		return notRequired
	}

	exceeds := rate1.GreaterThan(match.MaxDiscount1) ||
		exceedsOptional(rate2, match.MaxDiscount2) ||
		exceedsOptional(rate3, match.MaxDiscount3)

	decision := LimitDecision{ApprovalStatus: ApprovalNotRequired, MatchingLimit: match}
	if exceeds {
		decision.ApprovalStatus = ApprovalWaiting
	}
	return decision
}

func exceedsOptional(rate decimal.Decimal, max *decimal.Decimal) bool {
	return max != nil && rate.GreaterThan(*max)
}

// ApplyDiscountLimit re-evaluates a line against limits and stores the result
// in its ApprovalStatus.
func ApplyDiscountLimit(line Line, limits []DiscountLimit) Line {
	decision := EvaluateDiscountLimit(line.GroupCode, line.DiscountRate1, line.DiscountRate2, line.DiscountRate3, limits)
	line.ApprovalStatus = decision.ApprovalStatus
	return line
}

// RefreshDiscountLimit is ApplyDiscountLimit for a line whose discount inputs
// have not changed. Statuses set by the approval workflow are kept.
func RefreshDiscountLimit(line Line, limits []DiscountLimit) Line {
	if line.ApprovalStatus.Settled() {
		return line
	}
	return ApplyDiscountLimit(line, limits)
}

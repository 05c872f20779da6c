package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MoneyScale is the number of decimal places kept for monetary amounts.
	MoneyScale = 2
)

var (
	// DiscountPercent is the customer discount applied when a referral code is used.
	DiscountPercent = decimal.RequireFromString("0.10")
	// ReducedCommissionRate applies to load-balanced orders placed without a referral code.
	ReducedCommissionRate = decimal.RequireFromString("0.05")
)

// CancelTimeLimit bounds how long an in-progress order can still be cancelled.
const CancelTimeLimit = time.Hour

// PricingBreakdown captures the totals computed for a new order.
type PricingBreakdown struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	Commission decimal.Decimal
	Referral   bool
}

// PriceOrder applies the referral or load-balanced commission policy to a subtotal.
// rate is the referring collaborator's commission rate and is ignored without a referral.
func PriceOrder(subtotal decimal.Decimal, referral bool, rate decimal.Decimal) PricingBreakdown {
	if !referral {
		return PricingBreakdown{
			Subtotal:   subtotal,
			Discount:   decimal.Zero,
			Total:      subtotal,
			Commission: RoundMoney(subtotal.Mul(ReducedCommissionRate)),
		}
	}
	discount := RoundMoney(subtotal.Mul(DiscountPercent))
	total := subtotal.Sub(discount)
	return PricingBreakdown{
		Subtotal:   subtotal,
		Discount:   discount,
		Total:      total,
		Commission: RoundMoney(total.Mul(rate)),
		Referral:   true,
	}
}

// RoundMoney rounds half away from zero to MoneyScale places.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// AddDays returns t shifted by the given number of calendar days.
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

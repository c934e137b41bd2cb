package pricing

import "github.com/shopspring/decimal"

// Money is the decimal amount used for prices, totals and discounts.
type Money = decimal.Decimal

// PricingType selects how a rule turns its value into an adjustment.
type PricingType string

const (
	PercentageDiscount PricingType = "percentage_discount"
	FixedDiscount      PricingType = "fixed_discount"
	FlatPrice          PricingType = "flat_price"
)

// CurrencyPlaces is the precision monetary output is rounded to.
const CurrencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds m half away from zero to CurrencyPlaces.
func RoundMoney(m Money) Money { return m.Round(CurrencyPlaces) }

// IsFlat reports whether the type expresses a target price instead of a discount.
func (t PricingType) IsFlat() bool { return t == FlatPrice }

// Valid reports whether t is a known pricing type.
func (t PricingType) Valid() bool {
	switch t {
	case PercentageDiscount, FixedDiscount, FlatPrice:
		return true
	}
	return false
}

// ComputeAdjustmentAmount applies the pricing arithmetic to total.
//
// Percentage and fixed types return the discount, capped by maximum when it is
// positive and never above total. The flat type returns the target total the
// priced units should cost; maximum then bounds how far below total the target
// may go.
func ComputeAdjustmentAmount(total Money, t PricingType, value, maximum Money) Money {
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	if value.Sign() < 0 {
		value = decimal.Zero
	}
	switch t {
	case PercentageDiscount:
		return clampDiscount(total.Mul(value).Div(hundred), total, maximum)
	case FixedDiscount:
		return clampDiscount(value, total, maximum)
	case FlatPrice:
		target := decimal.Min(value, total)
		if maximum.Sign() > 0 && total.Sub(target).GreaterThan(maximum) {
			target = total.Sub(maximum)
		}
		return target
	default:
		return decimal.Zero
	}
}

// DiscountPerUnit returns the per-unit discount a rule grants on a unit priced at price.
func DiscountPerUnit(price Money, t PricingType, value, maximum Money) Money {
	amount := ComputeAdjustmentAmount(price, t, value, maximum)
	if t.IsFlat() {
		return decimal.Max(decimal.Zero, price.Sub(amount))
	}
	return amount
}

func clampDiscount(amount, total, maximum Money) Money {
	if maximum.Sign() > 0 && amount.GreaterThan(maximum) {
		amount = maximum
	}
	if amount.GreaterThan(total) {
		amount = total
	}
	if amount.Sign() < 0 {
		return decimal.Zero
	}
	return amount
}

// compareNumeric evaluates a numeric comparator. List comparators never match.
func compareNumeric(current, target Money, c Comparison) bool {
	switch c.normalize() {
	case Equal:
		return current.Equal(target)
	case NotEqual:
		return !current.Equal(target)
	case Less:
		return current.LessThan(target)
	case LessOrEqual:
		return current.LessThanOrEqual(target)
	case Greater:
		return current.GreaterThan(target)
	case GreaterOrEqual:
		return current.GreaterThanOrEqual(target)
	default:
		return false
	}
}

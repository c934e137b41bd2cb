package pricing

import "github.com/shopspring/decimal"

// Distribution carries the pricing parameters a rule hands to the distributor.
type Distribution struct {
	RuleID           string
	PricingType      PricingType
	Value            Money
	Maximum          Money
	PurchaseQuantity int
}

// Outcome summarises what one application changed.
type Outcome struct {
	Units    int   `json:"units"`
	Discount Money `json:"discount"`
}

// DiscountableQuantities partitions required units greedily over items in order.
// An item never receives more than its units not yet covered by a modifier.
func DiscountableQuantities(items []*CartItem, required int) []int {
	out := make([]int, len(items))
	remaining := required
	for i, it := range items {
		dq := min(it.Quantity, max(0, remaining))
		remaining -= it.Quantity
		out[i] = min(dq, it.AvailableQuantity())
	}
	return out
}

// TotalDiscountableItemsPrice sums the value of the discountable units.
func TotalDiscountableItemsPrice(items []*CartItem, required int) Money {
	total := decimal.Zero
	for i, dq := range DiscountableQuantities(items, required) {
		total = total.Add(items[i].Price.Mul(decimal.NewFromInt(int64(dq))))
	}
	return total
}

// DistributeGroup pools the discountable units, computes one adjustment and
// walks it across the items in order.
func DistributeGroup(d Distribution, items []*CartItem) Outcome {
	quantities := DiscountableQuantities(items, d.PurchaseQuantity)
	pooled := decimal.Zero
	for i, dq := range quantities {
		pooled = pooled.Add(items[i].Price.Mul(decimal.NewFromInt(int64(dq))))
	}
	amount := ComputeAdjustmentAmount(pooled, d.PricingType, d.Value, d.Maximum)
	// Flat pricing yields a target total; walking pooled-target removes the same
	// value a rate-based discount of that size would.
	remaining := amount
	if d.PricingType.IsFlat() {
		remaining = pooled.Sub(amount)
	}

	var out Outcome
	for i, it := range items {
		dq := quantities[i]
		if dq <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(dq))
		line := it.Price.Mul(qty)
		var discounted Money
		if remaining.GreaterThan(line) {
			discounted = decimal.Zero
			remaining = remaining.Sub(line)
		} else {
			discounted = line.Sub(remaining)
			remaining = decimal.Zero
		}
		perUnit := it.Price.Sub(discounted.Div(qty))
		out.add(commit(it, d.RuleID, dq, perUnit, discounted))
	}
	return out
}

// DistributeIndividual discounts each item's discountable units independently.
func DistributeIndividual(d Distribution, items []*CartItem) Outcome {
	quantities := DiscountableQuantities(items, d.PurchaseQuantity)
	var out Outcome
	for i, it := range items {
		dq := quantities[i]
		if dq <= 0 {
			continue
		}
		perUnit := DiscountPerUnit(it.Price, d.PricingType, d.Value, d.Maximum)
		unit := decimal.Max(decimal.Zero, it.Price.Sub(perUnit))
		out.add(commit(it, d.RuleID, dq, it.Price.Sub(unit), unit.Mul(decimal.NewFromInt(int64(dq)))))
	}
	return out
}

// commit lowers the item price by the line discount spread over every unit
// and appends the modifier. The exact discount accumulates on the item.
func commit(it *CartItem, ruleID string, dq int, perUnit, discountedLine Money) Outcome {
	discount := it.Price.Mul(decimal.NewFromInt(int64(dq))).Sub(discountedLine)
	it.Discount = it.Discount.Add(discount)
	it.Price = it.Price.Sub(discount.Div(decimal.NewFromInt(int64(it.Quantity))))
	it.Modifiers = append(it.Modifiers, Modifier{
		RuleID:          ruleID,
		ModifyQuantity:  dq,
		DiscountPerUnit: perUnit,
		ItemKey:         it.Key,
	})
	return Outcome{Units: dq, Discount: discount}
}

func (o *Outcome) add(other Outcome) {
	o.Units += other.Units
	o.Discount = o.Discount.Add(other.Discount)
}

package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSelectEligibleThresholdGate(t *testing.T) {
	items := []*CartItem{
		item("a", simpleProduct(1, "10"), 1, "10"),
		item("b", simpleProduct(2, "10"), 1, "10"),
	}
	always := func(*CartItem) bool { return true }

	require.Nil(t, SelectEligible(items, 3, always))
	require.Nil(t, SelectEligible(items, 1, func(*CartItem) bool { return false }))

	selected := SelectEligible(items, 2, always)
	require.Len(t, selected, 2)
}

func TestSelectEligibleStopsOnceSatisfied(t *testing.T) {
	items := []*CartItem{
		item("a", simpleProduct(1, "10"), 3, "10"),
		item("b", simpleProduct(2, "10"), 2, "10"),
		item("c", simpleProduct(3, "10"), 2, "10"),
	}
	selected := SelectEligible(items, 4, func(it *CartItem) bool { return it.Key != "b" })
	require.Equal(t, []string{"a", "c"}, (&Adjustment{Items: selected}).ItemKeys())

	selected = SelectEligible(items, 3, func(*CartItem) bool { return true })
	require.Equal(t, []string{"a"}, (&Adjustment{Items: selected}).ItemKeys())
}

func TestSelectEligibleOrderStable(t *testing.T) {
	x := item("x", simpleProduct(1, "10"), 2, "10")
	y := item("y", simpleProduct(2, "20"), 3, "20")
	always := func(*CartItem) bool { return true }

	forward := SelectEligible([]*CartItem{x, y}, 4, always)
	backward := SelectEligible([]*CartItem{y, x}, 4, always)
	require.ElementsMatch(t, forward, backward)

	require.Equal(t, []int{2, 2}, DiscountableQuantities(forward, 4))
	require.Equal(t, []int{3, 1}, DiscountableQuantities(backward, 4))
}

func TestDistributeIndividualScenarioA(t *testing.T) {
	it := item("a", simpleProduct(1, "10"), 5, "10")
	out := DistributeIndividual(Distribution{
		RuleID:           "r1",
		PricingType:      FixedDiscount,
		Value:            money("2"),
		PurchaseQuantity: 3,
	}, []*CartItem{it})

	requireMoney(t, "8.8", it.Price)
	require.Len(t, it.Modifiers, 1)
	require.Equal(t, 3, it.Modifiers[0].ModifyQuantity)
	requireMoney(t, "2", it.Modifiers[0].DiscountPerUnit)
	require.Equal(t, "a", it.Modifiers[0].ItemKey)
	require.Equal(t, 3, out.Units)
	requireMoney(t, "6", out.Discount)
}

func TestDistributeGroupScenarioB(t *testing.T) {
	x := item("x", simpleProduct(1, "10"), 2, "10")
	y := item("y", simpleProduct(2, "20"), 3, "20")
	items := []*CartItem{x, y}

	requireMoney(t, "60", TotalDiscountableItemsPrice(items, 4))
	out := DistributeGroup(Distribution{
		RuleID:           "r1",
		PricingType:      PercentageDiscount,
		Value:            money("50"),
		PurchaseQuantity: 4,
	}, items)

	requireMoney(t, "0", x.Price)
	requireMoney(t, "10", x.Modifiers[0].DiscountPerUnit)
	require.Equal(t, 2, x.Modifiers[0].ModifyQuantity)

	require.Equal(t, 2, y.Modifiers[0].ModifyQuantity)
	requireMoney(t, "5", y.Modifiers[0].DiscountPerUnit)
	requireMoney(t, "16.6667", y.Price.Round(4))

	requireMoney(t, "30", out.Discount)
	require.Equal(t, 4, out.Units)

	// discounted lines sum to pooled - discount
	discounted := decimal.Zero
	for _, it := range items {
		m := it.Modifiers[0]
		original := map[string]string{"x": "10", "y": "20"}[it.Key]
		discounted = discounted.Add(money(original).Sub(m.DiscountPerUnit).Mul(decimal.NewFromInt(int64(m.ModifyQuantity))))
	}
	requireMoney(t, "30", discounted)
}

func TestDistributeGroupFlatPrice(t *testing.T) {
	x := item("x", simpleProduct(1, "10"), 2, "10")
	y := item("y", simpleProduct(2, "20"), 3, "20")

	out := DistributeGroup(Distribution{
		RuleID:           "flat",
		PricingType:      FlatPrice,
		Value:            money("40"),
		PurchaseQuantity: 4,
	}, []*CartItem{x, y})

	// pooled 60 with a flat target of 40 removes 20, absorbed entirely by x.
	requireMoney(t, "0", x.Price)
	requireMoney(t, "10", x.Modifiers[0].DiscountPerUnit)
	requireMoney(t, "20", y.Price)
	requireMoney(t, "0", y.Modifiers[0].DiscountPerUnit)
	requireMoney(t, "20", out.Discount)
	requireMoney(t, "40", x.LineTotal().Add(y.Price.Mul(decimal.NewFromInt(2))))
}

func TestDistributeGroupCappedPercentage(t *testing.T) {
	x := item("x", simpleProduct(1, "10"), 2, "10")
	out := DistributeGroup(Distribution{
		RuleID:           "cap",
		PricingType:      PercentageDiscount,
		Value:            money("50"),
		Maximum:          money("4"),
		PurchaseQuantity: 2,
	}, []*CartItem{x})
	requireMoney(t, "4", out.Discount)
	requireMoney(t, "8", x.Price)
	requireMoney(t, "2", x.Modifiers[0].DiscountPerUnit)
}

func TestDistributeSkipsZeroDiscountableQuantity(t *testing.T) {
	covered := item("a", simpleProduct(1, "10"), 2, "10")
	covered.Modifiers = []Modifier{{RuleID: "earlier", ModifyQuantity: 2, ItemKey: "a"}}
	fresh := item("b", simpleProduct(2, "10"), 1, "10")

	out := DistributeGroup(Distribution{
		RuleID:           "r",
		PricingType:      PercentageDiscount,
		Value:            money("100"),
		PurchaseQuantity: 3,
	}, []*CartItem{covered, fresh})

	require.Len(t, covered.Modifiers, 1, "fully covered item receives no modifier")
	requireMoney(t, "10", covered.Price)
	requireMoney(t, "0", fresh.Price)
	require.Equal(t, 1, out.Units)

	out = DistributeIndividual(Distribution{RuleID: "r2", PricingType: FixedDiscount, Value: money("1"), PurchaseQuantity: 2}, []*CartItem{covered})
	require.Equal(t, 0, out.Units)
	require.Len(t, covered.Modifiers, 1)
}

func TestQuantityConservationAcrossRules(t *testing.T) {
	it := item("a", simpleProduct(1, "10"), 5, "10")
	DistributeIndividual(Distribution{RuleID: "r1", PricingType: FixedDiscount, Value: money("1"), PurchaseQuantity: 3}, []*CartItem{it})
	DistributeIndividual(Distribution{RuleID: "r2", PricingType: FixedDiscount, Value: money("1"), PurchaseQuantity: 5}, []*CartItem{it})
	require.LessOrEqual(t, it.ModifiedQuantity(), it.Quantity)
	require.Equal(t, 2, it.Modifiers[1].ModifyQuantity)
	require.Equal(t, 0, it.AvailableQuantity())
}

func TestCommitAccumulatesExactDiscount(t *testing.T) {
	it := item("a", simpleProduct(1, "10"), 3, "10")

	first := DistributeIndividual(Distribution{RuleID: "r1", PricingType: FixedDiscount, Value: money("1"), PurchaseQuantity: 1}, []*CartItem{it})
	second := DistributeIndividual(Distribution{RuleID: "r2", PricingType: FixedDiscount, Value: money("1"), PurchaseQuantity: 1}, []*CartItem{it})

	requireMoney(t, "1", first.Discount)
	requireMoney(t, "1", second.Discount)
	requireMoney(t, "2", it.Discount)
	requireMoney(t, "9.33", RoundMoney(it.Price))
	require.Len(t, it.Modifiers, 2)
}

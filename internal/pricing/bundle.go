package pricing

import "github.com/shopspring/decimal"

// BundleRuleType is the type tag of BundleRule.
const BundleRuleType = "product_bundle"

// BundleRule discounts the first buy_quantity matching units of the cart,
// either pooled across the bundle or per item.
type BundleRule struct {
	cfg RuleConfig
}

func newBundleRule(cfg RuleConfig) (Rule, error) {
	return &BundleRule{cfg: cfg}, nil
}

func (r *BundleRule) ID() string             { return r.cfg.ID }
func (r *BundleRule) Name() string           { return r.cfg.Name }
func (r *BundleRule) Type() string           { return BundleRuleType }
func (r *BundleRule) Priority() int          { return r.cfg.Priority }
func (r *BundleRule) Config() RuleConfig     { return r.cfg }
func (r *BundleRule) ForGroup() bool         { return r.cfg.Pricing.ForGroup }
func (r *BundleRule) matchType() MatchType   { return r.cfg.MatchType }
func (r *BundleRule) filters() []Filter      { return r.cfg.Filters }
func (r *BundleRule) conditions() Conditions { return r.cfg.Conditions }

// PurchaseQuantity is the number of units the bundle needs. It defaults to 1.
func (r *BundleRule) PurchaseQuantity() int {
	if r.cfg.Pricing.BuyQuantity > 0 {
		return r.cfg.Pricing.BuyQuantity
	}
	return 1
}

// Propose selects the bundle's items, or returns nil when the cart does not qualify.
func (r *BundleRule) Propose(env Env, cart *Cart) *Adjustment {
	if env.Matcher == nil || cart == nil {
		return nil
	}
	if !r.conditions().Empty() {
		if env.Conditions == nil || !env.Conditions.Evaluate(cart, r.conditions()).Satisfied {
			return nil
		}
	}
	m := env.Matcher.ForCart(cart)
	items := SelectEligible(cart.Items, r.PurchaseQuantity(), func(it *CartItem) bool {
		return m.MatchesAll(it.Product, r.filters(), r.matchType(), it.Key)
	})
	if items == nil {
		return nil
	}
	return &Adjustment{Rule: r, Items: items}
}

// Apply distributes the discount over the adjustment's items.
func (r *BundleRule) Apply(env Env, adj *Adjustment) Outcome {
	if adj == nil || len(adj.Items) == 0 {
		return Outcome{}
	}
	var prices PriceResolver = StandardPrices{}
	if env.Matcher != nil {
		prices = env.Matcher.Prices()
	}
	if r.ForGroup() {
		return DistributeGroup(r.distribution(prices, adj.Items[0].Product), adj.Items)
	}
	var out Outcome
	quantities := DiscountableQuantities(adj.Items, r.PurchaseQuantity())
	for i, it := range adj.Items {
		if quantities[i] <= 0 {
			continue
		}
		d := r.distribution(prices, it.Product)
		// Each item is handed exactly the units the bundle-wide partition gave it.
		d.PurchaseQuantity = quantities[i]
		out.add(DistributeIndividual(d, []*CartItem{it}))
	}
	return out
}

// distribution converts monetary pricing values through the price resolver.
func (r *BundleRule) distribution(prices PriceResolver, p Product) Distribution {
	value := r.cfg.Pricing.Value
	if r.cfg.Pricing.Type != PercentageDiscount {
		value = prices.FixedPrice(value, p)
	}
	maximum := r.cfg.Pricing.MaximumAdjustmentAmount
	if maximum.Sign() > 0 {
		maximum = prices.FixedPrice(maximum, p)
	}
	return Distribution{
		RuleID:           r.cfg.ID,
		PricingType:      r.cfg.Pricing.Type,
		Value:            value,
		Maximum:          maximum,
		PurchaseQuantity: r.PurchaseQuantity(),
	}
}

// MinDiscount degrades to a zero fixed discount when conditions may block the rule.
func (r *BundleRule) MinDiscount() DiscountBound {
	if !r.conditions().Empty() {
		return DiscountBound{PricingType: FixedDiscount, Value: decimal.Zero, Maximum: decimal.Zero}
	}
	return r.MaxDiscount()
}

// MaxDiscount reflects the configured pricing.
func (r *BundleRule) MaxDiscount() DiscountBound {
	return DiscountBound{
		PricingType: r.cfg.Pricing.Type,
		Value:       r.cfg.Pricing.Value,
		Maximum:     r.cfg.Pricing.MaximumAdjustmentAmount,
	}
}

// Encouragement reports the first matching item when conditions are still unmet.
func (r *BundleRule) Encouragement(env Env, cart *Cart, scope *Product) *Encouragement {
	return computeEncouragement(env, cart, encouragementSource{
		rule:       r,
		filters:    r.filters(),
		matchType:  r.matchType(),
		conditions: r.conditions(),
	}, scope)
}

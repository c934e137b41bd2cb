package pricing

import "slices"

// Encouragement points at the cart item that would let a rule fire once the
// missing conditions are met.
type Encouragement struct {
	RuleID     string          `json:"rule_id"`
	RuleName   string          `json:"rule_name"`
	ItemKey    string          `json:"item_key"`
	ProductID  int64           `json:"product_id"`
	Conditions []ConditionInfo `json:"conditions"`
	Item       *CartItem       `json:"-"`
}

// encouragementSource is what computeEncouragement needs from a rule.
type encouragementSource struct {
	rule       Rule
	filters    []Filter
	matchType  MatchType
	conditions Conditions
}

// computeEncouragement returns nil when the conditions already hold or no
// non-extra item in scope matches the filters.
func computeEncouragement(env Env, cart *Cart, src encouragementSource, scope *Product) *Encouragement {
	if env.Conditions == nil || env.Matcher == nil || cart == nil {
		return nil
	}
	result := env.Conditions.Evaluate(cart, src.conditions)
	if result.Satisfied || len(result.Missing) == 0 {
		return nil
	}
	m := env.Matcher.ForCart(cart)
	for _, it := range cart.Items {
		if it.Extra {
			continue
		}
		if scope != nil {
			if scope.Type == ProductVariable {
				if !slices.Contains(scope.Children, it.Product.ID) {
					continue
				}
			} else if scope.ID != it.Product.ID {
				continue
			}
		}
		if m.MatchesAll(it.Product, src.filters, src.matchType, it.Key) {
			return &Encouragement{
				RuleID:     src.rule.ID(),
				RuleName:   src.rule.Name(),
				ItemKey:    it.Key,
				ProductID:  it.Product.ID,
				Conditions: result.Missing,
				Item:       it,
			}
		}
	}
	return nil
}

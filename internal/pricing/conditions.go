package pricing

import "github.com/shopspring/decimal"

// ConditionType names a cart-level prerequisite.
type ConditionType string

const (
	ConditionCartSubtotal ConditionType = "cart_subtotal"
	ConditionCartQuantity ConditionType = "cart_quantity"
)

// Condition is one cart-level prerequisite. ProductID scopes cart_quantity to one product.
type Condition struct {
	Type       ConditionType `json:"type"`
	Comparison Comparison    `json:"comparation"`
	Value      Money         `json:"value"`
	ProductID  int64         `json:"product_id,omitempty"`
}

// Conditions is the combined prerequisite set of a rule.
type Conditions struct {
	MatchType MatchType   `json:"match_type"`
	Logic     []Condition `json:"logic"`
}

// Empty reports whether no prerequisite is configured.
func (c Conditions) Empty() bool { return len(c.Logic) == 0 }

// ConditionInfo describes one unmet prerequisite.
type ConditionInfo struct {
	Type       ConditionType `json:"type"`
	Comparison Comparison    `json:"comparation"`
	Value      Money         `json:"value"`
	Current    Money         `json:"current"`
	Shortfall  Money         `json:"shortfall"`
}

// ConditionResult is the outcome of evaluating a rule's conditions.
type ConditionResult struct {
	Satisfied bool            `json:"satisfied"`
	Missing   []ConditionInfo `json:"missing,omitempty"`
}

// ConditionEvaluator evaluates cart-level conditions.
type ConditionEvaluator interface {
	Evaluate(cart *Cart, conditions Conditions) ConditionResult
}

// CartMeasure extracts the value a condition type compares.
type CartMeasure func(cart *Cart, c Condition) Money

// CartConditions evaluates conditions using per-type measures.
type CartConditions struct {
	measures map[ConditionType]CartMeasure
}

// NewCartConditions returns an evaluator with the built-in cart measures plus extra.
func NewCartConditions(extra map[ConditionType]CartMeasure) *CartConditions {
	measures := map[ConditionType]CartMeasure{
		ConditionCartSubtotal: func(cart *Cart, _ Condition) Money { return cart.Subtotal() },
		ConditionCartQuantity: func(cart *Cart, c Condition) Money {
			if c.ProductID != 0 {
				return decimal.NewFromInt(int64(cart.QuantityOf(c.ProductID)))
			}
			return decimal.NewFromInt(int64(cart.Quantity()))
		},
	}
	for k, v := range extra {
		measures[k] = v
	}
	return &CartConditions{measures: measures}
}

// Evaluate implements ConditionEvaluator. Unknown condition types never hold.
func (e *CartConditions) Evaluate(cart *Cart, conditions Conditions) ConditionResult {
	if conditions.Empty() {
		return ConditionResult{Satisfied: true}
	}
	var (
		missing   []ConditionInfo
		anyPassed bool
		allPassed = true
	)
	for _, c := range conditions.Logic {
		current := decimal.Zero
		ok := false
		if measure, found := e.measures[c.Type]; found && cart != nil {
			current = measure(cart, c)
			ok = compareNumeric(current, c.Value, c.Comparison)
		}
		if ok {
			anyPassed = true
			continue
		}
		allPassed = false
		missing = append(missing, ConditionInfo{
			Type:       c.Type,
			Comparison: c.Comparison,
			Value:      c.Value,
			Current:    current,
			Shortfall:  shortfall(current, c),
		})
	}
	satisfied := allPassed
	if conditions.MatchType != MatchAll {
		satisfied = anyPassed
	}
	if satisfied {
		return ConditionResult{Satisfied: true}
	}
	return ConditionResult{Missing: missing}
}

func shortfall(current Money, c Condition) Money {
	switch c.Comparison.normalize() {
	case GreaterOrEqual, Greater, Equal:
		return decimal.Max(decimal.Zero, c.Value.Sub(current))
	default:
		return decimal.Zero
	}
}

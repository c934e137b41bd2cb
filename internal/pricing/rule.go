package pricing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRuleType is returned when a rule's type tag has no implementation.
	ErrUnknownRuleType = errors.New("unknown rule type")
	// ErrInvalidRule is returned when a rule configuration cannot be used.
	ErrInvalidRule = errors.New("invalid rule")
)

// PricingConfig is the pricing block of a rule.
type PricingConfig struct {
	Type                    PricingType `json:"type"`
	Value                   Money       `json:"value"`
	MaximumAdjustmentAmount Money       `json:"maximum_adjustment_amount"`
	BuyQuantity             int         `json:"buy_quantity"`
	ForGroup                bool        `json:"for_group"`
}

// RuleConfig is the stored definition every rule type is built from.
type RuleConfig struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Priority   int           `json:"priority"`
	MatchType  MatchType     `json:"match_type"`
	Filters    []Filter      `json:"filters"`
	Pricing    PricingConfig `json:"pricing"`
	Conditions Conditions    `json:"conditions"`
}

// DiscountBound is the pricing triple used to rank rules before they run.
type DiscountBound struct {
	PricingType PricingType `json:"pricing_type"`
	Value       Money       `json:"pricing_value"`
	Maximum     Money       `json:"maximum"`
}

// Env carries the collaborators rules evaluate against.
type Env struct {
	Matcher    *Matcher
	Conditions ConditionEvaluator
}

// Adjustment is a rule's proposal: the cart items it would discount.
type Adjustment struct {
	Rule  Rule
	Items []*CartItem
}

// ItemKeys lists the keys of the proposed items in order.
func (a *Adjustment) ItemKeys() []string {
	keys := make([]string, 0, len(a.Items))
	for _, it := range a.Items {
		keys = append(keys, it.Key)
	}
	return keys
}

// Rebind points the adjustment at the same items inside another cart copy.
// It returns nil when an item is missing from cart.
func (a *Adjustment) Rebind(cart *Cart) *Adjustment {
	items := make([]*CartItem, 0, len(a.Items))
	for _, key := range a.ItemKeys() {
		it := cart.Item(key)
		if it == nil {
			return nil
		}
		items = append(items, it)
	}
	return &Adjustment{Rule: a.Rule, Items: items}
}

// Rule is the capability every rule type implements.
type Rule interface {
	ID() string
	Name() string
	Type() string
	Priority() int
	// Propose must not mutate cart.
	Propose(env Env, cart *Cart) *Adjustment
	// Apply mutates the adjustment's items. It runs at most once per pass.
	Apply(env Env, adj *Adjustment) Outcome
	MinDiscount() DiscountBound
	MaxDiscount() DiscountBound
	Encouragement(env Env, cart *Cart, scope *Product) *Encouragement
}

type ruleFactory func(RuleConfig) (Rule, error)

var ruleTypes = map[string]ruleFactory{
	BundleRuleType: newBundleRule,
}

// KnownRuleType reports whether NewRule can build rules of the given type.
func KnownRuleType(t string) bool {
	_, ok := ruleTypes[strings.TrimSpace(t)]
	return ok
}

// NewRule builds the rule variant named by cfg.Type.
func NewRule(cfg RuleConfig) (Rule, error) {
	factory, ok := ruleTypes[strings.TrimSpace(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("rule %q type %q: %w", cfg.ID, cfg.Type, ErrUnknownRuleType)
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("rule id is required: %w", ErrInvalidRule)
	}
	if !cfg.Pricing.Type.Valid() {
		return nil, fmt.Errorf("rule %q pricing type %q: %w", cfg.ID, cfg.Pricing.Type, ErrInvalidRule)
	}
	if cfg.MatchType == "" {
		cfg.MatchType = MatchAny
	}
	if cfg.Conditions.MatchType == "" {
		cfg.Conditions.MatchType = MatchAll
	}
	return factory(cfg)
}

// BuildRules converts definitions into rules, stopping at the first failure.
func BuildRules(configs []RuleConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(configs))
	for _, cfg := range configs {
		r, err := NewRule(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

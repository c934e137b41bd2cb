package pricing

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// Policy decides which accepted proposals are committed.
type Policy string

const (
	// PolicyApplyAll commits every accepted proposal in priority order.
	PolicyApplyAll Policy = "all"
	// PolicyFirstMatch commits only the highest priority accepted proposal.
	PolicyFirstMatch Policy = "first"
)

// ParsePolicy maps a configuration string to a policy, defaulting to PolicyApplyAll.
func ParsePolicy(value string) Policy {
	if Policy(value) == PolicyFirstMatch {
		return PolicyFirstMatch
	}
	return PolicyApplyAll
}

// ItemFilter reports whether a cart item takes part in pricing.
type ItemFilter func(*CartItem) bool

// DropBundledComponents excludes components a bundle extension injected into the cart.
func DropBundledComponents(it *CartItem) bool { return it.BundleParentID == "" }

// Recorder receives pass statistics.
type Recorder interface {
	Proposed(ruleType string, accepted bool)
	Applied(ruleType string, outcome Outcome)
	Pass(duration time.Duration, applied int)
}

type nopRecorder struct{}

func (nopRecorder) Proposed(string, bool)   {}
func (nopRecorder) Applied(string, Outcome) {}
func (nopRecorder) Pass(time.Duration, int) {}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Matcher     *Matcher
	Conditions  ConditionEvaluator
	Policy      Policy
	ItemFilters []ItemFilter
	Logger      *zerolog.Logger
	Recorder    Recorder
}

// Engine runs pricing passes.
type Engine struct {
	matcher    *Matcher
	conditions ConditionEvaluator
	policy     Policy
	filters    []ItemFilter
	logger     zerolog.Logger
	recorder   Recorder
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Matcher == nil {
		return nil, errors.New("pricing engine requires a matcher")
	}
	e := &Engine{
		matcher:    cfg.Matcher,
		conditions: cfg.Conditions,
		policy:     cfg.Policy,
		filters:    cfg.ItemFilters,
		logger:     zerolog.Nop(),
		recorder:   cfg.Recorder,
	}
	if e.conditions == nil {
		e.conditions = NewCartConditions(nil)
	}
	if e.policy == "" {
		e.policy = PolicyApplyAll
	}
	if cfg.Logger != nil {
		e.logger = cfg.Logger.With().Str("component", "pricing").Logger()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	return e, nil
}

// Request is the input of one pricing pass.
type Request struct {
	Cart  *Cart
	Rules []Rule
	// Scope restricts encouragements to one product, or its variations.
	Scope *Product
}

// AppliedRule describes a committed rule.
type AppliedRule struct {
	RuleID   string   `json:"rule_id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Priority int      `json:"priority"`
	ItemKeys []string `json:"item_keys"`
	Units    int      `json:"units"`
	Discount Money    `json:"discount"`
}

// Summary aggregates the totals before and after the pass.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// Result is the output of a pricing pass.
type Result struct {
	Cart           *Cart           `json:"cart"`
	Applied        []AppliedRule   `json:"applied_rules"`
	Encouragements []Encouragement `json:"encouragements"`
	Summary        Summary         `json:"summary"`
}

// AppliedRuleIDs lists the ids of committed rules in commit order.
func (r Result) AppliedRuleIDs() []string {
	ids := make([]string, 0, len(r.Applied))
	for _, a := range r.Applied {
		ids = append(ids, a.RuleID)
	}
	return ids
}

// Price runs one pass. Every rule is proposed against the same baseline, then
// accepted proposals are committed in priority order, each on a fresh copy.
// The request cart is never modified.
func (e *Engine) Price(req Request) (Result, error) {
	start := time.Now()
	if err := req.Cart.Validate(); err != nil {
		return Result{}, err
	}
	baseline := e.prepare(req.Cart)
	rules := orderRules(req.Rules)
	env := Env{Matcher: e.matcher, Conditions: e.conditions}

	proposals := make([]*Adjustment, len(rules))
	for i, r := range rules {
		proposals[i] = r.Propose(env, baseline)
		e.recorder.Proposed(r.Type(), proposals[i] != nil)
		e.logger.Debug().
			Str("rule_id", r.ID()).
			Str("rule_type", r.Type()).
			Bool("accepted", proposals[i] != nil).
			Msg("rule proposed")
	}

	res := Result{}
	current := baseline.Clone()
	for i, r := range rules {
		adj := proposals[i]
		if adj == nil {
			if enc := r.Encouragement(env, baseline, req.Scope); enc != nil {
				res.Encouragements = append(res.Encouragements, *enc)
			}
			continue
		}
		if e.policy == PolicyFirstMatch && len(res.Applied) > 0 {
			e.logger.Debug().Str("rule_id", r.ID()).Msg("rule skipped by policy")
			continue
		}
		next := current.Clone()
		var bound *Adjustment
		if e.matcher.Settings().OnlyNonDiscounted {
			bound = r.Propose(env, next)
		} else {
			bound = adj.Rebind(next)
		}
		if bound == nil {
			e.logger.Debug().Str("rule_id", r.ID()).Msg("rule no longer applicable")
			continue
		}
		outcome := r.Apply(env, bound)
		current = next
		e.recorder.Applied(r.Type(), outcome)
		res.Applied = append(res.Applied, AppliedRule{
			RuleID:   r.ID(),
			Name:     r.Name(),
			Type:     r.Type(),
			Priority: r.Priority(),
			ItemKeys: bound.ItemKeys(),
			Units:    outcome.Units,
			Discount: outcome.Discount,
		})
		e.logger.Debug().
			Str("rule_id", r.ID()).
			Int("units", outcome.Units).
			Str("discount", outcome.Discount.String()).
			Msg("rule applied")
	}

	res.Cart = current
	res.Summary = Summarize(baseline, current)
	elapsed := time.Since(start)
	e.recorder.Pass(elapsed, len(res.Applied))
	e.logger.Info().
		Int("items", len(current.Items)).
		Int("rules", len(rules)).
		Int("applied", len(res.Applied)).
		Int("encouragements", len(res.Encouragements)).
		Str("discount", res.Summary.Discount.String()).
		Dur("duration", elapsed).
		Msg("pricing pass complete")
	return res, nil
}

// Summarize compares the cart before and after pricing. The discount is the
// sum of committed line discounts, so it equals the applied rule totals.
func Summarize(before, after *Cart) Summary {
	subtotal := before.Subtotal()
	discount := after.Discount().Sub(before.Discount())
	return Summary{Subtotal: subtotal, Discount: discount, Total: subtotal.Sub(discount)}
}

func (e *Engine) prepare(cart *Cart) *Cart {
	cp := cart.Clone()
	if len(e.filters) == 0 {
		return cp
	}
	kept := cp.Items[:0]
	for _, it := range cp.Items {
		keep := true
		for _, f := range e.filters {
			if !f(it) {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, it)
		}
	}
	cp.Items = kept
	return cp
}

// orderRules sorts by ascending priority, keeping input order for ties.
func orderRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Rule) int { return cmp.Compare(a.Priority(), b.Priority()) })
	return out
}

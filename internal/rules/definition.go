package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// ErrInvalidDefinition is returned when a rule definition fails validation.
var ErrInvalidDefinition = errors.New("invalid rule definition")

// Definition is a stored pricing rule.
type Definition struct {
	pricing.RuleConfig
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldError names one failed check.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError lists every failed check of a definition.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Rule)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidDefinition, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDefinition }

var ruleIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

var maxPercentage = decimal.NewFromInt(100)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateRuleConfig, pricing.RuleConfig{})
	return v
}

// Validate checks a definition before it is stored.
func Validate(def Definition) error {
	err := validate.Struct(def.RuleConfig)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}

func validateRuleConfig(sl validator.StructLevel) {
	cfg, ok := sl.Current().Interface().(pricing.RuleConfig)
	if !ok {
		return
	}
	if !ruleIDPattern.MatchString(cfg.ID) {
		sl.ReportError(cfg.ID, "id", "ID", "ruleid", "")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		sl.ReportError(cfg.Name, "name", "Name", "required", "")
	}
	if !pricing.KnownRuleType(cfg.Type) {
		sl.ReportError(cfg.Type, "type", "Type", "ruletype", "")
	}
	if cfg.Priority < 0 {
		sl.ReportError(cfg.Priority, "priority", "Priority", "gte", "0")
	}
	if !validMatchType(cfg.MatchType) {
		sl.ReportError(cfg.MatchType, "match_type", "MatchType", "oneof", "any all")
	}
	validatePricing(sl, cfg.Pricing)
	if len(cfg.Filters) == 0 {
		sl.ReportError(cfg.Filters, "filters", "Filters", "min", "1")
	}
	for i, f := range cfg.Filters {
		validateFilter(sl, i, f)
	}
	if !validMatchType(cfg.Conditions.MatchType) {
		sl.ReportError(cfg.Conditions.MatchType, "conditions.match_type", "MatchType", "oneof", "any all")
	}
	for i, c := range cfg.Conditions.Logic {
		field := fmt.Sprintf("conditions.logic[%d]", i)
		switch c.Type {
		case pricing.ConditionCartSubtotal, pricing.ConditionCartQuantity:
		default:
			sl.ReportError(c.Type, field+".type", "Type", "oneof", "cart_subtotal cart_quantity")
		}
		if !numericComparison(c.Comparison) {
			sl.ReportError(c.Comparison, field+".comparation", "Comparison", "comparation", "")
		}
		if c.Value.IsNegative() {
			sl.ReportError(c.Value, field+".value", "Value", "gte", "0")
		}
	}
}

func validatePricing(sl validator.StructLevel, p pricing.PricingConfig) {
	if !p.Type.Valid() {
		sl.ReportError(p.Type, "pricing.type", "Type", "oneof", "percentage_discount fixed_discount flat_price")
	}
	if p.Value.IsNegative() {
		sl.ReportError(p.Value, "pricing.value", "Value", "gte", "0")
	}
	if p.Type == pricing.PercentageDiscount && p.Value.GreaterThan(maxPercentage) {
		sl.ReportError(p.Value, "pricing.value", "Value", "lte", "100")
	}
	if p.MaximumAdjustmentAmount.IsNegative() {
		sl.ReportError(p.MaximumAdjustmentAmount, "pricing.maximum_adjustment_amount", "MaximumAdjustmentAmount", "gte", "0")
	}
	if p.BuyQuantity < 0 {
		sl.ReportError(p.BuyQuantity, "pricing.buy_quantity", "BuyQuantity", "gte", "0")
	}
}

func validateFilter(sl validator.StructLevel, i int, f pricing.Filter) {
	field := fmt.Sprintf("filters[%d]", i)
	switch f.Kind {
	case pricing.FilterAllProducts, pricing.FilterStock:
		return
	case pricing.FilterPrice:
		if !numericComparison(f.Comparison) {
			sl.ReportError(f.Comparison, field+".comparation", "Comparison", "comparation", "")
		}
		if !f.Value.IsNumber {
			sl.ReportError(f.Value, field+".value", "Value", "number", "")
		}
	case pricing.FilterProduct, pricing.FilterProductVariation, pricing.FilterCategory, pricing.FilterTag, pricing.FilterAttribute:
		if !f.Comparison.Valid() || numericComparison(f.Comparison) {
			sl.ReportError(f.Comparison, field+".comparation", "Comparison", "oneof", "in_list not_in_list")
		}
		if f.Value.IsNumber || len(f.Value.IDs) == 0 {
			sl.ReportError(f.Value, field+".value", "Value", "required", "")
		}
	default:
		sl.ReportError(f.Kind, field+".type", "Kind", "filtertype", "")
	}
}

func validMatchType(m pricing.MatchType) bool {
	return m == "" || m == pricing.MatchAny || m == pricing.MatchAll
}

func numericComparison(c pricing.Comparison) bool {
	return c.Valid() && !isListAlias(c)
}

func isListAlias(c pricing.Comparison) bool {
	s := strings.ToLower(strings.TrimSpace(string(c)))
	return s == string(pricing.InList) || s == string(pricing.NotInList)
}

// AttributeTermIDs collects the term ids referenced by attribute filters.
func AttributeTermIDs(defs []Definition) []int64 {
	var ids []int64
	for _, def := range defs {
		for _, f := range def.Filters {
			if f.Kind == pricing.FilterAttribute {
				ids = append(ids, f.Value.IDs...)
			}
		}
	}
	return ids
}

// Configs extracts the engine configuration of each definition.
func Configs(defs []Definition) []pricing.RuleConfig {
	out := make([]pricing.RuleConfig, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.RuleConfig)
	}
	return out
}

package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FilterKind names what a filter inspects on a product.
type FilterKind string

const (
	FilterProduct          FilterKind = "product"
	FilterProductVariation FilterKind = "product_variation"
	FilterCategory         FilterKind = "product_category"
	FilterTag              FilterKind = "product_tag"
	FilterAttribute        FilterKind = "product_attribute"
	FilterPrice            FilterKind = "product_price"
	FilterStock            FilterKind = "product_in_stock"
	FilterAllProducts      FilterKind = "all_product"
)

// Comparison is the operator a filter or condition applies.
type Comparison string

const (
	InList         Comparison = "in_list"
	NotInList      Comparison = "not_in_list"
	Equal          Comparison = "="
	NotEqual       Comparison = "!="
	Less           Comparison = "<"
	LessOrEqual    Comparison = "<="
	Greater        Comparison = ">"
	GreaterOrEqual Comparison = ">="
)

var comparisonAliases = map[string]Comparison{
	"equal":         Equal,
	"not_equal":     NotEqual,
	"less_than":     Less,
	"less_equal":    LessOrEqual,
	"greater_than":  Greater,
	"greater_equal": GreaterOrEqual,
	"==":            Equal,
	"<>":            NotEqual,
}

func (c Comparison) normalize() Comparison {
	key := strings.ToLower(strings.TrimSpace(string(c)))
	if alias, ok := comparisonAliases[key]; ok {
		return alias
	}
	return Comparison(key)
}

// Valid reports whether c is a known comparator or alias.
func (c Comparison) Valid() bool {
	switch c.normalize() {
	case InList, NotInList, Equal, NotEqual, Less, LessOrEqual, Greater, GreaterOrEqual:
		return true
	}
	return false
}

// MatchType combines a list of filters or conditions.
type MatchType string

const (
	MatchAny MatchType = "any"
	MatchAll MatchType = "all"
)

// Filter is one typed condition on a product.
type Filter struct {
	Kind       FilterKind  `json:"type"`
	Comparison Comparison  `json:"comparation"`
	Value      FilterValue `json:"value"`
}

// FilterValue holds either an id list or a number.
//
// On the wire it accepts a list of {"value","label"} objects, a list of
// scalar ids, or a single number.
type FilterValue struct {
	IDs      []int64
	Number   Money
	IsNumber bool
}

// IDList builds an id list value.
func IDList(ids ...int64) FilterValue { return FilterValue{IDs: ids} }

// NumberValue builds a numeric value.
func NumberValue(v Money) FilterValue { return FilterValue{Number: v, IsNumber: true} }

// UnmarshalJSON implements json.Unmarshaler.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*v = FilterValue{}
		return nil
	}
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("filter value: %w", err)
		}
		ids := make([]int64, 0, len(raw))
		for _, elem := range raw {
			id, err := parseIDElement(elem)
			if err != nil {
				return fmt.Errorf("filter value: %w", err)
			}
			ids = append(ids, id)
		}
		*v = FilterValue{IDs: ids}
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("filter value: %w", err)
	}
	*v = NumberValue(d)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	if v.IsNumber {
		return []byte(v.Number.String()), nil
	}
	ids := v.IDs
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(ids)
}

func parseIDElement(elem json.RawMessage) (int64, error) {
	elem = bytes.TrimSpace(elem)
	if len(elem) > 0 && elem[0] == '{' {
		var obj struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(elem, &obj); err != nil {
			return 0, err
		}
		elem = bytes.TrimSpace(obj.Value)
	}
	s := strings.TrimSpace(strings.Trim(string(elem), `"`))
	return strconv.ParseInt(s, 10, 64)
}

func intersects(a, b []int64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[int64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// listResult applies an in/not-in comparator to an intersection outcome.
func listResult(c Comparison, found bool) bool {
	if c.normalize() == InList {
		return found
	}
	return !found
}

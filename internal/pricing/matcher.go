package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// DiscountBase selects which catalog price discounts are computed from.
type DiscountBase string

const (
	BaseRegularPrice DiscountBase = "regular_price"
	BaseSalePrice    DiscountBase = "sale_price"
)

// Settings are the store-wide switches that influence matching.
type Settings struct {
	DiscountBase DiscountBase
	// SkipOnSale excludes products that carry a sale price.
	SkipOnSale bool
	// OnlyNonDiscounted excludes products another rule already discounted.
	OnlyNonDiscounted bool
}

// Catalog resolves products and taxonomy terms.
type Catalog interface {
	Product(id int64) (Product, bool)
	Term(id int64) (Term, bool)
}

// PriceResolver supplies prices and stock for products.
type PriceResolver interface {
	ProductPrice(p Product) Money
	FixedPrice(price Money, p Product) Money
	Stock(p Product) int
}

// StandardPrices resolves prices straight from the product record.
type StandardPrices struct {
	Base DiscountBase
}

// ProductPrice returns the regular price, or the sale price when the base allows it.
func (s StandardPrices) ProductPrice(p Product) Money {
	if s.Base == BaseRegularPrice {
		return p.RegularPrice
	}
	if p.SalePrice.Valid {
		return p.SalePrice.Decimal
	}
	return p.RegularPrice
}

// FixedPrice returns price unchanged.
func (StandardPrices) FixedPrice(price Money, _ Product) Money { return price }

// Stock returns the managed stock quantity. Unmanaged stock is unlimited.
func (StandardPrices) Stock(p Product) int {
	if !p.ManageStock {
		return math.MaxInt32
	}
	return p.StockQuantity
}

// FilterHandler evaluates a filter kind the matcher does not know natively.
type FilterHandler func(p Product, f Filter) bool

// Matcher evaluates products against rule filters.
type Matcher struct {
	catalog    Catalog
	prices     PriceResolver
	settings   Settings
	handlers   map[FilterKind]FilterHandler
	discounted map[int64]struct{}
	variations map[string]map[string]string
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithFilterHandler registers a handler for an extension filter kind.
func WithFilterHandler(kind FilterKind, h FilterHandler) MatcherOption {
	return func(m *Matcher) {
		if h != nil {
			m.handlers[kind] = h
		}
	}
}

// WithDiscountedProducts marks products as already discounted outside the engine.
func WithDiscountedProducts(ids ...int64) MatcherOption {
	return func(m *Matcher) {
		for _, id := range ids {
			m.discounted[id] = struct{}{}
		}
	}
}

// NewMatcher constructs a matcher. A nil price resolver falls back to StandardPrices.
func NewMatcher(catalog Catalog, prices PriceResolver, settings Settings, opts ...MatcherOption) *Matcher {
	if prices == nil {
		prices = StandardPrices{Base: settings.DiscountBase}
	}
	m := &Matcher{
		catalog:    catalog,
		prices:     prices,
		settings:   settings,
		handlers:   map[FilterKind]FilterHandler{},
		discounted: map[int64]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Settings returns the settings the matcher was built with.
func (m *Matcher) Settings() Settings { return m.settings }

// Prices returns the price resolver.
func (m *Matcher) Prices() PriceResolver { return m.prices }

// ForCart returns a matcher bound to the cart: selected variations are looked
// up by item key, and items carrying modifiers count as discounted.
func (m *Matcher) ForCart(c *Cart) *Matcher {
	bound := *m
	bound.variations = make(map[string]map[string]string)
	bound.discounted = make(map[int64]struct{}, len(m.discounted))
	for id := range m.discounted {
		bound.discounted[id] = struct{}{}
	}
	if c != nil {
		for _, it := range c.Items {
			if len(it.Variation) > 0 {
				bound.variations[it.Key] = it.Variation
			}
			if len(it.Modifiers) > 0 {
				bound.discounted[it.Product.ID] = struct{}{}
			}
		}
	}
	return &bound
}

// MatchesAll combines filters with short-circuit any/all semantics.
// An empty filter list never matches.
func (m *Matcher) MatchesAll(p Product, filters []Filter, matchType MatchType, itemKey string) bool {
	if m.settings.OnlyNonDiscounted {
		if _, ok := m.discounted[p.ID]; ok {
			return false
		}
	}
	if m.settings.SkipOnSale && p.OnSale() {
		return false
	}
	check := false
	for _, f := range filters {
		check = m.Matches(p, f, itemKey)
		if matchType == MatchAll {
			if !check {
				break
			}
		} else if check {
			break
		}
	}
	return check
}

// Matches evaluates a single filter.
func (m *Matcher) Matches(p Product, f Filter, itemKey string) bool {
	switch f.Kind {
	case FilterProduct:
		ids := []int64{p.ID}
		if p.ParentID != 0 {
			ids = append(ids, p.ParentID)
		}
		return listResult(f.Comparison, intersects(f.Value.IDs, ids))
	case FilterProductVariation:
		ids := []int64{p.ID}
		if p.HasChildren() {
			ids = append(ids, p.Children...)
		}
		return listResult(f.Comparison, intersects(ids, f.Value.IDs))
	case FilterCategory:
		return listResult(f.Comparison, intersects(m.termClosure(p, categoriesOf, 0), f.Value.IDs))
	case FilterTag:
		return listResult(f.Comparison, intersects(m.termClosure(p, tagsOf, 0), f.Value.IDs))
	case FilterAttribute:
		return m.checkAttribute(p, f, itemKey)
	case FilterPrice:
		return compareNumeric(m.productPrice(p), f.Value.Number, f.Comparison)
	case FilterStock:
		return compareNumeric(decimal.NewFromInt(int64(m.prices.Stock(p))), f.Value.Number, f.Comparison)
	case FilterAllProducts:
		return true
	default:
		if h, ok := m.handlers[f.Kind]; ok {
			return h(p, f)
		}
		return false
	}
}

func categoriesOf(p Product) []int64 { return p.CategoryIDs }
func tagsOf(p Product) []int64       { return p.TagIDs }

const maxTermDepth = 32

// termClosure gathers the product's terms with all their ancestors, plus the parent product's.
func (m *Matcher) termClosure(p Product, terms func(Product) []int64, depth int) []int64 {
	seen := map[int64]struct{}{}
	var out []int64
	add := func(id int64) bool {
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
		out = append(out, id)
		return true
	}
	for _, id := range terms(p) {
		cur := id
		for i := 0; i < maxTermDepth && cur != 0 && add(cur); i++ {
			if m.catalog == nil {
				break
			}
			term, ok := m.catalog.Term(cur)
			if !ok {
				break
			}
			cur = term.ParentID
		}
	}
	if p.ParentID != 0 && m.catalog != nil && depth < maxTermDepth {
		if parent, ok := m.catalog.Product(p.ParentID); ok {
			for _, id := range m.termClosure(parent, terms, depth+1) {
				add(id)
			}
		}
	}
	return out
}

type attributePair struct {
	taxonomy string
	slug     string
}

func (m *Matcher) checkAttribute(p Product, f Filter, itemKey string) bool {
	pairs := make([]attributePair, 0, len(f.Value.IDs))
	if m.catalog != nil {
		for _, id := range f.Value.IDs {
			term, ok := m.catalog.Term(id)
			if !ok {
				continue
			}
			pairs = append(pairs, attributePair{taxonomy: term.Taxonomy, slug: term.Slug})
		}
	}

	attrs := p.Attributes
	if p.Type == ProductVariation && p.ParentID != 0 && m.catalog != nil {
		if parent, ok := m.catalog.Product(p.ParentID); ok {
			attrs = append([]ProductAttribute(nil), attrs...)
			for _, a := range parent.Attributes {
				if a.Visible && !a.Variation {
					attrs = append(attrs, a)
				}
			}
		}
	}

	found := false
search:
	for _, pair := range pairs {
		for _, a := range attrs {
			if a.Taxonomy != pair.taxonomy {
				continue
			}
			for _, opt := range a.Options {
				if opt == pair.slug {
					found = true
					break search
				}
			}
		}
	}

	if !found && itemKey != "" {
		if selected := m.variations[itemKey]; len(selected) > 0 {
			for _, pair := range pairs {
				if selected["attribute_"+pair.taxonomy] == pair.slug {
					found = true
					break
				}
			}
		}
	}
	return listResult(f.Comparison, found)
}

// productPrice resolves the price used by price filters. Variable products use
// their cheapest variation.
func (m *Matcher) productPrice(p Product) Money {
	if p.Type == ProductVariable && m.catalog != nil && len(p.Children) > 0 {
		var lowest Money
		have := false
		for _, id := range p.Children {
			child, ok := m.catalog.Product(id)
			if !ok {
				continue
			}
			price := m.prices.ProductPrice(child)
			if !have || price.LessThan(lowest) {
				lowest = price
				have = true
			}
		}
		if have {
			return lowest
		}
	}
	return m.prices.ProductPrice(p)
}

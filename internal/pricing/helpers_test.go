package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	products map[int64]Product
	terms    map[int64]Term
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{products: map[int64]Product{}, terms: map[int64]Term{}}
}

func (c *stubCatalog) Product(id int64) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

func (c *stubCatalog) Term(id int64) (Term, bool) {
	t, ok := c.terms[id]
	return t, ok
}

func (c *stubCatalog) addProduct(p Product) Product {
	c.products[p.ID] = p
	return p
}

func (c *stubCatalog) addTerm(t Term) {
	c.terms[t.ID] = t
}

func money(v string) Money { return decimal.RequireFromString(v) }

func requireMoney(t *testing.T, want string, got Money) {
	t.Helper()
	require.True(t, money(want).Equal(got), "expected %s, got %s", want, got.String())
}

func simpleProduct(id int64, price string) Product {
	return Product{ID: id, Type: ProductSimple, RegularPrice: money(price)}
}

func item(key string, p Product, qty int, price string) *CartItem {
	return &CartItem{Key: key, Product: p, Quantity: qty, Price: money(price)}
}

func allProducts() []Filter {
	return []Filter{{Kind: FilterAllProducts, Comparison: InList}}
}

func bundleConfig(id string, pricingType PricingType, value string, buy int, group bool) RuleConfig {
	return RuleConfig{
		ID:      id,
		Name:    "Bundle " + id,
		Type:    BundleRuleType,
		Filters: allProducts(),
		Pricing: PricingConfig{
			Type:        pricingType,
			Value:       money(value),
			BuyQuantity: buy,
			ForGroup:    group,
		},
	}
}

func mustRule(t *testing.T, cfg RuleConfig) Rule {
	t.Helper()
	r, err := NewRule(cfg)
	require.NoError(t, err)
	return r
}

func testEnv(catalog Catalog, settings Settings) Env {
	return Env{
		Matcher:    NewMatcher(catalog, nil, settings),
		Conditions: NewCartConditions(nil),
	}
}

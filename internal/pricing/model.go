package pricing

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

// ErrInvalidCart is returned when a cart cannot be priced.
var ErrInvalidCart = errors.New("invalid cart")

// ProductType mirrors the storefront product kinds the matcher distinguishes.
type ProductType string

const (
	ProductSimple    ProductType = "simple"
	ProductVariable  ProductType = "variable"
	ProductVariation ProductType = "variation"
	ProductGrouped   ProductType = "grouped"
)

// ProductAttribute is one attribute taxonomy exposed by a product. Options hold term slugs.
type ProductAttribute struct {
	Taxonomy  string   `json:"taxonomy"`
	Options   []string `json:"options"`
	Visible   bool     `json:"visible"`
	Variation bool     `json:"variation"`
}

// Product is the catalog view of a purchasable product.
type Product struct {
	ID            int64               `json:"id"`
	ParentID      int64               `json:"parent_id,omitempty"`
	Type          ProductType         `json:"type"`
	Name          string              `json:"name"`
	Children      []int64             `json:"children,omitempty"`
	CategoryIDs   []int64             `json:"category_ids,omitempty"`
	TagIDs        []int64             `json:"tag_ids,omitempty"`
	Attributes    []ProductAttribute  `json:"attributes,omitempty"`
	RegularPrice  Money               `json:"regular_price"`
	SalePrice     decimal.NullDecimal `json:"sale_price"`
	ManageStock   bool                `json:"manage_stock"`
	StockQuantity int                 `json:"stock_quantity"`
}

// OnSale reports whether the product carries a sale price below its regular price.
func (p Product) OnSale() bool {
	return p.SalePrice.Valid && p.SalePrice.Decimal.LessThan(p.RegularPrice)
}

// HasChildren reports whether the product groups other products.
func (p Product) HasChildren() bool {
	return p.Type == ProductVariable || p.Type == ProductGrouped
}

// Term is a taxonomy term such as a category, tag or attribute value.
type Term struct {
	ID       int64  `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	ParentID int64  `json:"parent_id,omitempty"`
}

// Modifier records one rule's effect on one cart item.
type Modifier struct {
	RuleID          string `json:"rule_id"`
	ModifyQuantity  int    `json:"modify_quantity"`
	DiscountPerUnit Money  `json:"discount_per_unit"`
	ItemKey         string `json:"item_key"`
}

// CartItem is one priced line of a cart.
type CartItem struct {
	Key            string            `json:"key"`
	Product        Product           `json:"product"`
	Quantity       int               `json:"quantity"`
	Price          Money             `json:"price"`
	Variation      map[string]string `json:"variation,omitempty"`
	Extra          bool              `json:"extra,omitempty"`
	BundleParentID string            `json:"bundle_parent_id,omitempty"`
	Modifiers      []Modifier        `json:"modifiers,omitempty"`
	// Discount is the exact amount committed rules took off the line. Price
	// is derived from it and may carry division remainders.
	Discount Money `json:"discount"`
}

// LineTotal returns price multiplied by quantity.
func (i *CartItem) LineTotal() Money {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ModifiedQuantity sums the units already covered by modifiers.
func (i *CartItem) ModifiedQuantity() int {
	total := 0
	for _, m := range i.Modifiers {
		total += m.ModifyQuantity
	}
	return total
}

// AvailableQuantity is the number of units no modifier covers yet.
func (i *CartItem) AvailableQuantity() int {
	if n := i.Quantity - i.ModifiedQuantity(); n > 0 {
		return n
	}
	return 0
}

func (i *CartItem) clone() *CartItem {
	cp := *i
	cp.Variation = maps.Clone(i.Variation)
	cp.Modifiers = slices.Clone(i.Modifiers)
	return &cp
}

// Cart is an ordered list of cart items.
type Cart struct {
	Items []*CartItem `json:"items"`
}

// Clone returns a deep copy whose items can be mutated independently.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return &Cart{}
	}
	out := &Cart{Items: make([]*CartItem, 0, len(c.Items))}
	for _, it := range c.Items {
		out.Items = append(out.Items, it.clone())
	}
	return out
}

// Item looks up an item by key.
func (c *Cart) Item(key string) *CartItem {
	for _, it := range c.Items {
		if it.Key == key {
			return it
		}
	}
	return nil
}

// Subtotal sums the line totals of every item.
func (c *Cart) Subtotal() Money {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Discount sums the discounts committed on every item.
func (c *Cart) Discount() Money {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Discount)
	}
	return total
}

// Quantity sums item quantities.
func (c *Cart) Quantity() int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}

// QuantityOf counts the units of a product in the cart, including its variations.
func (c *Cart) QuantityOf(productID int64) int {
	total := 0
	for _, it := range c.Items {
		if it.Product.ID == productID || it.Product.ParentID == productID {
			total += it.Quantity
		}
	}
	return total
}

// Validate checks the structural invariants the engine relies on.
func (c *Cart) Validate() error {
	if c == nil {
		return fmt.Errorf("cart is nil: %w", ErrInvalidCart)
	}
	seen := make(map[string]struct{}, len(c.Items))
	for idx, it := range c.Items {
		if it == nil {
			return fmt.Errorf("item %d is nil: %w", idx, ErrInvalidCart)
		}
		if it.Key == "" {
			return fmt.Errorf("item %d has no key: %w", idx, ErrInvalidCart)
		}
		if _, dup := seen[it.Key]; dup {
			return fmt.Errorf("duplicate item key %q: %w", it.Key, ErrInvalidCart)
		}
		seen[it.Key] = struct{}{}
		if it.Quantity < 1 {
			return fmt.Errorf("item %q quantity %d: %w", it.Key, it.Quantity, ErrInvalidCart)
		}
		if it.Price.Sign() < 0 {
			return fmt.Errorf("item %q has negative price: %w", it.Key, ErrInvalidCart)
		}
	}
	return nil
}

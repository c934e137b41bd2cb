package catalog

import "github.com/noah-isme/toko-pricing/internal/pricing"

// Snapshot is an immutable in-memory view of the products and terms one
// pricing pass needs.
type Snapshot struct {
	products map[int64]pricing.Product
	terms    map[int64]pricing.Term
}

// NewSnapshot indexes products and terms by id.
func NewSnapshot(products []pricing.Product, terms []pricing.Term) *Snapshot {
	s := &Snapshot{
		products: make(map[int64]pricing.Product, len(products)),
		terms:    make(map[int64]pricing.Term, len(terms)),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, t := range terms {
		s.terms[t.ID] = t
	}
	return s
}

// Product implements pricing.Catalog.
func (s *Snapshot) Product(id int64) (pricing.Product, bool) {
	if s == nil {
		return pricing.Product{}, false
	}
	p, ok := s.products[id]
	return p, ok
}

// Term implements pricing.Catalog.
func (s *Snapshot) Term(id int64) (pricing.Term, bool) {
	if s == nil {
		return pricing.Term{}, false
	}
	t, ok := s.terms[id]
	return t, ok
}

// ProductCount returns the number of indexed products.
func (s *Snapshot) ProductCount() int { return len(s.products) }

// TermCount returns the number of indexed terms.
func (s *Snapshot) TermCount() int { return len(s.terms) }

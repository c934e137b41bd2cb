package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// ErrProductNotFound is returned when a requested product does not exist.
var ErrProductNotFound = errors.New("product not found")

const maxAncestorRounds = 16

// Service loads catalog snapshots through an optional Redis cache.
type Service struct {
	store  Store
	cache  *cache.Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Cache  *cache.Cache
	Logger zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	return &Service{store: cfg.Store, cache: cfg.Cache, logger: cfg.Logger}, nil
}

// Product returns a single product.
func (s *Service) Product(ctx context.Context, id int64) (pricing.Product, error) {
	if id <= 0 {
		return pricing.Product{}, common.BadRequest("id", "product id must be positive", nil)
	}
	found, err := s.Products(ctx, []int64{id})
	if err != nil {
		return pricing.Product{}, err
	}
	p, ok := found[id]
	if !ok {
		return pricing.Product{}, common.NotFound("product not found", ErrProductNotFound)
	}
	return p, nil
}

// Products loads products by id, serving what it can from cache.
func (s *Service) Products(ctx context.Context, ids []int64) (map[int64]pricing.Product, error) {
	out := make(map[int64]pricing.Product, len(ids))
	var missing []int64
	for _, id := range uniqueIDs(ids) {
		var cached pricing.Product
		if ok, err := s.cache.GetJSON(ctx, cache.KeyProduct(id), &cached); err == nil && ok {
			out[id] = cached
			continue
		} else if err != nil {
			s.logger.Warn().Err(err).Int64("product_id", id).Msg("catalog cache read failed")
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := s.store.ProductsByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for _, p := range loaded {
		out[p.ID] = p
		if err := s.cache.SetJSON(ctx, cache.KeyProduct(p.ID), p); err != nil {
			s.logger.Warn().Err(err).Int64("product_id", p.ID).Msg("catalog cache write failed")
		}
	}
	return out, nil
}

// Terms loads terms by id, serving what it can from cache.
func (s *Service) Terms(ctx context.Context, ids []int64) (map[int64]pricing.Term, error) {
	out := make(map[int64]pricing.Term, len(ids))
	var missing []int64
	for _, id := range uniqueIDs(ids) {
		var cached pricing.Term
		if ok, err := s.cache.GetJSON(ctx, cache.KeyTerm(id), &cached); err == nil && ok {
			out[id] = cached
			continue
		} else if err != nil {
			s.logger.Warn().Err(err).Int64("term_id", id).Msg("catalog cache read failed")
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := s.store.TermsByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load terms: %w", err)
	}
	for _, t := range loaded {
		out[t.ID] = t
		if err := s.cache.SetJSON(ctx, cache.KeyTerm(t.ID), t); err != nil {
			s.logger.Warn().Err(err).Int64("term_id", t.ID).Msg("catalog cache write failed")
		}
	}
	return out, nil
}

// Snapshot loads the cart products with their parents and children, and the
// terms they reference with every ancestor. extraTerms adds terms such as the
// attribute values rule filters name.
func (s *Service) Snapshot(ctx context.Context, productIDs, extraTerms []int64) (*Snapshot, error) {
	products, err := s.Products(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	// Parents pull in their children, so variations also bring their siblings.
	for round := 0; round < 2; round++ {
		var related []int64
		for _, p := range products {
			if p.ParentID != 0 {
				related = append(related, p.ParentID)
			}
			if p.HasChildren() {
				related = append(related, p.Children...)
			}
		}
		related = slices.DeleteFunc(uniqueIDs(related), func(id int64) bool {
			_, ok := products[id]
			return ok
		})
		if len(related) == 0 {
			break
		}
		more, err := s.Products(ctx, related)
		if err != nil {
			return nil, err
		}
		for id, p := range more {
			products[id] = p
		}
	}

	termIDs := slices.Clone(extraTerms)
	for _, p := range products {
		termIDs = append(termIDs, p.CategoryIDs...)
		termIDs = append(termIDs, p.TagIDs...)
	}
	terms := map[int64]pricing.Term{}
	pending := uniqueIDs(termIDs)
	for round := 0; len(pending) > 0 && round < maxAncestorRounds; round++ {
		loaded, err := s.Terms(ctx, pending)
		if err != nil {
			return nil, err
		}
		pending = pending[:0]
		for id, t := range loaded {
			terms[id] = t
		}
		for _, t := range loaded {
			if t.ParentID == 0 {
				continue
			}
			if _, ok := terms[t.ParentID]; !ok {
				pending = append(pending, t.ParentID)
			}
		}
		pending = uniqueIDs(pending)
	}

	productList := make([]pricing.Product, 0, len(products))
	for _, p := range products {
		productList = append(productList, p)
	}
	termList := make([]pricing.Term, 0, len(terms))
	for _, t := range terms {
		termList = append(termList, t)
	}
	return NewSnapshot(productList, termList), nil
}

// Invalidate drops cached products and terms after they change in the store.
func (s *Service) Invalidate(ctx context.Context, productIDs, termIDs []int64) error {
	keys := make([]string, 0, len(productIDs)+len(termIDs))
	for _, id := range uniqueIDs(productIDs) {
		keys = append(keys, cache.KeyProduct(id))
	}
	for _, id := range uniqueIDs(termIDs) {
		keys = append(keys, cache.KeyTerm(id))
	}
	if len(keys) == 0 {
		return nil
	}
	return s.cache.Delete(ctx, keys...)
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

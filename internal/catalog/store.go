package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Store loads catalog records by id.
type Store interface {
	ProductsByIDs(ctx context.Context, ids []int64) ([]pricing.Product, error)
	TermsByIDs(ctx context.Context, ids []int64) ([]pricing.Term, error)
}

// DB is the subset of pgxpool.Pool the stores use.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore reads products and terms from Postgres.
type PGStore struct {
	DB DB
}

const selectProducts = `
SELECT p.id,
       COALESCE(p.parent_id, 0),
       p.type,
       p.name,
       p.regular_price::text,
       p.sale_price::text,
       p.manage_stock,
       p.stock_quantity,
       p.category_ids,
       p.tag_ids,
       p.attributes,
       COALESCE((SELECT array_agg(c.id ORDER BY c.menu_order, c.id)
                 FROM catalog_products c WHERE c.parent_id = p.id), '{}')
FROM catalog_products p
WHERE p.id = ANY($1)`

const selectTerms = `
SELECT id, taxonomy, slug, name, COALESCE(parent_id, 0)
FROM catalog_terms
WHERE id = ANY($1)`

// ProductsByIDs implements Store.
func (s PGStore) ProductsByIDs(ctx context.Context, ids []int64) ([]pricing.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, selectProducts, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []pricing.Product
	for rows.Next() {
		var (
			p          pricing.Product
			productTyp string
			regular    string
			sale       pgtype.Text
			attributes []byte
		)
		if err := rows.Scan(&p.ID, &p.ParentID, &productTyp, &p.Name, &regular, &sale,
			&p.ManageStock, &p.StockQuantity, &p.CategoryIDs, &p.TagIDs, &attributes, &p.Children); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Type = pricing.ProductType(productTyp)
		if p.RegularPrice, err = decimal.NewFromString(regular); err != nil {
			return nil, fmt.Errorf("product %d regular price: %w", p.ID, err)
		}
		if sale.Valid {
			price, err := decimal.NewFromString(sale.String)
			if err != nil {
				return nil, fmt.Errorf("product %d sale price: %w", p.ID, err)
			}
			p.SalePrice = decimal.NewNullDecimal(price)
		}
		if len(attributes) > 0 {
			if err := json.Unmarshal(attributes, &p.Attributes); err != nil {
				return nil, fmt.Errorf("product %d attributes: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TermsByIDs implements Store.
func (s PGStore) TermsByIDs(ctx context.Context, ids []int64) ([]pricing.Term, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, selectTerms, ids)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	terms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pricing.Term, error) {
		var t pricing.Term
		err := row.Scan(&t.ID, &t.Taxonomy, &t.Slug, &t.Name, &t.ParentID)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan terms: %w", err)
	}
	return terms, nil
}

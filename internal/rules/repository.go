package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

var (
	// ErrNotFound is returned when no rule has the requested id.
	ErrNotFound = errors.New("rule not found")
	// ErrDuplicate is returned when a rule id is already taken.
	ErrDuplicate = errors.New("rule already exists")
)

// Repository persists rule definitions.
type Repository interface {
	List(ctx context.Context, activeOnly bool) ([]Definition, error)
	Get(ctx context.Context, id string) (Definition, error)
	Create(ctx context.Context, def Definition) (Definition, error)
	Update(ctx context.Context, def Definition) (Definition, error)
}

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository stores rules in the pricing_rules table.
type PGRepository struct {
	DB DB
}

const ruleColumns = `id, name, type, priority, active, definition, created_at, updated_at`

// List returns rules ordered by priority then id.
func (r *PGRepository) List(ctx context.Context, activeOnly bool) ([]Definition, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+ruleColumns+` FROM pricing_rules
WHERE ($1 = false OR active) ORDER BY priority, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Definition, error) {
		return scanDefinition(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return defs, nil
}

// Get loads one rule.
func (r *PGRepository) Get(ctx context.Context, id string) (Definition, error) {
	def, err := scanDefinition(r.DB.QueryRow(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Definition{}, ErrNotFound
	}
	return def, err
}

// Create inserts a rule.
func (r *PGRepository) Create(ctx context.Context, def Definition) (Definition, error) {
	body, err := encodeBody(def.RuleConfig)
	if err != nil {
		return Definition{}, err
	}
	out, err := scanDefinition(r.DB.QueryRow(ctx, `INSERT INTO pricing_rules (id, name, type, priority, active, definition)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+ruleColumns, def.ID, def.Name, def.Type, def.Priority, def.Active, body))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Definition{}, ErrDuplicate
		}
		return Definition{}, fmt.Errorf("create rule: %w", err)
	}
	return out, nil
}

// Update replaces a rule's definition.
func (r *PGRepository) Update(ctx context.Context, def Definition) (Definition, error) {
	body, err := encodeBody(def.RuleConfig)
	if err != nil {
		return Definition{}, err
	}
	out, err := scanDefinition(r.DB.QueryRow(ctx, `UPDATE pricing_rules
SET name = $2, type = $3, priority = $4, active = $5, definition = $6, updated_at = now()
WHERE id = $1
RETURNING `+ruleColumns, def.ID, def.Name, def.Type, def.Priority, def.Active, body))
	if errors.Is(err, pgx.ErrNoRows) {
		return Definition{}, ErrNotFound
	}
	if err != nil {
		return Definition{}, fmt.Errorf("update rule: %w", err)
	}
	return out, nil
}

// body is the jsonb column: everything but the indexed columns.
type body struct {
	MatchType  pricing.MatchType     `json:"match_type,omitempty"`
	Filters    []pricing.Filter      `json:"filters"`
	Pricing    pricing.PricingConfig `json:"pricing"`
	Conditions pricing.Conditions    `json:"conditions"`
}

func encodeBody(cfg pricing.RuleConfig) ([]byte, error) {
	data, err := json.Marshal(body{
		MatchType:  cfg.MatchType,
		Filters:    cfg.Filters,
		Pricing:    cfg.Pricing,
		Conditions: cfg.Conditions,
	})
	if err != nil {
		return nil, fmt.Errorf("encode rule %q: %w", cfg.ID, err)
	}
	return data, nil
}

func scanDefinition(row pgx.Row) (Definition, error) {
	var (
		def Definition
		raw []byte
	)
	if err := row.Scan(&def.ID, &def.Name, &def.Type, &def.Priority, &def.Active, &raw, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return Definition{}, err
	}
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return Definition{}, fmt.Errorf("decode rule %q: %w", def.ID, err)
	}
	def.MatchType = b.MatchType
	def.Filters = b.Filters
	def.Pricing = b.Pricing
	def.Conditions = b.Conditions
	return def, nil
}

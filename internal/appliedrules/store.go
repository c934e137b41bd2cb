package appliedrules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when nothing is recorded for an order.
	ErrNotFound = errors.New("no applied rules recorded")
	// ErrStale is returned when a newer quote is already recorded for the order.
	ErrStale = errors.New("a newer quote is already recorded")
)

// Store persists the ordered rule ids applied to an order.
type Store interface {
	// Save replaces the record unless one from a later quote exists.
	Save(ctx context.Context, orderID uuid.UUID, ruleIDs []string, quotedAt time.Time) error
	Load(ctx context.Context, orderID uuid.UUID) ([]string, error)
}

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore keeps records in the order_applied_rules table.
type PGStore struct {
	DB DB
}

// Save replaces the order's record in one transaction.
func (s *PGStore) Save(ctx context.Context, orderID uuid.UUID, ruleIDs []string, quotedAt time.Time) error {
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO order_pricing_records (order_id, quoted_at) VALUES ($1, $2)
ON CONFLICT (order_id) DO UPDATE SET quoted_at = EXCLUDED.quoted_at
WHERE order_pricing_records.quoted_at <= EXCLUDED.quoted_at`, orderID, quotedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `DELETE FROM order_applied_rules WHERE order_id = $1`, orderID); err != nil {
			return err
		}
		if len(ruleIDs) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO order_applied_rules (order_id, rule_id, position)
SELECT $1, t.rule_id, t.ord - 1
FROM unnest($2::text[]) WITH ORDINALITY AS t(rule_id, ord)`, orderID, ruleIDs)
		return err
	})
	if err != nil && !errors.Is(err, ErrStale) {
		return fmt.Errorf("save applied rules for %s: %w", orderID, err)
	}
	return err
}

// Load returns the order's rule ids in application order.
func (s *PGStore) Load(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT rule_id FROM order_applied_rules WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load applied rules for %s: %w", orderID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("load applied rules for %s: %w", orderID, err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

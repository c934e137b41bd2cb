package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is one recorded administrative action.
type Entry struct {
	ID         int64           `json:"id"`
	Actor      string          `json:"actor,omitempty"`
	Action     string          `json:"action"`
	ResourceID string          `json:"resource_id,omitempty"`
	Method     string          `json:"method"`
	Route      string          `json:"route"`
	Status     int             `json:"status"`
	RequestID  string          `json:"request_id,omitempty"`
	IP         string          `json:"ip,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	// List returns a page of entries, newest first, and the total count.
	List(ctx context.Context, limit, offset int) ([]Entry, int, error)
}

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore keeps entries in the pricing_audit_log table.
type PGStore struct {
	DB DB
}

// Insert implements Store.
func (s *PGStore) Insert(ctx context.Context, e Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO pricing_audit_log (actor, action, resource_id, method, route, status, request_id, ip, metadata)
		VALUES (NULLIF($1, ''), $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)`,
		e.Actor, e.Action, e.ResourceID, e.Method, e.Route, e.Status, e.RequestID, e.IP, metadata)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PGStore) List(ctx context.Context, limit, offset int) ([]Entry, int, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, COALESCE(actor, ''), action, COALESCE(resource_id, ''), method, route, status,
		       COALESCE(request_id, ''), COALESCE(ip, ''), metadata, created_at, COUNT(*) OVER ()
		FROM pricing_audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var (
		out   []Entry
		total int
	)
	for rows.Next() {
		var (
			e        Entry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceID, &e.Method, &e.Route, &e.Status,
			&e.RequestID, &e.IP, &metadata, &e.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Metadata = metadata
		out = append(out, e)
	}
	return out, total, rows.Err()
}

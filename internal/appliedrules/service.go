package appliedrules

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Label is the display form of an applied rule.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NameSource resolves rule names by id.
type NameSource interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Service records and describes the rules applied to orders.
type Service struct {
	store  Store
	names  NameSource
	logger zerolog.Logger
}

// NewService constructs a Service instance. names may be nil, in which case
// labels fall back to rule ids.
func NewService(store Store, names NameSource, logger zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("appliedrules: store is required")
	}
	return &Service{store: store, names: names, logger: logger}, nil
}

// Record stores ruleIDs for the order, dropping repeats but keeping order.
// quotedAt orders competing records; a record older than the stored one
// returns ErrStale.
func (s *Service) Record(ctx context.Context, orderID uuid.UUID, ruleIDs []string, quotedAt time.Time) error {
	if orderID == uuid.Nil {
		return errors.New("appliedrules: order id is required")
	}
	seen := make(map[string]struct{}, len(ruleIDs))
	ids := make([]string, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return s.store.Save(ctx, orderID, ids, quotedAt)
}

// Describe returns display labels for the order's applied rules. A rule that
// no longer exists is labelled with its id.
func (s *Service) Describe(ctx context.Context, orderID uuid.UUID) ([]Label, error) {
	ids, err := s.store.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	if s.names != nil {
		resolved, err := s.names.Names(ctx, ids)
		if err != nil {
			s.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("resolve rule names failed")
		} else {
			names = resolved
		}
	}
	out := make([]Label, 0, len(ids))
	for _, id := range ids {
		name := names[id]
		if name == "" {
			name = id
		}
		out = append(out, Label{ID: id, Name: name})
	}
	return out, nil
}

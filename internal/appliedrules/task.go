package appliedrules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// TypeRecord is the asynq task type that records an order's applied rules.
const TypeRecord = "pricing:record_applied_rules"

// RecordPayload is the task body.
type RecordPayload struct {
	OrderID  string    `json:"order_id"`
	RuleIDs  []string  `json:"rule_ids"`
	QuotedAt time.Time `json:"quoted_at"`
}

// RecordTaskID identifies the task for one order and rule list. Repeating a
// quote with the same outcome collapses into the pending task, while a quote
// with a different outcome gets its own task.
func RecordTaskID(orderID uuid.UUID, ruleIDs []string) string {
	return TypeRecord + ":" + orderID.String() + ":" + common.Sha256Hex(strings.Join(ruleIDs, "\x00"))[:16]
}

// NewRecordTask builds the task for an order quoted at quotedAt.
func NewRecordTask(orderID uuid.UUID, ruleIDs []string, quotedAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(RecordPayload{OrderID: orderID.String(), RuleIDs: ruleIDs, QuotedAt: quotedAt.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecord, payload,
		asynq.TaskID(RecordTaskID(orderID, ruleIDs)),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
	), nil
}

// TaskEnqueuer is the subset of asynq.Client used to publish tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes record tasks.
type Enqueuer struct {
	Client TaskEnqueuer
	Queue  string
	// Now stamps the quote time. It defaults to time.Now.
	Now func() time.Time
}

// Enqueue schedules recording. A pending task with the same rule list is not
// an error; the latest quote wins once tasks run.
func (e Enqueuer) Enqueue(ctx context.Context, orderID uuid.UUID, ruleIDs []string) error {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	task, err := NewRecordTask(orderID, ruleIDs, now())
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", TypeRecord, err)
	}
	return nil
}

// HandleRecordTask is the asynq handler for TypeRecord.
func (s *Service) HandleRecordTask(ctx context.Context, t *asynq.Task) error {
	var p RecordPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeRecord, err, asynq.SkipRetry)
	}
	orderID, err := uuid.Parse(p.OrderID)
	if err != nil {
		return fmt.Errorf("%s order id %q: %v: %w", TypeRecord, p.OrderID, err, asynq.SkipRetry)
	}
	if err := s.Record(ctx, orderID, p.RuleIDs, p.QuotedAt); err != nil {
		if errors.Is(err, ErrStale) {
			s.logger.Info().Str("order_id", orderID.String()).Time("quoted_at", p.QuotedAt).Msg("older quote skipped")
			return nil
		}
		return err
	}
	s.logger.Info().Str("order_id", orderID.String()).Int("rules", len(p.RuleIDs)).Msg("applied rules recorded")
	return nil
}

// Register mounts the task handlers on mux.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRecord, s.HandleRecordTask)
}

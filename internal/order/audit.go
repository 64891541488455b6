package order

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
)

// AuditSink receives every status change after it has been committed. The
// database row in order_status_changes is the durable record; sinks are for
// operators watching the log stream.
type AuditSink interface {
	Record(ctx context.Context, change StatusChange)
}

type LogAuditSink struct {
	logger zerolog.Logger
}

func NewLogAuditSink(logger zerolog.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger.With().Str("component", "audit").Logger()}
}

// Record writes one line per change, each with its own audit_id.
func (s *LogAuditSink) Record(_ context.Context, change StatusChange) {
	event := s.logger.Info()
	if id, err := uuid.NewV4(); err == nil {
		event = event.Str("audit_id", id.String())
	}
	event.
		Str("order_number", change.OrderNumber).
		Stringer("old_status", change.From).
		Stringer("new_status", change.To).
		Str("actor", change.Actor).
		Str("source", string(change.Source)).
		Str("reason", change.Reason).
		Time("at", change.At).
		Msg("audit: order status changed")
}

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, StatusChange) {}

package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/pkg/contracts"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
	"github.com/JaloliddinLapasov/DokonUz/pkg/outbox"
)

// OutboxSink records order events into the outbox table for the relay to
// publish. order.created never goes through here: OrderStore.Insert writes it
// in the same transaction as the order itself. The remaining events are best
// effort relative to the order change that already committed; a failed insert
// is logged, not propagated, so a flaky outbox never fails an order operation.
type OutboxSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewOutboxSink(pool *pgxpool.Pool, logger *zap.Logger) *OutboxSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxSink{pool: pool, logger: logger}
}

// newOrderEvent builds the outbox payload shared by Record and the
// transactional order.created path in OrderStore.Insert.
func newOrderEvent(eventType string, o *domain.Order) contracts.Event {
	return contracts.Event{
		EventID:   uuid.NewString(),
		OrderID:   string(o.ID),
		CreatedAt: o.UpdatedAt,
		Type:      eventType,
		Payload: map[string]any{
			"customer_id":    string(o.CustomerID),
			"total_amount":   o.TotalAmount.String(),
			"payment_status": string(o.PaymentStatus),
			"line_count":     len(o.Lines),
		},
	}
}

func (s *OutboxSink) Record(ctx context.Context, eventType string, o *domain.Order) {
	if eventType == contracts.EventOrderCreated {
		return
	}
	evt := newOrderEvent(eventType, o)
	if err := outbox.Insert(ctx, s.pool, evt.EventID, contracts.OrdersTopic, evt.OrderID, evt); err != nil {
		s.logger.Warn("outbox insert failed",
			logging.Step("outbox"), logging.OrderID(string(o.ID)),
			zap.String("event_type", eventType), zap.Error(err))
	}
}

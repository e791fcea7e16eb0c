package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/inventory"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/payment"
	"github.com/JaloliddinLapasov/DokonUz/pkg/contracts"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
)

// Store is the persistent order collaborator. Find returns orders with lines
// eagerly loaded; Update enforces optimistic concurrency and returns
// domain.ErrVersionConflict on a stale version.
type Store interface {
	Insert(ctx context.Context, o *domain.Order) error
	Find(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	List(ctx context.Context) ([]*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	Remove(ctx context.Context, id domain.OrderID) error
}

// EventSink records order events after state changes are persisted. The
// postgres sink writes to the outbox; tests use Nop.
type EventSink interface {
	Record(ctx context.Context, eventType string, o *domain.Order)
}

type NopSink struct{}

func (NopSink) Record(context.Context, string, *domain.Order) {}

// Policy carries the configurable business knobs of the order workflow.
type Policy struct {
	// RefundOnDelete: deleting a Paid order refunds the charge first. Off by
	// default, matching the original behavior; stock is always released
	// either way.
	RefundOnDelete bool
	Currency       string
}

// Lifecycle orchestrates creation, update, deletion and payment transitions
// of orders. All stock movement goes through the ledger; all state moves
// through the payment state machine.
type Lifecycle struct {
	builder *Builder
	orders  Store
	ledger  inventory.Ledger
	gateway payment.Gateway
	events  EventSink
	policy  Policy
	logger  *zap.Logger

	gatesMu sync.Mutex
	gates   map[domain.OrderID]*chargeGate
}

type chargeGate struct {
	mu   sync.Mutex
	refs int
}

// lockCharge serializes payment transitions per order within this process, so
// two MarkPaid calls for the same order never race past the Pending check and
// charge twice. Across processes the processor dedupes charges by reference.
func (m *Lifecycle) lockCharge(id domain.OrderID) func() {
	m.gatesMu.Lock()
	g := m.gates[id]
	if g == nil {
		g = &chargeGate{}
		m.gates[id] = g
	}
	g.refs++
	m.gatesMu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		m.gatesMu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(m.gates, id)
		}
		m.gatesMu.Unlock()
	}
}

func NewLifecycle(builder *Builder, orders Store, ledger inventory.Ledger, gateway payment.Gateway, events EventSink, policy Policy, logger *zap.Logger) *Lifecycle {
	if events == nil {
		events = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Currency == "" {
		policy.Currency = "usd"
	}
	return &Lifecycle{
		builder: builder,
		orders:  orders,
		ledger:  ledger,
		gateway: gateway,
		events:  events,
		policy:  policy,
		logger:  logger,
		gates:   map[domain.OrderID]*chargeGate{},
	}
}

func (m *Lifecycle) Create(ctx context.Context, customerID domain.CustomerID, requests []LineRequest) (*domain.Order, error) {
	o, err := m.builder.Build(ctx, customerID, requests)
	if err != nil {
		return nil, err
	}

	if err := m.orders.Insert(ctx, o); err != nil {
		// Запасы и заказ не должны разойтись: снимаем резервы перед выходом.
		var undo compensations
		for _, line := range o.Lines {
			undo.add(line.ProductID, line.Quantity)
		}
		undo.run(ctx, m.ledger, m.logger, compCounter(m.builder.metrics))
		m.logger.Error("order insert failed, reservations released",
			logging.Step("persist"), logging.OrderID(string(o.ID)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	m.events.Record(ctx, contracts.EventOrderCreated, o)
	return o, nil
}

func (m *Lifecycle) Get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return m.orders.Find(ctx, id)
}

func (m *Lifecycle) List(ctx context.Context) ([]*domain.Order, error) {
	return m.orders.List(ctx)
}

// Delete removes the order, then releases every reserved line. Paid orders
// are deletable; whether that triggers a refund is policy
// (Policy.RefundOnDelete), not an assumption.
func (m *Lifecycle) Delete(ctx context.Context, id domain.OrderID) error {
	o, err := m.orders.Find(ctx, id)
	if err != nil {
		return err
	}

	if o.PaymentStatus == domain.PaymentPaid && m.policy.RefundOnDelete {
		if err := m.gateway.Refund(ctx, o.GatewayRef, o.TotalAmount); err != nil {
			return fmt.Errorf("%w: refund before delete: %v", domain.ErrPaymentFailed, err)
		}
	}

	// Remove и есть захват заказа: запасы возвращает только тот вызов,
	// который реально удалил строку. Проигравший гонку выходит здесь,
	// не коснувшись ledger, иначе два удаления вернули бы остаток дважды.
	if err := m.orders.Remove(ctx, id); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	for _, line := range o.Lines {
		err := m.ledger.Release(ctx, line.ProductID, line.Quantity)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrProductNotFound) {
			// Товар удалён, вернуть остаток некуда.
			m.logger.Warn("release skipped, product gone",
				logging.Step("release"),
				logging.OrderID(string(id)),
				logging.ProductID(string(line.ProductID)),
				zap.Int32("quantity", line.Quantity))
			continue
		}
		// Заказ уже удалён, прерывать возврат нельзя.
		m.logger.Error("release failed after delete",
			logging.Step("release"),
			logging.OrderID(string(id)),
			logging.ProductID(string(line.ProductID)),
			zap.Int32("quantity", line.Quantity),
			zap.Error(err))
	}

	m.events.Record(ctx, contracts.EventOrderDeleted, o)
	return nil
}

// UpdateCommand is the explicit field-level update surface. Lines, totals and
// payment status are deliberately unreachable here: lines would bypass the
// ledger, and status moves only through MarkPaid/Refund.
type UpdateCommand struct {
	// OrderID, when set, must match the path id.
	OrderID    domain.OrderID
	CustomerID *domain.CustomerID
}

func (m *Lifecycle) Update(ctx context.Context, id domain.OrderID, cmd UpdateCommand) (*domain.Order, error) {
	if cmd.OrderID != "" && cmd.OrderID != id {
		return nil, domain.ErrIdentifierMismatch
	}

	// Конфликт версий повторяем один раз по свежей копии.
	for attempt := 0; ; attempt++ {
		o, err := m.orders.Find(ctx, id)
		if err != nil {
			return nil, err
		}

		if cmd.CustomerID != nil {
			ok, err := m.builder.customers.CustomerExists(ctx, *cmd.CustomerID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, domain.ErrCustomerNotFound
			}
			o.CustomerID = *cmd.CustomerID
		}

		err = m.orders.Update(ctx, o)
		if errors.Is(err, domain.ErrVersionConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return o, nil
	}
}

// MarkPaid charges the gateway once with the order total. Success moves the
// order to Paid; a gateway failure is persisted as Failed so the caller sees a
// clear status instead of an order stuck in Pending.
func (m *Lifecycle) MarkPaid(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	// Один платёжный переход на заказ за раз: второй вызов дождётся
	// первого и увидит уже оплаченный заказ вместо второго списания.
	unlock := m.lockCharge(id)
	defer unlock()

	o, err := m.orders.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	switch o.PaymentStatus {
	case domain.PaymentPending:
	case domain.PaymentPaid:
		return nil, domain.ErrAlreadyPaid
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidStatusTransition, o.PaymentStatus)
	}

	result, chargeErr := m.gateway.Charge(ctx, payment.ChargeRequest{
		Amount:    o.TotalAmount,
		Currency:  m.policy.Currency,
		Reference: string(o.ID),
	})
	if chargeErr != nil {
		o.PaymentStatus = domain.PaymentFailed
		if uerr := m.orders.Update(ctx, o); uerr != nil {
			m.logger.Error("failed to persist FAILED status",
				logging.Step("charge"), logging.OrderID(string(id)), zap.Error(uerr))
		}
		m.events.Record(ctx, contracts.EventOrderPaymentFailed, o)
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, chargeErr)
	}

	o.PaymentStatus = domain.PaymentPaid
	o.GatewayRef = result.GatewayRef
	if err := m.orders.Update(ctx, o); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// Заказ успел оплатить другой экземпляр сервиса. Процессор
			// дедуплицирует списания по reference, деньги ушли один раз.
			if cur, ferr := m.orders.Find(ctx, id); ferr == nil && cur.PaymentStatus == domain.PaymentPaid {
				return nil, domain.ErrAlreadyPaid
			}
		}
		// Charge went through but the status did not stick; surface loudly,
		// the processor reference is in the log for reconciliation.
		m.logger.Error("charge succeeded but status update failed",
			logging.Step("charge"), logging.OrderID(string(id)),
			zap.String("gateway_ref", result.GatewayRef), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	m.events.Record(ctx, contracts.EventOrderPaid, o)
	return o, nil
}

// Refund moves a Paid order to Refunded through the gateway.
func (m *Lifecycle) Refund(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	unlock := m.lockCharge(id)
	defer unlock()

	o, err := m.orders.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.PaymentStatus.CanTransitionTo(domain.PaymentRefunded) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidStatusTransition, o.PaymentStatus)
	}

	if err := m.gateway.Refund(ctx, o.GatewayRef, o.TotalAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}

	o.PaymentStatus = domain.PaymentRefunded
	if err := m.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	m.events.Record(ctx, contracts.EventOrderRefunded, o)
	return o, nil
}

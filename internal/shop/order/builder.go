package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/inventory"
	"github.com/JaloliddinLapasov/DokonUz/pkg/metrics"
)

// CustomerStore is the slice of the customer collaborator the builder needs.
type CustomerStore interface {
	CustomerExists(ctx context.Context, id domain.CustomerID) (bool, error)
}

// LineRequest is one requested (product, quantity) pair. Duplicate product ids
// across requests stay separate lines; each reserves its own quantity.
type LineRequest struct {
	ProductID domain.ProductID
	Quantity  int32
}

// Builder turns a customer id and a line list into a fully priced order, or
// fails with no side effects. The ledger only guarantees per-call atomicity,
// so the builder owns the multi-line rollback.
type Builder struct {
	customers CustomerStore
	ledger    inventory.Ledger
	logger    *zap.Logger
	metrics   *metrics.OrderMetrics // optional
}

func NewBuilder(customers CustomerStore, ledger inventory.Ledger, logger *zap.Logger, om *metrics.OrderMetrics) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{customers: customers, ledger: ledger, logger: logger, metrics: om}
}

func (b *Builder) Build(ctx context.Context, customerID domain.CustomerID, requests []LineRequest) (*domain.Order, error) {
	if len(requests) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	for _, r := range requests {
		if r.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", domain.ErrInvalidQuantity, r.ProductID)
		}
	}

	ok, err := b.customers.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}

	var undo compensations
	lines := make([]domain.OrderLine, 0, len(requests))
	total := decimal.Zero

	// Reserve in request order; the first failure releases everything
	// reserved so far before the error leaves the builder.
	for _, r := range requests {
		price, err := b.ledger.Reserve(ctx, r.ProductID, r.Quantity)
		if err != nil {
			undo.run(ctx, b.ledger, b.logger, compCounter(b.metrics))
			return nil, fmt.Errorf("reserve product %s: %w", r.ProductID, err)
		}
		undo.add(r.ProductID, r.Quantity)

		line := domain.OrderLine{ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: price}
		lines = append(lines, line)
		total = total.Add(line.LineTotal())
	}

	now := time.Now().UTC()
	return &domain.Order{
		ID:            domain.OrderID(uuid.NewString()),
		CustomerID:    customerID,
		Lines:         lines,
		TotalAmount:   total,
		PaymentStatus: domain.PaymentPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

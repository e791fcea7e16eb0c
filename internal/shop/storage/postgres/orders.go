package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/pkg/contracts"
	"github.com/JaloliddinLapasov/DokonUz/pkg/outbox"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Insert writes the order, its lines and the order.created outbox event in
// one transaction; lines never exist without their order, and a created order
// never misses its event.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders(id, customer_id, total_amount, payment_status, gateway_ref, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(o.ID), string(o.CustomerID), o.TotalAmount.String(), string(o.PaymentStatus),
		o.GatewayRef, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for i, line := range o.Lines {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, position, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5)`,
			string(o.ID), i, string(line.ProductID), line.Quantity, line.UnitPrice.String(),
		)
		if err != nil {
			return err
		}
	}

	evt := newOrderEvent(contracts.EventOrderCreated, o)
	if err := outbox.InsertTx(ctx, tx, evt.EventID, contracts.OrdersTopic, evt.OrderID, evt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *OrderStore) Find(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	o := domain.Order{ID: id}
	var totalText, status string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id, total_amount::text, payment_status, gateway_ref, version, created_at, updated_at
		 FROM orders WHERE id = $1`, string(id),
	).Scan(&o.CustomerID, &totalText, &status, &o.GatewayRef, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentStatus = domain.PaymentStatus(status)
	if o.TotalAmount, err = decimal.NewFromString(totalText); err != nil {
		return nil, fmt.Errorf("order %s: bad total: %w", id, err)
	}

	if o.Lines, err = s.loadLines(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *OrderStore) loadLines(ctx context.Context, id domain.OrderID) ([]domain.OrderLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price::text FROM order_items
		 WHERE order_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		var productID, priceText string
		if err := rows.Scan(&productID, &line.Quantity, &priceText); err != nil {
			return nil, err
		}
		line.ProductID = domain.ProductID(productID)
		if line.UnitPrice, err = decimal.NewFromString(priceText); err != nil {
			return nil, fmt.Errorf("order %s: bad unit price: %w", id, err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *OrderStore) List(ctx context.Context) ([]*domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, total_amount::text, payment_status, gateway_ref, version, created_at, updated_at
		 FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var o domain.Order
		var id, totalText, status string
		if err := rows.Scan(&id, &o.CustomerID, &totalText, &status, &o.GatewayRef, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.ID = domain.OrderID(id)
		o.PaymentStatus = domain.PaymentStatus(status)
		if o.TotalAmount, err = decimal.NewFromString(totalText); err != nil {
			return nil, fmt.Errorf("order %s: bad total: %w", id, err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range out {
		if o.Lines, err = s.loadLines(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update persists mutable order fields with an optimistic version check.
// Lines are immutable once placed and are not written here.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET customer_id = $2, payment_status = $3, gateway_ref = $4,
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $5`,
		string(o.ID), string(o.CustomerID), string(o.PaymentStatus), o.GatewayRef, o.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, string(o.ID)).Scan(&exists); qerr != nil {
			return qerr
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}
	o.Version++
	return nil
}

func (s *OrderStore) Remove(ctx context.Context, id domain.OrderID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// order_items go with the order via ON DELETE CASCADE
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// --- idempotency keys for order creation ---

func (s *OrderStore) LookupIdempotencyKey(ctx context.Context, key string) (domain.OrderID, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var orderID string
	err := s.pool.QueryRow(ctx, `SELECT order_id FROM order_idempotency WHERE idempotency_key = $1`, key).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.OrderID(orderID), nil
}

func (s *OrderStore) SaveIdempotencyKey(ctx context.Context, key string, id domain.OrderID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		key, string(id))
	return err
}

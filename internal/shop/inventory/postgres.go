package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

// PostgresLedger mutates the authoritative stock counter in the products
// table. Every call reads and writes the persisted value inside a single
// statement; the row lock taken by UPDATE serializes concurrent reservations
// of the same product.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Reserve(ctx context.Context, id domain.ProductID, qty int32) (decimal.Decimal, error) {
	if qty <= 0 {
		return decimal.Zero, domain.ErrInvalidQuantity
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Условный декремент: строка обновляется только при достаточном остатке.
	var priceText string
	err := l.pool.QueryRow(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND stock >= $2
		 RETURNING price::text`,
		string(id), qty,
	).Scan(&priceText)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := l.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, string(id)).Scan(&exists); qerr != nil {
			return decimal.Zero, qerr
		}
		if !exists {
			return decimal.Zero, domain.ErrProductNotFound
		}
		return decimal.Zero, domain.ErrInsufficientStock
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(priceText)
}

func (l *PostgresLedger) Release(ctx context.Context, id domain.ProductID, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := l.pool.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		string(id), qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

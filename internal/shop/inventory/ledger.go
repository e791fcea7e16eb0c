package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

// Ledger is the sole authority over product stock counters. Nothing else in
// the repository is allowed to assign stock directly.
//
// Reserve and Release on the same product are linearizable: two concurrent
// reservations never both succeed when their combined quantity exceeds the
// available stock.
type Ledger interface {
	// Reserve atomically decrements stock by qty and returns the product's
	// unit price at the moment of reservation. Fails with
	// domain.ErrInsufficientStock or domain.ErrProductNotFound.
	Reserve(ctx context.Context, id domain.ProductID, qty int32) (decimal.Decimal, error)

	// Release atomically increments stock by qty. Returns
	// domain.ErrProductNotFound when the product no longer exists; callers
	// treat that as a warning, never as fatal, since a deleted product
	// cannot be restocked.
	Release(ctx context.Context, id domain.ProductID, qty int32) error
}

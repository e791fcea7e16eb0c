// Package payment is the card-payment collaborator boundary. The core only
// consumes success/failure and the processor reference; the gateway protocol
// itself stays behind this interface.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	Amount    decimal.Decimal
	Currency  string
	Reference string // order id, also the processor-side idempotency key
}

type ChargeResult struct {
	GatewayRef string
}

type Gateway interface {
	// Charge is a single attempt: one call, one outcome. A declined or failed
	// charge comes back as an error carrying the processor's reason.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, gatewayRef string, amount decimal.Decimal) error
}

// MinorUnits converts a decimal amount to integer minor units (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

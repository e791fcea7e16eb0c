package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mock approves every charge unless a decline threshold is set. Used when the
// processor is not wired up (MOCK_PAYMENT=true) and by tests that need to
// count gateway calls.
type Mock struct {
	// DeclineOver, when non-zero, declines any charge strictly above it.
	DeclineOver decimal.Decimal
	// ChargeErr, when set, fails every charge with this error.
	ChargeErr error

	mu      sync.Mutex
	charges []ChargeRequest
	refunds []string
}

var ErrDeclined = errors.New("card declined")

func (m *Mock) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	m.mu.Lock()
	m.charges = append(m.charges, req)
	m.mu.Unlock()

	if m.ChargeErr != nil {
		return ChargeResult{}, m.ChargeErr
	}
	if !m.DeclineOver.IsZero() && req.Amount.GreaterThan(m.DeclineOver) {
		return ChargeResult{}, ErrDeclined
	}
	return ChargeResult{GatewayRef: "mock-" + uuid.NewString()}, nil
}

func (m *Mock) Refund(ctx context.Context, gatewayRef string, amount decimal.Decimal) error {
	m.mu.Lock()
	m.refunds = append(m.refunds, gatewayRef)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Charges() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChargeRequest, len(m.charges))
	copy(out, m.charges)
	return out
}

func (m *Mock) Refunds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.refunds))
	copy(out, m.refunds)
	return out
}

package order

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/inventory"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
	"github.com/JaloliddinLapasov/DokonUz/pkg/metrics"
)

type reservation struct {
	productID domain.ProductID
	quantity  int32
}

// compensations is the explicit undo list for a partially built order. Every
// successful reservation is recorded here; on failure the list runs in reverse
// order, mirroring how the steps were taken.
//
// Releases are best effort: a release can only move stock toward correctness,
// so a failed one is logged and skipped rather than aborting the rest.
type compensations struct {
	steps []reservation
}

func (c *compensations) add(id domain.ProductID, qty int32) {
	c.steps = append(c.steps, reservation{productID: id, quantity: qty})
}

func (c *compensations) run(ctx context.Context, ledger inventory.Ledger, logger *zap.Logger, counter prometheus.Counter) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := ledger.Release(ctx, step.productID, step.quantity); err != nil {
			logger.Warn("compensating release failed",
				logging.Step("release"),
				logging.ProductID(string(step.productID)),
				zap.Int32("quantity", step.quantity),
				zap.Error(err))
			continue
		}
		if counter != nil {
			counter.Inc()
		}
	}
	c.steps = nil
}

// compCounter unwraps the optional metrics bundle for run.
func compCounter(om *metrics.OrderMetrics) prometheus.Counter {
	if om == nil {
		return nil
	}
	return om.Compensations
}

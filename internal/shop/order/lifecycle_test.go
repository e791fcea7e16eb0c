package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/payment"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/storage/memory"
	"github.com/JaloliddinLapasov/DokonUz/pkg/contracts"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Record(_ context.Context, eventType string, _ *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// failingStore rejects every Insert; everything else delegates.
type failingStore struct {
	Store
}

func (f *failingStore) Insert(ctx context.Context, o *domain.Order) error {
	return errors.New("connection reset")
}

// conflictOnceStore fails the first Update with a version conflict,
// simulating a concurrent writer that got in between Find and Update.
type conflictOnceStore struct {
	Store
	fired bool
}

func (c *conflictOnceStore) Update(ctx context.Context, o *domain.Order) error {
	if !c.fired {
		c.fired = true
		return domain.ErrVersionConflict
	}
	return c.Store.Update(ctx, o)
}

// rendezvousFindStore parks every Find caller until all expected callers
// arrived, so concurrent operations are guaranteed to load the same snapshot
// before any of them writes.
type rendezvousFindStore struct {
	Store
	arrived *sync.WaitGroup
}

func (s *rendezvousFindStore) Find(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	o, err := s.Store.Find(ctx, id)
	s.arrived.Done()
	s.arrived.Wait()
	return o, err
}

// paidElsewhereStore applies the Paid update on behalf of a concurrent winner
// and then reports a version conflict, simulating another service instance
// paying the order between our Find and Update.
type paidElsewhereStore struct {
	Store
	fired bool
}

func (c *paidElsewhereStore) Update(ctx context.Context, o *domain.Order) error {
	if !c.fired && o.PaymentStatus == domain.PaymentPaid {
		c.fired = true
		winner := *o
		if err := c.Store.Update(ctx, &winner); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	return c.Store.Update(ctx, o)
}

func newLifecycle(t *testing.T, s *memory.Store, orders Store, gw payment.Gateway, sink EventSink, policy Policy) *Lifecycle {
	t.Helper()
	if orders == nil {
		orders = s
	}
	b := NewBuilder(s, s, nil, nil)
	return NewLifecycle(b, orders, s, gw, sink, policy, nil)
}

func TestCreatePersistsAndEmitsEvent(t *testing.T) {
	s := seedStore(t)
	sink := &recordingSink{}
	lc := newLifecycle(t, s, nil, &payment.Mock{}, sink, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	stored, err := lc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, stored.PaymentStatus)
	assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("39.98")))
	assert.Equal(t, []string{contracts.EventOrderCreated}, sink.all())
}

// If the insert fails after reservations went through, stock has to come back.
func TestCreateReleasesStockWhenInsertFails(t *testing.T) {
	s := seedStore(t)
	lc := newLifecycle(t, s, &failingStore{Store: s}, &payment.Mock{}, nil, Policy{})

	_, err := lc.Create(context.Background(), "c1", []LineRequest{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)

	assert.Equal(t, int32(10), stockOf(t, s, "p1"))
	assert.Equal(t, int32(5), stockOf(t, s, "p2"))
}

func TestDeleteReleasesEveryLine(t *testing.T) {
	s := seedStore(t)
	sink := &recordingSink{}
	lc := newLifecycle(t, s, nil, &payment.Mock{}, sink, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 2},
	})
	require.NoError(t, err)

	require.NoError(t, lc.Delete(context.Background(), o.ID))

	assert.Equal(t, int32(10), stockOf(t, s, "p1"))
	assert.Equal(t, int32(5), stockOf(t, s, "p2"))

	_, err = lc.Get(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, []string{contracts.EventOrderCreated, contracts.EventOrderDeleted}, sink.all())
}

// A product removed from the catalog after the order was placed has nowhere
// to take its stock back. The delete still goes through for the other lines.
func TestDeleteSkipsVanishedProduct(t *testing.T) {
	s := seedStore(t)
	lc := newLifecycle(t, s, nil, &payment.Mock{}, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 2},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProduct(context.Background(), "p1"))
	require.NoError(t, lc.Delete(context.Background(), o.ID))

	assert.Equal(t, int32(5), stockOf(t, s, "p2"))
	_, err = lc.Get(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestDeletePaidOrderRefundsWhenPolicySaysSo(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	lc := newLifecycle(t, s, nil, gw, nil, Policy{RefundOnDelete: true})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	_, err = lc.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)

	require.NoError(t, lc.Delete(context.Background(), o.ID))
	assert.Len(t, gw.Refunds(), 1)
}

func TestDeletePaidOrderNoRefundByDefault(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	lc := newLifecycle(t, s, nil, gw, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	_, err = lc.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)

	require.NoError(t, lc.Delete(context.Background(), o.ID))
	assert.Empty(t, gw.Refunds())
	assert.Equal(t, int32(10), stockOf(t, s, "p1"))
}

func TestMarkPaidChargesOnceAndSetsRef(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	sink := &recordingSink{}
	lc := newLifecycle(t, s, nil, gw, sink, Policy{Currency: "usd"})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	paid, err := lc.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, paid.PaymentStatus)
	assert.NotEmpty(t, paid.GatewayRef)

	charges := gw.Charges()
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Amount.Equal(o.TotalAmount))
	assert.Equal(t, "usd", charges[0].Currency)
	assert.Equal(t, string(o.ID), charges[0].Reference)
	assert.Equal(t, []string{contracts.EventOrderCreated, contracts.EventOrderPaid}, sink.all())
}

func TestMarkPaidTwiceNeverChargesTwice(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	lc := newLifecycle(t, s, nil, gw, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	_, err = lc.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)

	_, err = lc.MarkPaid(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
	assert.Len(t, gw.Charges(), 1)
}

func TestMarkPaidGatewayFailurePersistsFailed(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{ChargeErr: payment.ErrDeclined}
	sink := &recordingSink{}
	lc := newLifecycle(t, s, nil, gw, sink, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	_, err = lc.MarkPaid(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)

	stored, err := lc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, stored.PaymentStatus)
	assert.Contains(t, sink.all(), contracts.EventOrderPaymentFailed)
}

func TestMarkPaidFromFailedIsRejected(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{ChargeErr: payment.ErrDeclined}
	lc := newLifecycle(t, s, nil, gw, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	_, err = lc.MarkPaid(context.Background(), o.ID)
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	gw.ChargeErr = nil
	_, err = lc.MarkPaid(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	assert.Len(t, gw.Charges(), 1)
}

func TestRefundMovesPaidToRefunded(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	sink := &recordingSink{}
	lc := newLifecycle(t, s, nil, gw, sink, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	_, err = lc.MarkPaid(context.Background(), o.ID)
	require.NoError(t, err)

	refunded, err := lc.Refund(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, refunded.PaymentStatus)
	assert.Len(t, gw.Refunds(), 1)
	assert.Contains(t, sink.all(), contracts.EventOrderRefunded)
}

func TestRefundPendingOrderIsRejected(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	lc := newLifecycle(t, s, nil, gw, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	_, err = lc.Refund(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	assert.Empty(t, gw.Refunds())
}

func TestUpdateRejectsMismatchedIdentifier(t *testing.T) {
	s := seedStore(t)
	lc := newLifecycle(t, s, nil, &payment.Mock{}, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	_, err = lc.Update(context.Background(), o.ID, UpdateCommand{OrderID: "somebody-else"})
	assert.ErrorIs(t, err, domain.ErrIdentifierMismatch)
}

func TestUpdateReassignsCustomer(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.CreateCustomer(context.Background(), &domain.Customer{ID: "c2", Name: "Vali"}))
	lc := newLifecycle(t, s, nil, &payment.Mock{}, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	c2 := domain.CustomerID("c2")
	updated, err := lc.Update(context.Background(), o.ID, UpdateCommand{CustomerID: &c2})
	require.NoError(t, err)
	assert.Equal(t, c2, updated.CustomerID)
	assert.Equal(t, o.Version+1, updated.Version)
}

func TestUpdateUnknownCustomer(t *testing.T) {
	s := seedStore(t)
	lc := newLifecycle(t, s, nil, &payment.Mock{}, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	ghost := domain.CustomerID("ghost")
	_, err = lc.Update(context.Background(), o.ID, UpdateCommand{CustomerID: &ghost})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestUpdateRetriesOnceOnVersionConflict(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.CreateCustomer(context.Background(), &domain.Customer{ID: "c2", Name: "Vali"}))
	conflicting := &conflictOnceStore{Store: s}
	lc := newLifecycle(t, s, conflicting, &payment.Mock{}, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	c2 := domain.CustomerID("c2")
	updated, err := lc.Update(context.Background(), o.ID, UpdateCommand{CustomerID: &c2})
	require.NoError(t, err)
	assert.Equal(t, c2, updated.CustomerID)
	assert.True(t, conflicting.fired)
}

// Two checkouts race for the last unit: one order exists afterwards and the
// loser sees insufficient stock, never a negative balance.
func TestConcurrentCreateLastUnit(t *testing.T) {
	s := seedStore(t)
	lc := newLifecycle(t, s, nil, &payment.Mock{}, nil, Policy{})

	// p2 is seeded with 5 units; both checkouts want all of them.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, errs[w] = lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p2", Quantity: 5}})
		}(w)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, int32(0), stockOf(t, s, "p2"))
}

// Two deletes of the same order race past Find together. Only the one whose
// Remove actually deleted the row may touch the ledger; otherwise the stock
// would come back twice.
func TestConcurrentDeleteReleasesStockOnce(t *testing.T) {
	s := seedStore(t)
	var arrived sync.WaitGroup
	arrived.Add(2)
	lc := newLifecycle(t, s, &rendezvousFindStore{Store: s, arrived: &arrived}, &payment.Mock{}, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 3}})
	require.NoError(t, err)
	require.Equal(t, int32(7), stockOf(t, s, "p1"))

	errs := make(chan error, 2)
	for w := 0; w < 2; w++ {
		go func() { errs <- lc.Delete(context.Background(), o.ID) }()
	}
	first, second := <-errs, <-errs
	if first != nil {
		first, second = second, first
	}

	require.NoError(t, first)
	assert.ErrorIs(t, second, domain.ErrOrderNotFound)
	assert.Equal(t, int32(10), stockOf(t, s, "p1"))
}

// Two MarkPaid calls for the same pending order: exactly one charge reaches
// the gateway, the loser gets a clean already-paid answer.
func TestConcurrentMarkPaidChargesOnce(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	lc := newLifecycle(t, s, nil, gw, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	errs := make(chan error, 2)
	for w := 0; w < 2; w++ {
		go func() {
			_, err := lc.MarkPaid(context.Background(), o.ID)
			errs <- err
		}()
	}
	first, second := <-errs, <-errs
	if first != nil {
		first, second = second, first
	}

	require.NoError(t, first)
	assert.ErrorIs(t, second, domain.ErrAlreadyPaid)
	assert.Len(t, gw.Charges(), 1)

	stored, err := lc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
}

// A version conflict on the Paid update means another instance already paid
// the order. The processor dedupes charges by reference, so the caller should
// see already-paid, not a persistence failure.
func TestMarkPaidMapsLostRaceToAlreadyPaid(t *testing.T) {
	s := seedStore(t)
	gw := &payment.Mock{}
	lc := newLifecycle(t, s, &paidElsewhereStore{Store: s}, gw, nil, Policy{})

	o, err := lc.Create(context.Background(), "c1", []LineRequest{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	_, err = lc.MarkPaid(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

	stored, err := lc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
}

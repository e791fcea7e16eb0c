package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

func seedProduct(t *testing.T, s *Store, id domain.ProductID, price string, stock int32) {
	t.Helper()
	d, err := decimal.NewFromString(price)
	require.NoError(t, err)
	require.NoError(t, s.CreateProduct(context.Background(), &domain.Product{
		ID: id, Name: "product " + string(id), Price: d, Stock: stock,
	}))
}

func TestReserveDecrementsAndReturnsPrice(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "p1", "12.50", 10)

	price, err := s.Reserve(context.Background(), "p1", 3)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("12.50")))

	p, err := s.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(7), p.Stock)
}

func TestReserveInsufficientStockLeavesBalanceUntouched(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "p1", "5.00", 2)

	_, err := s.Reserve(context.Background(), "p1", 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	p, _ := s.GetProduct(context.Background(), "p1")
	assert.Equal(t, int32(2), p.Stock)
}

func TestReserveUnknownProduct(t *testing.T) {
	s := NewStore()
	_, err := s.Reserve(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestReleaseRestoresStock(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "p1", "5.00", 5)

	_, err := s.Reserve(context.Background(), "p1", 5)
	require.NoError(t, err)
	require.NoError(t, s.Release(context.Background(), "p1", 5))

	p, _ := s.GetProduct(context.Background(), "p1")
	assert.Equal(t, int32(5), p.Stock)
}

// Two concurrent reservations fight over the last unit: exactly one wins, the
// other gets ErrInsufficientStock, and the balance never goes negative.
func TestReserveLastUnitRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := NewStore()
		seedProduct(t, s, "p1", "1.00", 1)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				_, errs[w] = s.Reserve(context.Background(), "p1", 1)
			}(w)
		}
		wg.Wait()

		var wins, losses int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrInsufficientStock):
				losses++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, losses)

		p, _ := s.GetProduct(context.Background(), "p1")
		assert.Equal(t, int32(0), p.Stock)
	}
}

func TestOrderUpdateVersionConflict(t *testing.T) {
	s := NewStore()
	o := &domain.Order{ID: "o1", CustomerID: "c1", Version: 1, PaymentStatus: domain.PaymentPending}
	require.NoError(t, s.Insert(context.Background(), o))

	first, err := s.Find(context.Background(), "o1")
	require.NoError(t, err)
	second, err := s.Find(context.Background(), "o1")
	require.NoError(t, err)

	require.NoError(t, s.Update(context.Background(), first))
	assert.Equal(t, 2, first.Version)

	err = s.Update(context.Background(), second)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestUpdateProductNeverTouchesStock(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "p1", "5.00", 8)

	upd := &domain.Product{ID: "p1", Name: "renamed", Price: decimal.RequireFromString("6.00"), Stock: 999}
	require.NoError(t, s.UpdateProduct(context.Background(), upd))

	p, _ := s.GetProduct(context.Background(), "p1")
	assert.Equal(t, "renamed", p.Name)
	assert.Equal(t, int32(8), p.Stock)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{Username: "ali", PasswordHash: "x", Role: domain.RoleCustomer}))
	err := s.CreateUser(context.Background(), &domain.User{Username: "ali", PasswordHash: "y", Role: domain.RoleCustomer})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

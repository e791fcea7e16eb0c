package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/auth"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/order"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/payment"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/storage/memory"
	"github.com/JaloliddinLapasov/DokonUz/pkg/idempotency"
)

type fixture struct {
	server  *Server
	store   *memory.Store
	gateway *payment.Mock
	issuer  *auth.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	gateway := &payment.Mock{}
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)

	builder := order.NewBuilder(store, store, nil, nil)
	lifecycle := order.NewLifecycle(builder, store, store, gateway, nil, order.Policy{}, nil)

	server := NewServer(Deps{
		Customers:   store,
		Categories:  store,
		Products:    store,
		Users:       store,
		Orders:      lifecycle,
		Idempotency: store,
		Issuer:      issuer,
		Logger:      zap.NewNop(),
	})
	return &fixture{server: server, store: store, gateway: gateway, issuer: issuer}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateCustomer(ctx, &domain.Customer{ID: "c1", Name: "Ali", Email: "ali@example.com"}))
	require.NoError(t, f.store.CreateProduct(ctx, &domain.Product{
		ID: "p1", Name: "keyboard", Price: decimal.RequireFromString("19.99"), Stock: 10,
	}))
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.issuer.Issue("u1", domain.RoleCustomer)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeResp[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/user/register", "", map[string]any{
		"username": "ali", "password": "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/user/login", "", map[string]any{
		"username": "ali", "password": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeResp[map[string]string](t, rec)
	assert.NotEmpty(t, out["token"])

	rec = f.do(t, http.MethodPost, "/api/user/login", "", map[string]any{
		"username": "ali", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"username": "ali", "password": "s3cret"}

	rec := f.do(t, http.MethodPost, "/api/user/register", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/user/register", "", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrdersRequireAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/orders/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/orders/", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductsAreOpen(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/products/", "", map[string]any{
		"name": "keyboard", "price": "19.99", "stock": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeResp[productResponse](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "19.99", created.Price)

	rec = f.do(t, http.MethodGet, "/api/products/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeResp[[]productResponse](t, rec)
	assert.Len(t, list, 1)
}

func TestCreateProductRejectsBadPrice(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/products/", "", map[string]any{
		"name": "keyboard", "price": "free", "stock": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/products/", "", map[string]any{
		"name": "keyboard", "price": "-1.00", "stock": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/orders/", token, map[string]any{
		"customer_id": "c1",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decodeResp[orderResponse](t, rec)
	assert.Equal(t, "PENDING", o.PaymentStatus)
	assert.Equal(t, "39.98", o.TotalAmount)

	p, err := f.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(8), p.Stock)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/orders/", token, map[string]any{
		"customer_id": "c1",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 11}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	p, err := f.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.Stock)
}

func TestCreateOrderUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/orders/", token, map[string]any{
		"customer_id": "ghost",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Replaying the same Idempotency-Key returns the first order without touching
// stock a second time.
func TestCreateOrderIdempotencyReplay(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	body := map[string]any{
		"customer_id": "c1",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 2}},
	}
	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/api/orders/", &buf)
		req.Header.Set("Authorization", "Bearer "+token)
		idempotency.Set(req, "key-123")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	o1 := decodeResp[orderResponse](t, first)
	o2 := decodeResp[orderResponse](t, second)
	assert.Equal(t, o1.ID, o2.ID)

	p, err := f.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(8), p.Stock)
}

func TestChargeAndRefundFlow(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/orders/", token, map[string]any{
		"customer_id": "c1",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeResp[orderResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/payments/charge", "", map[string]any{"order_id": o.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeResp[orderResponse](t, rec)
	assert.Equal(t, "PAID", paid.PaymentStatus)
	assert.NotEmpty(t, paid.GatewayRef)

	// Second charge conflicts and must not reach the processor again.
	rec = f.do(t, http.MethodPost, "/api/payments/charge", "", map[string]any{"order_id": o.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, f.gateway.Charges(), 1)

	rec = f.do(t, http.MethodPost, "/api/payments/refund", "", map[string]any{"order_id": o.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refunded := decodeResp[orderResponse](t, rec)
	assert.Equal(t, "REFUNDED", refunded.PaymentStatus)
}

func TestUpdateOrderIdentifierMismatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/orders/", token, map[string]any{
		"customer_id": "c1",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeResp[orderResponse](t, rec)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/orders/%s", o.ID), token, map[string]any{
		"id": "some-other-order",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/orders/", token, map[string]any{
		"customer_id": "c1",
		"lines":       []map[string]any{{"product_id": "p1", "quantity": 4}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeResp[orderResponse](t, rec)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%s", o.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	p, err := f.store.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.Stock)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%s", o.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// Each server owns its limiter state. Exhausting the budget on one must not
// throttle a second instance serving the same client IP.
func TestRateLimitIsPerServer(t *testing.T) {
	a := NewServer(Deps{RateRPS: 1, RateBurst: 1})
	b := NewServer(Deps{RateRPS: 1, RateBurst: 1})

	get := func(s *Server) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "192.0.2.1:40000"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get(a))
	assert.Equal(t, http.StatusTooManyRequests, get(a))
	assert.Equal(t, http.StatusOK, get(b))
}

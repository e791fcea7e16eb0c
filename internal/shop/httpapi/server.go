// Package httpapi exposes the REST surface: users, customers, categories,
// products, orders and payments. Customers and orders sit behind JWT, the
// rest is open, matching the original API layout.
package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/auth"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/order"
	"github.com/JaloliddinLapasov/DokonUz/pkg/metrics"
)

type CustomerStore interface {
	CreateCustomer(ctx context.Context, c *domain.Customer) error
	GetCustomer(ctx context.Context, id domain.CustomerID) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	UpdateCustomer(ctx context.Context, c *domain.Customer) error
	DeleteCustomer(ctx context.Context, id domain.CustomerID) error
}

type CategoryStore interface {
	CreateCategory(ctx context.Context, c *domain.Category) error
	GetCategory(ctx context.Context, id domain.CategoryID) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, c *domain.Category) error
	DeleteCategory(ctx context.Context, id domain.CategoryID) error
}

type ProductStore interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id domain.ProductID) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// IdempotencyStore, when wired, lets POST /api/orders replay a prior result
// for a repeated Idempotency-Key instead of reserving stock twice.
type IdempotencyStore interface {
	LookupIdempotencyKey(ctx context.Context, key string) (domain.OrderID, error)
	SaveIdempotencyKey(ctx context.Context, key string, id domain.OrderID) error
}

type Deps struct {
	Customers   CustomerStore
	Categories  CategoryStore
	Products    ProductStore
	Users       UserStore
	Orders      *order.Lifecycle
	Idempotency IdempotencyStore // optional

	Issuer       *auth.TokenIssuer
	Logger       *zap.Logger
	Metrics      *metrics.ServerMetrics // optional
	OrderMetrics *metrics.OrderMetrics  // optional

	RateRPS   int // per-IP request rate, 0 disables limiting
	RateBurst int

	HealthCheck func(ctx context.Context) error // optional, e.g. pool.Ping
}

type Server struct {
	deps   Deps
	router chi.Router

	// per-IP limiter state; owned by the server, not shared across instances
	limiterMu sync.Mutex
	limiters  map[string]*ipLimiter
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps, limiters: map[string]*ipLimiter{}}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()

	if s.deps.RateRPS > 0 {
		r.Use(s.rateLimit)
	}
	if s.deps.Metrics != nil {
		r.Use(s.measure)
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", s.handleRegister)
		r.Post("/user/login", s.handleLogin)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleCreateCategory)
			r.Get("/{id}", s.handleGetCategory)
			r.Put("/{id}", s.handleUpdateCategory)
			r.Delete("/{id}", s.handleDeleteCategory)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleListProducts)
			r.Post("/", s.handleCreateProduct)
			r.Get("/{id}", s.handleGetProduct)
			r.Put("/{id}", s.handleUpdateProduct)
			r.Delete("/{id}", s.handleDeleteProduct)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/", s.handleListCustomers)
			r.Post("/", s.handleCreateCustomer)
			r.Get("/{id}", s.handleGetCustomer)
			r.Put("/{id}", s.handleUpdateCustomer)
			r.Delete("/{id}", s.handleDeleteCustomer)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/", s.handleListOrders)
			r.Post("/", s.handleCreateOrder)
			r.Get("/{id}", s.handleGetOrder)
			r.Put("/{id}", s.handleUpdateOrder)
			r.Delete("/{id}", s.handleDeleteOrder)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/charge", s.handleCharge)
			r.Post("/refund", s.handleRefund)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthCheck != nil {
		if err := s.deps.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

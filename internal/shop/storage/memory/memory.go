// Package memory holds mutex-guarded in-memory stores with the same contracts
// as the postgres ones. Used by tests and by DB_MODE=memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type Store struct {
	mu sync.Mutex

	customers  map[domain.CustomerID]domain.Customer
	categories map[domain.CategoryID]domain.Category
	products   map[domain.ProductID]*domain.Product
	orders     map[domain.OrderID]*domain.Order
	users      map[domain.UserID]domain.User
	byUsername map[string]domain.UserID
	idemKeys   map[string]domain.OrderID
}

func NewStore() *Store {
	return &Store{
		customers:  make(map[domain.CustomerID]domain.Customer),
		categories: make(map[domain.CategoryID]domain.Category),
		products:   make(map[domain.ProductID]*domain.Product),
		orders:     make(map[domain.OrderID]*domain.Order),
		users:      make(map[domain.UserID]domain.User),
		byUsername: make(map[string]domain.UserID),
		idemKeys:   make(map[string]domain.OrderID),
	}
}

// --- inventory.Ledger ---

func (s *Store) Reserve(ctx context.Context, id domain.ProductID, qty int32) (decimal.Decimal, error) {
	if qty <= 0 {
		return decimal.Zero, domain.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return decimal.Zero, domain.ErrProductNotFound
	}
	if p.Stock < qty {
		return decimal.Zero, domain.ErrInsufficientStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	return p.Price, nil
}

func (s *Store) Release(ctx context.Context, id domain.ProductID, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- customers ---

func (s *Store) CustomerExists(ctx context.Context, id domain.CustomerID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.customers[id]
	return ok, nil
}

func (s *Store) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = domain.CustomerID(uuid.NewString())
	}
	c.CreatedAt = time.Now().UTC()
	s.customers[c.ID] = *c
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id domain.CustomerID) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.customers[c.ID]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	c.CreatedAt = stored.CreatedAt
	s.customers[c.ID] = *c
	return nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id domain.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return domain.ErrCustomerNotFound
	}
	delete(s.customers, id)
	return nil
}

// --- categories ---

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = domain.CategoryID(uuid.NewString())
	}
	s.categories[c.ID] = *c
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id domain.CategoryID) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, domain.ErrCategoryNotFound
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c *domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; !ok {
		return domain.ErrCategoryNotFound
	}
	s.categories[c.ID] = *c
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, id domain.CategoryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return domain.ErrCategoryNotFound
	}
	delete(s.categories, id)
	return nil
}

// --- products ---

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CategoryID != "" {
		if _, ok := s.categories[p.CategoryID]; !ok {
			return domain.ErrCategoryNotFound
		}
	}
	if p.ID == "" {
		p.ID = domain.ProductID(uuid.NewString())
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	return out, nil
}

// UpdateProduct never touches stock; only the ledger operations mutate it.
func (s *Store) UpdateProduct(ctx context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.products[p.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.CategoryID != "" {
		if _, ok := s.categories[p.CategoryID]; !ok {
			return domain.ErrCategoryNotFound
		}
	}
	stored.Name = p.Name
	stored.Description = p.Description
	stored.Price = p.Price
	stored.CategoryID = p.CategoryID
	stored.UpdatedAt = time.Now().UTC()
	*p = *stored
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id domain.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

// --- orders ---

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = make([]domain.OrderLine, len(o.Lines))
	copy(cp.Lines, o.Lines)
	return &cp
}

func (s *Store) Insert(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) Find(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) List(ctx context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

// Update applies optimistic concurrency: the caller's version must match the
// stored one, and the stored version advances on success.
func (s *Store) Update(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return domain.ErrVersionConflict
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) Remove(ctx context.Context, id domain.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[u.Username]; ok {
		return domain.ErrUsernameTaken
	}
	if u.ID == "" {
		u.ID = domain.UserID(uuid.NewString())
	}
	u.CreatedAt = time.Now().UTC()
	s.users[u.ID] = *u
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := s.users[id]
	return &u, nil
}

// --- idempotency ---

func (s *Store) LookupIdempotencyKey(ctx context.Context, key string) (domain.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idemKeys[key]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return id, nil
}

func (s *Store) SaveIdempotencyKey(ctx context.Context, key string, id domain.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idemKeys[key] = id
	return nil
}

package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type CustomerStore struct {
	pool *pgxpool.Pool
}

func NewCustomerStore(pool *pgxpool.Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

func (s *CustomerStore) CustomerExists(ctx context.Context, id domain.CustomerID) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, string(id)).Scan(&exists)
	return exists, err
}

func (s *CustomerStore) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if c.ID == "" {
		c.ID = domain.CustomerID(uuid.NewString())
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO customers(id, name, email, phone, address) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		string(c.ID), c.Name, c.Email, c.Phone, c.Address,
	).Scan(&c.CreatedAt)
}

func (s *CustomerStore) GetCustomer(ctx context.Context, id domain.CustomerID) (*domain.Customer, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	c := domain.Customer{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT name, email, phone, address, created_at FROM customers WHERE id = $1`, string(id),
	).Scan(&c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CustomerStore) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT id, name, email, phone, address, created_at FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		var id string
		if err := rows.Scan(&id, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ID = domain.CustomerID(id)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CustomerStore) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx,
		`UPDATE customers SET name = $2, email = $3, phone = $4, address = $5 WHERE id = $1`,
		string(c.ID), c.Name, c.Email, c.Phone, c.Address,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (s *CustomerStore) DeleteCustomer(ctx context.Context, id domain.CustomerID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type ProductStore struct {
	pool *pgxpool.Pool
}

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// CreateProduct sets the initial stock; after this point only the ledger
// touches the counter.
func (s *ProductStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if p.ID == "" {
		p.ID = domain.ProductID(uuid.NewString())
	}
	var category any
	if p.CategoryID != "" {
		category = string(p.CategoryID)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO products(id, name, description, price, stock, category_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		string(p.ID), p.Name, p.Description, p.Price.String(), p.Stock, category,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil && isForeignKeyViolation(err) {
		return domain.ErrCategoryNotFound
	}
	return err
}

func (s *ProductStore) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	p := domain.Product{ID: id}
	var priceText string
	var category *string
	err := s.pool.QueryRow(ctx,
		`SELECT name, description, price::text, stock, category_id, created_at, updated_at
		 FROM products WHERE id = $1`, string(id),
	).Scan(&p.Name, &p.Description, &priceText, &p.Stock, &category, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(priceText); err != nil {
		return nil, fmt.Errorf("product %s: bad price: %w", id, err)
	}
	if category != nil {
		p.CategoryID = domain.CategoryID(*category)
	}
	return &p, nil
}

func (s *ProductStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, price::text, stock, category_id, created_at, updated_at
		 FROM products ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		var id, priceText string
		var category *string
		if err := rows.Scan(&id, &p.Name, &p.Description, &priceText, &p.Stock, &category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = domain.ProductID(id)
		if p.Price, err = decimal.NewFromString(priceText); err != nil {
			return nil, fmt.Errorf("product %s: bad price: %w", id, err)
		}
		if category != nil {
			p.CategoryID = domain.CategoryID(*category)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProduct deliberately omits the stock column.
func (s *ProductStore) UpdateProduct(ctx context.Context, p *domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var category any
	if p.CategoryID != "" {
		category = string(p.CategoryID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET name = $2, description = $3, price = $4, category_id = $5, updated_at = now()
		 WHERE id = $1`,
		string(p.ID), p.Name, p.Description, p.Price.String(), category,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCategoryNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (s *ProductStore) DeleteProduct(ctx context.Context, id domain.ProductID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

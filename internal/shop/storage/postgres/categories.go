package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type CategoryStore struct {
	pool *pgxpool.Pool
}

func NewCategoryStore(pool *pgxpool.Pool) *CategoryStore {
	return &CategoryStore{pool: pool}
}

func (s *CategoryStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if c.ID == "" {
		c.ID = domain.CategoryID(uuid.NewString())
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories(id, name, description) VALUES ($1, $2, $3)`,
		string(c.ID), c.Name, c.Description,
	)
	return err
}

func (s *CategoryStore) GetCategory(ctx context.Context, id domain.CategoryID) (*domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	c := domain.Category{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT name, description FROM categories WHERE id = $1`, string(id),
	).Scan(&c.Name, &c.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCategoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CategoryStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT id, name, description FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		var id string
		if err := rows.Scan(&id, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		c.ID = domain.CategoryID(id)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CategoryStore) UpdateCategory(ctx context.Context, c *domain.Category) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx,
		`UPDATE categories SET name = $2, description = $3 WHERE id = $1`,
		string(c.ID), c.Name, c.Description,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

func (s *CategoryStore) DeleteCategory(ctx context.Context, id domain.CategoryID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

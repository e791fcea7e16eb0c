package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func (s *UserStore) CreateUser(ctx context.Context, u *domain.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if u.ID == "" {
		u.ID = domain.UserID(uuid.NewString())
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users(id, username, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		string(u.ID), u.Username, u.PasswordHash, u.Role,
	).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrUsernameTaken
	}
	return err
}

func (s *UserStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var u domain.User
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`, username,
	).Scan(&id, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.ID = domain.UserID(id)
	return &u, nil
}

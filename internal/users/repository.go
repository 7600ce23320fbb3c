package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantkeeper/grantkeeper/internal/platform/httpx"
	"github.com/grantkeeper/grantkeeper/internal/rbac"
)

var (
	// ErrEmailTaken is returned when an account with the email already exists.
	ErrEmailTaken = fmt.Errorf("users: email already registered: %w", httpx.ErrDuplicate)
	// ErrNotFound is returned when no account matches.
	ErrNotFound = fmt.Errorf("users: not found: %w", httpx.ErrNotFound)
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an account. Duplicate emails yield ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, email, passwordHash string, role rbac.Role, createdBy *int64) (User, error) {
	u := User{Email: email, Role: role, CreatedBy: createdBy}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, email, passwordHash, role.String(), createdBy).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

// CreateSuperadmin inserts the superadmin unless one already exists. It
// reports whether a row was inserted.
func (r *Repository) CreateSuperadmin(ctx context.Context, email, passwordHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, 'superadmin')
		ON CONFLICT DO NOTHING`, email, passwordHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches one account by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	var (
		u    User
		role string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, email, role, created_by, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &role, &u.CreatedBy, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if u.Role, err = rbac.ParseRole(role); err != nil {
		return User{}, err
	}
	return u, nil
}

// Package postgres provides PostgreSQL implementation of the identity repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/identity"
	"github.com/homa-clinic/booking/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
)

// Repository implements the identity.Repository interface using PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts a new user. The email unique constraint decides duplicates.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Phone,
		string(user.Role),
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return identity.ErrEmailExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, first_name, last_name, phone, role, created_at
		FROM users
		WHERE id = $1
	`
	return r.getUser(ctx, query, id)
}

// GetUserByEmail retrieves a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, first_name, last_name, phone, role, created_at
		FROM users
		WHERE email = $1
	`
	return r.getUser(ctx, query, email)
}

// ListUsersByRole returns users of the given role ordered by name.
// The password hash is not selected.
func (r *Repository) ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `
		SELECT id, email, first_name, last_name, phone, role, created_at
		FROM users
		WHERE role = $1
		ORDER BY last_name, first_name
	`
	rows, err := r.db.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		var userRole string
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.FirstName,
			&user.LastName,
			&user.Phone,
			&userRole,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.Role = domain.Role(userRole)
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// CountUsersByRole returns the number of users with the given role.
func (r *Repository) CountUsersByRole(ctx context.Context, role domain.Role) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE role = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, string(role)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users by role: %w", err)
	}
	return count, nil
}

func (r *Repository) getUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var user domain.User
	var role string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.Role = domain.Role(role)
	return &user, nil
}

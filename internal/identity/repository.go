package identity

import (
	"context"

	"github.com/homa-clinic/booking/internal/domain"
)

// Repository defines the interface for user storage.
type Repository interface {
	// CreateUser inserts the user and fills ID and CreatedAt.
	// Returns ErrEmailExists when the email is already taken.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// ListUsersByRole returns users without their password hash.
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	CountUsersByRole(ctx context.Context, role domain.Role) (int, error)
}

// Authenticator issues and verifies bearer tokens.
type Authenticator interface {
	IssueToken(ctx context.Context, user *domain.User) (*domain.Token, error)
	VerifyToken(ctx context.Context, token string) (*domain.Claims, error)
}

// Package identity provides user registration, authentication and token verification.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/pkg/ctxlog"
	"github.com/homa-clinic/booking/internal/pkg/metrics"
	"github.com/homa-clinic/booking/internal/pkg/validation"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultBcryptCost is the work factor used for password hashes.
const DefaultBcryptCost = 12

// Config holds identity service settings.
type Config struct {
	BcryptCost int
	// AllowSelfAssignedRoles lets public registration pick doctor or admin.
	AllowSelfAssignedRoles bool
}

// Service implements identity business logic.
type Service struct {
	repo      Repository
	auth      Authenticator
	validator *validation.Validator
	config    Config
	dummyHash []byte
}

// NewService creates a new identity service.
func NewService(repo Repository, auth Authenticator, config Config) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = DefaultBcryptCost
	}

	// Compared against on unknown emails so both login failures cost the same.
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), config.BcryptCost)
	if err != nil {
		slog.Warn("failed to generate dummy password hash", "error", err)
	}

	return &Service{
		repo:      repo,
		auth:      auth,
		validator: validation.New(),
		config:    config,
		dummyHash: dummyHash,
	}
}

// RegisterInput contains data for creating a user.
type RegisterInput struct {
	Email     string      `json:"email" validate:"required,email"`
	Password  string      `json:"password" validate:"required,min=6,maxbytes=72"`
	FirstName string      `json:"first_name" validate:"required,max=100"`
	LastName  string      `json:"last_name" validate:"required,max=100"`
	Phone     string      `json:"phone,omitempty" validate:"omitempty,max=20"`
	Role      domain.Role `json:"role,omitempty" validate:"omitempty,oneof=admin doctor patient"`
}

func (in RegisterInput) normalized() RegisterInput {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	return in
}

// LoginInput contains credentials for authentication.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register creates a patient account from a public sign-up.
// Roles other than patient are refused unless AllowSelfAssignedRoles is set.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	user, err := s.createUser(ctx, input, s.config.AllowSelfAssignedRoles)
	switch {
	case err == nil:
		metrics.RecordAuthAttempt("register", metrics.ResultSuccess)
	case errors.Is(err, ErrStore):
		metrics.RecordAuthAttempt("register", metrics.ResultError)
	default:
		metrics.RecordAuthAttempt("register", metrics.ResultRejected)
	}
	return user, err
}

// CreateUser creates an account with any role. Callers must be privileged.
func (s *Service) CreateUser(ctx context.Context, input RegisterInput) (*domain.User, error) {
	return s.createUser(ctx, input, true)
}

func (s *Service) createUser(ctx context.Context, input RegisterInput, anyRole bool) (*domain.User, error) {
	input = input.normalized()
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = domain.RolePatient
	}
	if role != domain.RolePatient && !anyRole {
		return nil, ErrRoleNotAllowed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        input.Email,
		PasswordHash: string(hash),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         role,
	}
	if input.Phone != "" {
		phone := input.Phone
		user.Phone = &phone
	}

	// Uniqueness is left to the store constraint; a pre-check would race.
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("%w: create user: %w", ErrStore, err)
	}

	ctxlog.FromContext(ctx).Info("user registered", "user_id", user.ID, "role", user.Role)

	return user, nil
}

// Authenticate verifies credentials and issues a session token.
// Unknown email and wrong password both return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, input LoginInput) (*domain.Token, *domain.UserSummary, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
			metrics.RecordAuthAttempt("login", metrics.ResultRejected)
			return nil, nil, ErrInvalidCredentials
		}
		metrics.RecordAuthAttempt("login", metrics.ResultError)
		return nil, nil, fmt.Errorf("%w: get user by email: %w", ErrStore, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		metrics.RecordAuthAttempt("login", metrics.ResultRejected)
		return nil, nil, ErrInvalidCredentials
	}

	token, err := s.auth.IssueToken(ctx, user)
	if err != nil {
		metrics.RecordAuthAttempt("login", metrics.ResultError)
		return nil, nil, fmt.Errorf("issue token: %w", err)
	}

	metrics.RecordAuthAttempt("login", metrics.ResultSuccess)
	return token, user.Summary(), nil
}

// VerifyToken validates a bearer token and returns its claims.
// It does not touch the store.
func (s *Service) VerifyToken(ctx context.Context, token string) (*domain.Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrMissingToken
	}
	return s.auth.VerifyToken(ctx, token)
}

// GetUserByID retrieves a user by ID.
func (s *Service) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: get user by id: %w", ErrStore, err)
	}
	return user, nil
}

// ListDoctors returns every user with the doctor role.
func (s *Service) ListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	users, err := s.repo.ListUsersByRole(ctx, domain.RoleDoctor)
	if err != nil {
		return nil, fmt.Errorf("%w: list doctors: %w", ErrStore, err)
	}

	doctors := make([]domain.Doctor, 0, len(users))
	for _, u := range users {
		doctors = append(doctors, domain.Doctor{
			ID:        u.ID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
		})
	}
	return doctors, nil
}

// EnsureAdmin creates the bootstrap admin account if no admin exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	count, err := s.repo.CountUsersByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	user, err := s.CreateUser(ctx, RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Admin",
		LastName:  "User",
		Role:      domain.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			slog.Warn("bootstrap admin email belongs to a non-admin user, skipping", "email", email)
			return nil
		}
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	slog.Info("bootstrap admin created", "email", user.Email, "user_id", user.ID)
	return nil
}

// normalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func normalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

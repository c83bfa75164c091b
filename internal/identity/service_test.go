package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/identity/jwt"
	"github.com/homa-clinic/booking/internal/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// mockRepository is an in-memory Repository. Email uniqueness is checked
// under the same lock as the insert, like a unique constraint.
type mockRepository struct {
	mu            sync.Mutex
	users         map[string]*domain.User
	nextID        int
	createUserErr error
	getByEmailErr error
	emailLookups  int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockRepository) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createUserErr != nil {
		return m.createUserErr
	}
	if _, ok := m.users[user.Email]; ok {
		return ErrEmailExists
	}
	m.nextID++
	user.ID = fmt.Sprintf("user-%d", m.nextID)
	user.CreatedAt = time.Now().UTC()
	stored := *user
	m.users[user.Email] = &stored
	return nil
}

func (m *mockRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ID == id {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emailLookups++
	if m.getByEmailErr != nil {
		return nil, m.getByEmailErr
	}
	if u, ok := m.users[email]; ok {
		found := *u
		return &found, nil
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) ListUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []domain.User
	for _, u := range m.users {
		if u.Role == role {
			found := *u
			found.PasswordHash = ""
			users = append(users, found)
		}
	}
	return users, nil
}

func (m *mockRepository) CountUsersByRole(_ context.Context, role domain.Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, u := range m.users {
		if u.Role == role {
			count++
		}
	}
	return count, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, cfg Config) (*Service, *mockRepository, *fakeClock) {
	t.Helper()

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	auth := jwt.NewAuthenticator(jwt.Config{SecretKey: "test-secret-key-that-is-long-enough"}, jwt.WithTimeFunc(clock.Now))
	repo := newMockRepository()

	return NewService(repo, auth, cfg), repo, clock
}

func validInput(email string) RegisterInput {
	return RegisterInput{
		Email:     email,
		Password:  "secret123",
		FirstName: "Jane",
		LastName:  "Doe",
	}
}

func TestRegisterThenAuthenticate(t *testing.T) {
	tests := []struct {
		name string
		role domain.Role
	}{
		{"default role", ""},
		{"patient", domain.RolePatient},
		{"doctor", domain.RoleDoctor},
		{"admin", domain.RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newTestService(t, Config{AllowSelfAssignedRoles: true})
			ctx := context.Background()

			input := validInput("jane@example.com")
			input.Role = tt.role
			user, err := service.Register(ctx, input)
			require.NoError(t, err)

			wantRole := tt.role
			if wantRole == "" {
				wantRole = domain.RolePatient
			}
			assert.Equal(t, wantRole, user.Role)

			token, summary, err := service.Authenticate(ctx, LoginInput{Email: "jane@example.com", Password: "secret123"})
			require.NoError(t, err)
			assert.Equal(t, user.ID, summary.ID)

			claims, err := service.VerifyToken(ctx, token.Value)
			require.NoError(t, err)
			assert.Equal(t, "jane@example.com", claims.Email)
			assert.Equal(t, wantRole, claims.Role)
			assert.Equal(t, user.ID, claims.UserID)
		})
	}
}

func TestRegister_NormalizesEmail(t *testing.T) {
	service, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	user, err := service.Register(ctx, validInput("  Jane.Doe@Example.COM "))
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.com", user.Email)

	_, _, err = service.Authenticate(ctx, LoginInput{Email: "JANE.DOE@example.com", Password: "secret123"})
	assert.NoError(t, err)
}

func TestRegister_StoresPhone(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})

	input := validInput("jane@example.com")
	input.Phone = " +1 555 0100 "
	user, err := service.Register(context.Background(), input)
	require.NoError(t, err)

	require.NotNil(t, user.Phone)
	assert.Equal(t, "+1 555 0100", *user.Phone)
	assert.Equal(t, "+1 555 0100", *repo.users["jane@example.com"].Phone)
}

func TestRegister_HashesWithDefaultCost(t *testing.T) {
	repo := newMockRepository()
	auth := jwt.NewAuthenticator(jwt.Config{SecretKey: "test-secret-key-that-is-long-enough"})
	service := NewService(repo, auth, Config{})

	_, err := service.Register(context.Background(), validInput("jane@example.com"))
	require.NoError(t, err)

	stored := repo.users["jane@example.com"]
	assert.NotEqual(t, "secret123", stored.PasswordHash)

	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, cost)
}

func TestRegister_EmailAlreadyExists(t *testing.T) {
	service, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := service.Register(ctx, validInput("jane@example.com"))
	require.NoError(t, err)

	user, err := service.Register(ctx, validInput("JANE@example.com"))
	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestRegister_ConcurrentDuplicates(t *testing.T) {
	service, _, _ := newTestService(t, Config{})

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Register(context.Background(), validInput("race@example.com"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrEmailExists):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestRegister_ValidationErrors(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})

	user, err := service.Register(context.Background(), RegisterInput{
		Email:     "not-an-email",
		Password:  "short",
		FirstName: "",
		LastName:  "Doe",
	})

	assert.Nil(t, user)
	require.ErrorIs(t, err, validation.ErrInvalid)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("email"))
	assert.True(t, verr.Has("password"))
	assert.True(t, verr.Has("first_name"))
	assert.False(t, verr.Has("last_name"))
	assert.Empty(t, repo.users)
}

func TestRegister_PasswordLimitCountsBytes(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})

	// 40 characters, 80 bytes: over the bcrypt input limit.
	input := validInput("jane@example.com")
	input.Password = strings.Repeat("é", 40)

	user, err := service.Register(context.Background(), input)

	assert.Nil(t, user)
	require.ErrorIs(t, err, validation.ErrInvalid)
	assert.NotErrorIs(t, err, ErrStore)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []validation.FieldError{{Field: "password", Message: "must be at most 72 bytes"}}, verr.Fields)
	assert.Empty(t, repo.users)

	// 36 two-byte characters fit exactly.
	input.Password = strings.Repeat("é", 36)
	_, err = service.Register(context.Background(), input)
	assert.NoError(t, err)
}

func TestRegister_RoleNotAllowed(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})

	for _, role := range []domain.Role{domain.RoleDoctor, domain.RoleAdmin} {
		input := validInput(string(role) + "@example.com")
		input.Role = role

		user, err := service.Register(context.Background(), input)

		assert.Nil(t, user)
		assert.ErrorIs(t, err, ErrRoleNotAllowed)
	}
	assert.Empty(t, repo.users)
}

func TestRegister_UnknownRole(t *testing.T) {
	service, _, _ := newTestService(t, Config{AllowSelfAssignedRoles: true})

	input := validInput("jane@example.com")
	input.Role = "nurse"
	_, err := service.Register(context.Background(), input)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("role"))
}

func TestRegister_StoreFailure(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})
	repo.createUserErr = errors.New("connection reset")

	user, err := service.Register(context.Background(), validInput("jane@example.com"))

	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrStore)
	assert.NotErrorIs(t, err, ErrEmailExists)
}

func TestCreateUser_AllowsElevatedRoles(t *testing.T) {
	service, _, _ := newTestService(t, Config{})

	input := validInput("dr.house@example.com")
	input.Role = domain.RoleDoctor
	user, err := service.CreateUser(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, domain.RoleDoctor, user.Role)
}

func TestAuthenticate_FailuresAreIndistinguishable(t *testing.T) {
	service, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := service.Register(ctx, validInput("jane@example.com"))
	require.NoError(t, err)

	_, _, wrongPassword := service.Authenticate(ctx, LoginInput{Email: "jane@example.com", Password: "wrong-password"})
	_, _, unknownEmail := service.Authenticate(ctx, LoginInput{Email: "nobody@example.com", Password: "secret123"})

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})
	repo.getByEmailErr = errors.New("connection refused")

	_, _, err := service.Authenticate(context.Background(), LoginInput{Email: "jane@example.com", Password: "secret123"})

	assert.ErrorIs(t, err, ErrStore)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyToken_Expiry(t *testing.T) {
	service, _, clock := newTestService(t, Config{})
	ctx := context.Background()

	_, err := service.Register(ctx, validInput("jane@example.com"))
	require.NoError(t, err)
	token, _, err := service.Authenticate(ctx, LoginInput{Email: "jane@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(jwt.DefaultTokenDuration), token.ExpiresAt)

	_, err = service.VerifyToken(ctx, token.Value)
	require.NoError(t, err)

	clock.now = token.ExpiresAt.Add(time.Second)
	_, err = service.VerifyToken(ctx, token.Value)
	assert.ErrorIs(t, err, domain.ErrExpiredToken)
}

func TestVerifyToken_DoesNotTouchStore(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})

	_, err := service.VerifyToken(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMissingToken)

	_, err = service.VerifyToken(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	assert.Zero(t, repo.emailLookups)
}

func TestListDoctors(t *testing.T) {
	service, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := service.Register(ctx, validInput("patient@example.com"))
	require.NoError(t, err)

	doctor := validInput("doctor@example.com")
	doctor.Role = domain.RoleDoctor
	doctor.FirstName = "Gregory"
	created, err := service.CreateUser(ctx, doctor)
	require.NoError(t, err)

	doctors, err := service.ListDoctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Equal(t, domain.Doctor{
		ID:        created.ID,
		FirstName: "Gregory",
		LastName:  "Doe",
		Email:     "doctor@example.com",
	}, doctors[0])
}

func TestListDoctors_EmptyIsNotNil(t *testing.T) {
	service, _, _ := newTestService(t, Config{})

	doctors, err := service.ListDoctors(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, doctors)
	assert.Empty(t, doctors)
}

func TestGetUserByID(t *testing.T) {
	service, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	created, err := service.Register(ctx, validInput("jane@example.com"))
	require.NoError(t, err)

	user, err := service.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)

	_, err = service.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})
	ctx := context.Background()

	require.NoError(t, service.EnsureAdmin(ctx, "Admin@HomaClinic.com", "admin123"))

	admin, ok := repo.users["admin@homaclinic.com"]
	require.True(t, ok)
	assert.Equal(t, domain.RoleAdmin, admin.Role)

	// A second call is a no-op.
	require.NoError(t, service.EnsureAdmin(ctx, "other@homaclinic.com", "admin123"))
	count, err := repo.CountUsersByRole(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnsureAdmin_EmailTakenByPatient(t *testing.T) {
	service, repo, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := service.Register(ctx, validInput("admin@homaclinic.com"))
	require.NoError(t, err)

	require.NoError(t, service.EnsureAdmin(ctx, "admin@homaclinic.com", "admin123"))
	assert.Equal(t, domain.RolePatient, repo.users["admin@homaclinic.com"].Role)
}

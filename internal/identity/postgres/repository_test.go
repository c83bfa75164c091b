package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/identity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func userColumns() []string {
	return []string{"id", "email", "password_hash", "first_name", "last_name", "phone", "role", "created_at"}
}

func TestCreateUser(t *testing.T) {
	repo, mock := newTestRepository(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	phone := "+15550100"

	user := &domain.User{
		Email:        "jane@example.com",
		PasswordHash: "$2a$12$hash",
		FirstName:    "Jane",
		LastName:     "Doe",
		Phone:        &phone,
		Role:         domain.RolePatient,
	}

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("jane@example.com", "$2a$12$hash", "Jane", "Doe", &phone, "patient").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("user-1", createdAt))

	err := repo.CreateUser(context.Background(), user)

	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, createdAt, user.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	repo, mock := newTestRepository(t)

	user := &domain.User{Email: "jane@example.com", PasswordHash: "h", FirstName: "Jane", LastName: "Doe", Role: domain.RolePatient}

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("jane@example.com", "h", "Jane", "Doe", user.Phone, "patient").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := repo.CreateUser(context.Background(), user)

	assert.ErrorIs(t, err, identity.ErrEmailExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_OtherError(t *testing.T) {
	repo, mock := newTestRepository(t)

	user := &domain.User{Email: "jane@example.com", PasswordHash: "h", FirstName: "Jane", LastName: "Doe", Role: domain.RolePatient}

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("jane@example.com", "h", "Jane", "Doe", user.Phone, "patient").
		WillReturnError(errors.New("connection reset"))

	err := repo.CreateUser(context.Background(), user)

	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrEmailExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmail(t *testing.T) {
	repo, mock := newTestRepository(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var noPhone *string

	mock.ExpectQuery("SELECT .+ FROM users WHERE email =").
		WithArgs("doc@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns()).
			AddRow("user-2", "doc@example.com", "hash", "Gregory", "House", noPhone, "doctor", createdAt))

	user, err := repo.GetUserByEmail(context.Background(), "doc@example.com")

	require.NoError(t, err)
	assert.Equal(t, "user-2", user.ID)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.Equal(t, domain.RoleDoctor, user.Role)
	assert.Nil(t, user.Phone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByID_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	user, err := repo.GetUserByID(context.Background(), "missing")

	assert.Nil(t, user)
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersByRole(t *testing.T) {
	repo, mock := newTestRepository(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var noPhone *string

	mock.ExpectQuery("SELECT id, email, first_name, last_name, phone, role, created_at FROM users WHERE role =").
		WithArgs("doctor").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "first_name", "last_name", "phone", "role", "created_at"}).
			AddRow("d-1", "a@example.com", "Ann", "Adams", noPhone, "doctor", createdAt).
			AddRow("d-2", "b@example.com", "Bob", "Brown", noPhone, "doctor", createdAt))

	users, err := repo.ListUsersByRole(context.Background(), domain.RoleDoctor)

	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "d-1", users[0].ID)
	assert.Empty(t, users[0].PasswordHash)
	assert.Equal(t, domain.RoleDoctor, users[1].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUsersByRole(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("admin").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountUsersByRole(context.Background(), domain.RoleAdmin)

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

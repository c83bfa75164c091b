// Package postgres provides PostgreSQL implementation of the appointments repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/homa-clinic/booking/internal/appointments"
	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, duration_minutes, status, notes, created_at, updated_at`

// Repository implements the appointments.Repository interface using PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new appointment.
func (r *Repository) Create(ctx context.Context, a *domain.Appointment) error {
	query := `
		INSERT INTO appointments (patient_id, doctor_id, scheduled_at, duration_minutes, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		a.PatientID,
		a.DoctorID,
		a.ScheduledAt,
		a.DurationMinutes,
		string(a.Status),
		a.Notes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// GetByID retrieves an appointment by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	a, err := scanAppointment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointments.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// List returns appointments matching filter ordered by scheduled_at.
func (r *Repository) List(ctx context.Context, filter appointments.ListFilter) ([]domain.Appointment, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.DoctorID != "" {
		args = append(args, filter.DoctorID)
		conditions = append(conditions, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY scheduled_at, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}

	return result, nil
}

// UpdateStatus moves an appointment from one status to another.
// The status guard in the WHERE clause rejects concurrent changes.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.AppointmentStatus) (*domain.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + appointmentColumns

	a, err := scanAppointment(r.db.QueryRow(ctx, query, id, string(from), string(to)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointments.ErrInvalidTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var a domain.Appointment
	var status string
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AppointmentStatus(status)
	return &a, nil
}

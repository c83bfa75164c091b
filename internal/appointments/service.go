// Package appointments provides booking of visits between patients and doctors.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/identity"
	"github.com/homa-clinic/booking/internal/pkg/ctxlog"
	"github.com/homa-clinic/booking/internal/pkg/metrics"
	"github.com/homa-clinic/booking/internal/pkg/validation"
)

// DefaultDurationMinutes is used when a booking does not specify a duration.
const DefaultDurationMinutes = 30

// Service implements appointment business logic.
type Service struct {
	repo      Repository
	users     UserLookup
	validator *validation.Validator
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to reject bookings in the past.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new appointments service.
func NewService(repo Repository, users UserLookup, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		users:     users,
		validator: validation.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput contains data for booking an appointment.
// PatientID is checked only for admin callers; patients' values are ignored.
type CreateInput struct {
	DoctorID        string    `json:"doctor_id" validate:"required,uuid"`
	PatientID       string    `json:"patient_id,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"omitempty,min=5,max=480"`
	Notes           string    `json:"notes,omitempty" validate:"max=1000"`
}

// UpdateStatusInput contains the requested status change.
type UpdateStatusInput struct {
	Status domain.AppointmentStatus `json:"status" validate:"required,oneof=scheduled confirmed cancelled completed"`
}

// Create books an appointment for the caller.
// Patients book for themselves; admins book on behalf of a patient.
func (s *Service) Create(ctx context.Context, caller *domain.Claims, input CreateInput) (*domain.Appointment, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}

	var patientID string
	switch caller.Role {
	case domain.RolePatient:
		patientID = caller.UserID
	case domain.RoleAdmin:
		if err := validatePatientID(input.PatientID); err != nil {
			return nil, err
		}
		patientID = input.PatientID
	default:
		return nil, ErrForbidden
	}

	if !input.ScheduledAt.After(s.now()) {
		return nil, ErrInvalidSchedule
	}

	if err := s.requireRole(ctx, input.DoctorID, domain.RoleDoctor, ErrDoctorNotFound); err != nil {
		return nil, err
	}
	if caller.Role == domain.RoleAdmin {
		if err := s.requireRole(ctx, patientID, domain.RolePatient, ErrPatientNotFound); err != nil {
			return nil, err
		}
	}

	duration := input.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}

	appointment := &domain.Appointment{
		PatientID:       patientID,
		DoctorID:        input.DoctorID,
		ScheduledAt:     input.ScheduledAt.UTC(),
		DurationMinutes: duration,
		Status:          domain.AppointmentStatusScheduled,
		Notes:           input.Notes,
	}
	if err := s.repo.Create(ctx, appointment); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	metrics.AppointmentsCreated.Inc()
	ctxlog.FromContext(ctx).Info("appointment booked",
		"appointment_id", appointment.ID,
		"doctor_id", appointment.DoctorID,
		"patient_id", appointment.PatientID,
	)

	return appointment, nil
}

func validatePatientID(id string) error {
	msg := ""
	switch {
	case id == "":
		msg = "is required"
	case uuid.Validate(id) != nil:
		msg = "must be a valid UUID"
	default:
		return nil
	}
	return &validation.Error{Fields: []validation.FieldError{{Field: "patient_id", Message: msg}}}
}

// requireRole checks that id belongs to a user with role, returning notFound otherwise.
func (s *Service) requireRole(ctx context.Context, id string, role domain.Role, notFound error) error {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return notFound
		}
		return fmt.Errorf("get user: %w", err)
	}
	if user.Role != role {
		return notFound
	}
	return nil
}

// List returns the appointments visible to the caller.
func (s *Service) List(ctx context.Context, caller *domain.Claims, status domain.AppointmentStatus) ([]domain.Appointment, error) {
	if status != "" && !status.IsValid() {
		return nil, &validation.Error{Fields: []validation.FieldError{
			{Field: "status", Message: "must be one of: scheduled confirmed cancelled completed"},
		}}
	}

	filter := ListFilter{Status: status}
	switch caller.Role {
	case domain.RolePatient:
		filter.PatientID = caller.UserID
	case domain.RoleDoctor:
		filter.DoctorID = caller.UserID
	case domain.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	appointments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// Get returns an appointment if the caller may see it.
// Appointments of other users look the same as missing ones.
func (s *Service) Get(ctx context.Context, caller *domain.Claims, id string) (*domain.Appointment, error) {
	appointment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	if !visibleTo(appointment, caller) {
		return nil, ErrAppointmentNotFound
	}
	return appointment, nil
}

// UpdateStatus changes the status of an appointment the caller can see.
func (s *Service) UpdateStatus(ctx context.Context, caller *domain.Claims, id string, input UpdateStatusInput) (*domain.Appointment, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}

	appointment, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if appointment.Status.IsTerminal() || appointment.Status == input.Status {
		return nil, ErrInvalidTransition
	}
	if !canTransition(caller.Role, input.Status) {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appointment.Status, input.Status)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	ctxlog.FromContext(ctx).Info("appointment status changed",
		"appointment_id", id,
		"from", appointment.Status,
		"to", updated.Status,
	)

	return updated, nil
}

func visibleTo(a *domain.Appointment, caller *domain.Claims) bool {
	switch caller.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleDoctor:
		return a.DoctorID == caller.UserID
	case domain.RolePatient:
		return a.PatientID == caller.UserID
	}
	return false
}

// canTransition reports whether role may move a visible, non-terminal
// appointment into status.
func canTransition(role domain.Role, status domain.AppointmentStatus) bool {
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleDoctor:
		return status == domain.AppointmentStatusConfirmed ||
			status == domain.AppointmentStatusCompleted ||
			status == domain.AppointmentStatusCancelled
	case domain.RolePatient:
		return status == domain.AppointmentStatusCancelled
	}
	return false
}

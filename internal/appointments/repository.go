package appointments

import (
	"context"

	"github.com/homa-clinic/booking/internal/domain"
)

// ListFilter narrows an appointment listing. Empty fields do not filter.
type ListFilter struct {
	PatientID string
	DoctorID  string
	Status    domain.AppointmentStatus
}

// Repository defines the interface for appointment storage.
type Repository interface {
	// Create inserts the appointment and fills ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, appointment *domain.Appointment) error
	GetByID(ctx context.Context, id string) (*domain.Appointment, error)
	// List returns matching appointments ordered by scheduled_at.
	List(ctx context.Context, filter ListFilter) ([]domain.Appointment, error)
	// UpdateStatus moves the appointment from one status to another.
	// It returns ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to domain.AppointmentStatus) (*domain.Appointment, error)
}

// UserLookup resolves the accounts an appointment refers to.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

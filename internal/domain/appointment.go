package domain

import "time"

// AppointmentStatus represents the lifecycle state of an appointment.
type AppointmentStatus string

// Appointment statuses.
const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// IsValid checks if the appointment status is valid.
func (s AppointmentStatus) IsValid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed,
		AppointmentStatusCancelled, AppointmentStatusCompleted:
		return true
	}
	return false
}

// IsTerminal returns true if no further status change is allowed.
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusCompleted
}

// Appointment is a booked visit of a patient with a doctor.
type Appointment struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patient_id"`
	DoctorID        string            `json:"doctor_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

package appointments

import "errors"

// Appointment errors.
var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidSchedule     = errors.New("scheduled_at must be in the future")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Package domain contains the core types shared across modules.
package domain

import "time"

// Role is the access level of a user account.
type Role string

// User roles.
const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// IsValid checks if the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Satisfies reports whether r is one of allowed.
// Admin satisfies every role.
func (r Role) Satisfies(allowed ...Role) bool {
	if r == RoleAdmin {
		return true
	}
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        *string   `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary returns the public part of the user returned on login.
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// UserSummary is the login view of a user.
type UserSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
}

// Doctor is the listing view of a user with the doctor role.
type Doctor struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

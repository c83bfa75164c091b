package identity

import "errors"

// Identity errors.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoleNotAllowed     = errors.New("role assignment not allowed")
	ErrStore              = errors.New("store error")
)

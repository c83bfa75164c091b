package domain

import (
	"errors"
	"time"
)

// Token verification errors.
var (
	ErrMissingToken = errors.New("access token required")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Token is a signed bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	UserID    string
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

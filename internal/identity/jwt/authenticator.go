// Package jwt provides HS256 bearer tokens for the identity module.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/homa-clinic/booking/internal/domain"
)

// DefaultTokenDuration is how long an issued token stays valid.
const DefaultTokenDuration = 24 * time.Hour

const defaultIssuer = "homa-clinic"

// Config holds token settings.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
	Issuer        string
}

// Authenticator signs and verifies session tokens.
type Authenticator struct {
	secret   []byte
	duration time.Duration
	issuer   string
	now      func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithTimeFunc overrides the clock used for issuing and verifying tokens.
func WithTimeFunc(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates a new token authenticator.
func NewAuthenticator(cfg Config, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:   []byte(cfg.SecretKey),
		duration: cfg.TokenDuration,
		issuer:   cfg.Issuer,
		now:      time.Now,
	}
	if a.duration <= 0 {
		a.duration = DefaultTokenDuration
	}
	if a.issuer == "" {
		a.issuer = defaultIssuer
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type claims struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken creates a signed token for the user.
func (a *Authenticator) IssueToken(_ context.Context, user *domain.User) (*domain.Token, error) {
	now := a.now()
	expiresAt := now.Add(a.duration)

	c := claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &domain.Token{
		Value:     signed,
		ExpiresAt: c.ExpiresAt.Time.UTC(),
	}, nil
}

// VerifyToken checks the signature and expiry of a token.
// Expired tokens return domain.ErrExpiredToken; every other failure
// returns domain.ErrInvalidToken.
func (a *Authenticator) VerifyToken(_ context.Context, token string) (*domain.Claims, error) {
	if token == "" {
		return nil, domain.ErrMissingToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, a.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid || c.UserID == "" || !c.Role.IsValid() {
		return nil, domain.ErrInvalidToken
	}

	result := &domain.Claims{
		UserID:    c.UserID,
		Email:     c.Email,
		Role:      c.Role,
		ExpiresAt: c.ExpiresAt.Time.UTC(),
	}
	if c.IssuedAt != nil {
		result.IssuedAt = c.IssuedAt.Time.UTC()
	}
	return result, nil
}

func (a *Authenticator) keyFunc(_ *jwt.Token) (interface{}, error) {
	return a.secret, nil
}

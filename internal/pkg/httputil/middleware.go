package httputil

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/homa-clinic/booking/internal/domain"
	"github.com/homa-clinic/booking/internal/pkg/ctxlog"
)

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (originsSet[origin] || originsSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*domain.Claims, error)
}

// AuthMiddleware rejects requests without a valid bearer token and
// stores the verified claims in the request context.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				Error(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				Error(w, http.StatusUnauthorized, tokenErrorMessage(err))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = ctxlog.With(ctx, "user_id", claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an Authorization header value.
// An empty header yields an empty token; a non-bearer header is not ok.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", true
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingToken):
		return domain.ErrMissingToken.Error()
	case errors.Is(err, domain.ErrExpiredToken):
		return domain.ErrExpiredToken.Error()
	default:
		return domain.ErrInvalidToken.Error()
	}
}

// RequireRole creates RBAC middleware. Admin passes every check.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if !claims.Role.Satisfies(roles...) {
				Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *domain.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts verified token claims from context.
func GetClaims(ctx context.Context) *domain.Claims {
	if claims, ok := ctx.Value(claimsKey).(*domain.Claims); ok {
		return claims
	}
	return nil
}

// GetUserID extracts user ID from context.
func GetUserID(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// GetRole extracts role from context.
func GetRole(ctx context.Context) domain.Role {
	if claims := GetClaims(ctx); claims != nil {
		return claims.Role
	}
	return ""
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chartmaker/chartmaker/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticator validates a bearer token, including revocation.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*service.Claims, error)
}

type AuthMiddleware struct {
	auth   Authenticator
	logger *logrus.Logger
}

func NewAuthMiddleware(auth Authenticator, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		auth:   auth,
		logger: logger,
	}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondUnauthorized(w, "Missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondUnauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.auth.Authenticate(r.Context(), parts[1])
		if err != nil {
			if service.IsReason(err, service.ReasonSessionRevoked) {
				respondUnauthorized(w, "Session has been revoked")
				return
			}
			if !errors.Is(err, service.ErrInvalidToken) {
				m.logger.WithError(err).Error("Failed to authenticate request")
				respondJSON(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				return
			}
			m.logger.WithError(err).Debug("Token verification failed")
			respondUnauthorized(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims stores authenticated claims on ctx.
func WithClaims(ctx context.Context, claims *service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims set by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok && claims != nil
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func respondJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// Package middleware provides the HTTP middleware stack for the NeoGuard
// API: JWT authentication, relayer authentication, rate limiting, CORS,
// tracing, and metrics.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/neoguard/internal/errors"
	"github.com/R3E-Network/neoguard/internal/httputil"
	"github.com/R3E-Network/neoguard/internal/logging"
)

// Claims are the JWT claims NeoGuard accepts. NeoAddress is the caller
// identity every vault operation authorizes against.
type Claims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	NeoAddress string `json:"neo_address,omitempty"`
	AuthMethod string `json:"auth_method"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates bearer JWTs and threads the caller identity
// through the request context.
type AuthMiddleware struct {
	publicKey interface{}
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests to the
// skip paths pass through unauthenticated.
func NewAuthMiddleware(publicKey interface{}, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		publicKey: publicKey,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondMissingCredentials(w, r, "missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			m.respondMissingCredentials(w, r, "invalid Authorization header format")
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.UserID)
		ctx = logging.WithAddress(ctx, claims.NeoAddress)
		ctx = logging.WithRole(ctx, claims.Role)

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"auth_method": claims.AuthMethod,
		}).Debug("authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondMissingCredentials(w http.ResponseWriter, r *http.Request, message string) {
	httputil.Unauthorized(w, message)
	m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	}).Warn(message)
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteServiceError(w, r, err)

	se := errors.GetServiceError(err)
	status := http.StatusInternalServerError
	if se != nil {
		status = se.HTTPStatus
	}
	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": status,
	}).Warn("authentication failed")
}

// GetUserID extracts the authenticated subject from context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetCaller extracts the authenticated caller's Neo address from context.
// Handlers pass this as the caller identity on every vault operation.
func GetCaller(ctx context.Context) string {
	return logging.GetAddress(ctx)
}

// GetUserRole extracts the subject's role from context.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// RequireCaller rejects requests whose token carried no Neo address.
// Mutating vault routes sit behind it; an identity-less principal has
// nothing to authorize against.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetCaller(r.Context()) == "" {
			httputil.WriteServiceError(w, r, errors.Unauthorized("token carries no address"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

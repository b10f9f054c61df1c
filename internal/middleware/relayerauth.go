package middleware

import (
	"context"
	"crypto/rsa"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/neoguard/internal/errors"
	"github.com/R3E-Network/neoguard/internal/httputil"
	"github.com/R3E-Network/neoguard/internal/logging"
)

// RelayerTokenHeader carries the relayer's service token. Relayers submit
// signature-authorized emergency withdrawals on behalf of guardians who
// cannot reach the API themselves, so they authenticate as services, not
// as users.
const RelayerTokenHeader = "X-Relayer-Token"

// DefaultRelayerTokenExpiry is the default lifetime of minted relayer tokens.
const DefaultRelayerTokenExpiry = 1 * time.Hour

type relayerContextKey string

const relayerIDKey relayerContextKey = "relayer_id"

// RelayerClaims are the JWT claims of a relayer service token.
type RelayerClaims struct {
	RelayerID string `json:"relayer_id"`
	jwt.RegisteredClaims
}

// RelayerAuthMiddleware authenticates relay services by RS256 JWT.
type RelayerAuthMiddleware struct {
	publicKey       *rsa.PublicKey
	logger          *logging.Logger
	allowedRelayers map[string]bool

	mu              sync.RWMutex
	validatedTokens map[string]*cachedRelayerToken
}

type cachedRelayerToken struct {
	claims    *RelayerClaims
	expiresAt time.Time
}

// RelayerAuthConfig configures the relayer authentication middleware.
type RelayerAuthConfig struct {
	PublicKey *rsa.PublicKey
	Logger    *logging.Logger
	// AllowedRelayers restricts which relayer IDs may submit. Empty
	// allows any relayer with a valid token.
	AllowedRelayers []string
}

// NewRelayerAuthMiddleware creates a relayer authentication middleware.
func NewRelayerAuthMiddleware(cfg RelayerAuthConfig) *RelayerAuthMiddleware {
	allowed := make(map[string]bool)
	for _, id := range cfg.AllowedRelayers {
		allowed[id] = true
	}
	return &RelayerAuthMiddleware{
		publicKey:       cfg.PublicKey,
		logger:          cfg.Logger,
		allowedRelayers: allowed,
		validatedTokens: make(map[string]*cachedRelayerToken),
	}
}

// Handler returns the middleware handler.
func (m *RelayerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(RelayerTokenHeader)
		if token == "" {
			httputil.Unauthorized(w, "missing relayer token")
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("relayer token validation failed")
			httputil.WriteServiceError(w, r, err)
			return
		}

		if !m.isRelayerAllowed(claims.RelayerID) {
			m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
				"relayer_id": claims.RelayerID,
			}).Warn("relayer not in allowed list")
			httputil.WriteServiceError(w, r, errors.Unauthorized("relayer is not authorized"))
			return
		}

		ctx := context.WithValue(r.Context(), relayerIDKey, claims.RelayerID)
		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"relayer_id": claims.RelayerID,
		}).Debug("relayer authenticated")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *RelayerAuthMiddleware) validateToken(tokenString string) (*RelayerClaims, error) {
	if cached := m.getCachedToken(tokenString); cached != nil {
		return cached, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &RelayerClaims{}, func(token *jwt.Token) (interface{}, error) {
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

	claims, ok := token.Claims.(*RelayerClaims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.RelayerID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing relayer_id claim")
	}

	m.cacheToken(tokenString, claims)
	return claims, nil
}

func (m *RelayerAuthMiddleware) getCachedToken(tokenString string) *RelayerClaims {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cached, ok := m.validatedTokens[tokenString]
	if !ok || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.claims
}

func (m *RelayerAuthMiddleware) cacheToken(tokenString string, claims *RelayerClaims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Cache for 5 minutes or until the token itself expires, whichever
	// comes first.
	cacheExpiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(cacheExpiry) {
		cacheExpiry = claims.ExpiresAt.Time
	}
	m.validatedTokens[tokenString] = &cachedRelayerToken{claims: claims, expiresAt: cacheExpiry}

	if len(m.validatedTokens) > 1000 {
		m.cleanupCache()
	}
}

func (m *RelayerAuthMiddleware) cleanupCache() {
	now := time.Now()
	for key, cached := range m.validatedTokens {
		if now.After(cached.expiresAt) {
			delete(m.validatedTokens, key)
		}
	}
}

func (m *RelayerAuthMiddleware) isRelayerAllowed(relayerID string) bool {
	if len(m.allowedRelayers) == 0 {
		return true
	}
	return m.allowedRelayers[relayerID]
}

// RelayerTokenGenerator mints relayer service tokens. Relayer deployments
// hold the private key and plug GenerateToken into the API client's token
// source.
type RelayerTokenGenerator struct {
	privateKey *rsa.PrivateKey
	relayerID  string
	expiry     time.Duration
}

// NewRelayerTokenGenerator creates a token generator for one relayer.
func NewRelayerTokenGenerator(privateKey *rsa.PrivateKey, relayerID string, expiry time.Duration) *RelayerTokenGenerator {
	if expiry == 0 {
		expiry = DefaultRelayerTokenExpiry
	}
	return &RelayerTokenGenerator{
		privateKey: privateKey,
		relayerID:  relayerID,
		expiry:     expiry,
	}
}

// GenerateToken mints a fresh relayer token.
func (g *RelayerTokenGenerator) GenerateToken() (string, error) {
	now := time.Now()
	claims := &RelayerClaims{
		RelayerID: g.relayerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
			Issuer:    "neoguard",
			Subject:   g.relayerID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(g.privateKey)
}

// GetRelayerID extracts the authenticated relayer ID from context.
func GetRelayerID(ctx context.Context) string {
	if v, ok := ctx.Value(relayerIDKey).(string); ok {
		return v
	}
	return ""
}

// RequireRelayer rejects requests that did not pass relayer authentication.
func RequireRelayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRelayerID(r.Context()) == "" {
			httputil.Unauthorized(w, "relayer authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

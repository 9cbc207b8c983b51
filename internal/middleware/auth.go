package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	// ContextKeyPrincipal is the key for storing the caller in request context.
	ContextKeyPrincipal contextKey = "principal"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal identifies the caller of a request.
type Principal struct {
	UserID   string
	TenantID string
}

// Claims are the JWT claims humantask understands. The subject is the user id.
type Claims struct {
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware handles Bearer JWT authentication.
type AuthMiddleware struct {
	secret        []byte
	defaultTenant string
}

// NewAuthMiddleware creates a new AuthMiddleware. Tokens without a tenant
// claim act in defaultTenant.
func NewAuthMiddleware(secret []byte, defaultTenant string) *AuthMiddleware {
	return &AuthMiddleware{
		secret:        secret,
		defaultTenant: defaultTenant,
	}
}

// Authenticate validates the Bearer token and adds the principal to the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		principal, err := m.parse(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) parse(token string) (Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	tenant := claims.Tenant
	if tenant == "" {
		tenant = m.defaultTenant
	}
	return Principal{UserID: claims.Subject, TenantID: tenant}, nil
}

// IssueToken signs an HS256 token for userID in tenant. A zero ttl issues a
// token that never expires; a negative ttl issues one that is already expired.
func IssueToken(secret []byte, userID, tenant string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// GetPrincipalFromContext retrieves the authenticated caller from request context.
func GetPrincipalFromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(ContextKeyPrincipal).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

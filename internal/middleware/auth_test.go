package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func serve(t *testing.T, header string) (*httptest.ResponseRecorder, Principal) {
	t.Helper()
	var got Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipalFromContext(r.Context())
		require.NoError(t, err)
		got = p
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	NewAuthMiddleware(secret, "default-tenant").Authenticate(next).ServeHTTP(w, req)
	return w, got
}

func TestAuthenticate_ValidToken(t *testing.T) {
	token, err := IssueToken(secret, "alice", "acme", time.Hour)
	require.NoError(t, err)

	w, p := serve(t, "Bearer "+token)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, Principal{UserID: "alice", TenantID: "acme"}, p)
}

func TestAuthenticate_DefaultTenant(t *testing.T) {
	token, err := IssueToken(secret, "alice", "", 0)
	require.NoError(t, err)

	w, p := serve(t, "bearer "+token)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "default-tenant", p.TenantID)
}

func TestAuthenticate_Rejects(t *testing.T) {
	expired, err := IssueToken(secret, "alice", "acme", -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken([]byte("other-secret"), "alice", "acme", time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Tenant: "acme"}).SignedString(secret)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
		{"no subject", "Bearer " + noSubject},
		{"alg none", "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := serve(t, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestGetPrincipalFromContext_Missing(t *testing.T) {
	_, err := GetPrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIssueToken_Expiry(t *testing.T) {
	tests := []struct {
		name      string
		ttl       time.Duration
		expires   bool
		inThePast bool
	}{
		{"no expiry", 0, false, false},
		{"future", time.Hour, true, false},
		{"negative", -time.Minute, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := IssueToken(secret, "alice", "acme", tt.ttl)
			require.NoError(t, err)

			var claims Claims
			_, _, err = jwt.NewParser().ParseUnverified(token, &claims)
			require.NoError(t, err)

			if !tt.expires {
				assert.Nil(t, claims.ExpiresAt)
				return
			}
			require.NotNil(t, claims.ExpiresAt)
			assert.Equal(t, tt.inThePast, claims.ExpiresAt.Before(time.Now()))
		})
	}
}

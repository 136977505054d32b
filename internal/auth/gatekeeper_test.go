package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret     = "test-secret"
	fallbackSecret = "old-secret"
	internalKey    = "internal-key"
)

func newGatekeeper(t *testing.T) *Gatekeeper {
	t.Helper()
	g, err := NewGatekeeper([]string{testSecret, fallbackSecret}, internalKey, zap.NewNop())
	require.NoError(t, err)
	return g
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticateBearerHeader(t *testing.T) {
	g := newGatekeeper(t)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "name": "Ada", "role": "moderator"})

	r := httptest.NewRequest("GET", "/socket", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	id, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "Ada", id.Name)
	assert.Equal(t, "moderator", id.Role)
}

func TestAuthenticateQueryToken(t *testing.T) {
	g := newGatekeeper(t)
	token := signToken(t, testSecret, jwt.MapClaims{"id": "u2"})

	r := httptest.NewRequest("GET", "/socket?token="+token, nil)
	id, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.ID)
	assert.Equal(t, RoleUser, id.Role, "role defaults to user")
}

func TestAuthenticateSessionCookie(t *testing.T) {
	g := newGatekeeper(t)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u3"})

	for _, name := range sessionCookieNames {
		r := httptest.NewRequest("GET", "/socket", nil)
		r.AddCookie(&http.Cookie{Name: name, Value: token})

		id, err := g.Authenticate(r)
		require.NoError(t, err, "cookie %s", name)
		assert.Equal(t, "u3", id.ID)
	}
}

func TestAuthenticateNestedPayloads(t *testing.T) {
	g := newGatekeeper(t)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		wantID string
	}{
		{
			name:   "nested user object",
			claims: jwt.MapClaims{"user": map[string]interface{}{"id": "u4", "role": "admin"}},
			wantID: "u4",
		},
		{
			name:   "nested profile object",
			claims: jwt.MapClaims{"profile": map[string]interface{}{"userId": "u5"}},
			wantID: "u5",
		},
		{
			name:   "flat sub beats nested name fields",
			claims: jwt.MapClaims{"sub": "u6", "user": map[string]interface{}{"name": "Flat"}},
			wantID: "u6",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signToken(t, testSecret, tt.claims)
			r := httptest.NewRequest("GET", "/socket?token="+token, nil)
			id, err := g.Authenticate(r)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id.ID)
		})
	}
}

func TestAuthenticateSecretRotation(t *testing.T) {
	g := newGatekeeper(t)
	token := signToken(t, fallbackSecret, jwt.MapClaims{"sub": "u7"})

	r := httptest.NewRequest("GET", "/socket?token="+token, nil)
	id, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u7", id.ID)
}

func TestAuthenticateFailures(t *testing.T) {
	g := newGatekeeper(t)

	t.Run("no token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/socket", nil)
		_, err := g.Authenticate(r)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "someone-else", jwt.MapClaims{"sub": "u8"})
		r := httptest.NewRequest("GET", "/socket?token="+token, nil)
		_, err := g.Authenticate(r)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub": "u9",
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		r := httptest.NewRequest("GET", "/socket?token="+token, nil)
		_, err := g.Authenticate(r)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no identity in claims", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{"scope": "read"})
		r := httptest.NewRequest("GET", "/socket?token="+token, nil)
		_, err := g.Authenticate(r)
		assert.ErrorIs(t, err, ErrMissingIdentity)
	})
}

func TestAuthenticateInternalKey(t *testing.T) {
	g := newGatekeeper(t)

	r := httptest.NewRequest("GET", "/socket", nil)
	r.Header.Set("X-API-Key", internalKey)

	id, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "internal-test-user", id.ID)
	assert.Equal(t, RoleInternal, id.Role)

	r = httptest.NewRequest("GET", "/socket?apiKey="+internalKey, nil)
	id, err = g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "internal-test-user", id.ID)
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, Identity{Role: RoleAdmin}.HasRole(RoleModerator))
	assert.False(t, Identity{Role: RoleUser}.HasRole(RoleAdmin))
	assert.True(t, Identity{Role: "unknown"}.HasRole(RoleUser))

	assert.Equal(t, 100, Quota(RoleUser))
	assert.Equal(t, 200, Quota(RoleModerator))
	assert.Equal(t, 500, Quota(RoleAdmin))
	assert.Equal(t, 1000, Quota(RoleSuperAdmin))
	assert.Equal(t, 100, Quota("unknown"))
}

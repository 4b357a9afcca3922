package authz

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePublicKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwt.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func captureIdentity(t *testing.T, mw func(http.Handler) http.Handler, authHeader string) Identity {
	t.Helper()
	var got Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/approvals/pending", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestJWTIdentityMiddleware_Verified(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mw, err := JWTIdentityMiddleware(JWTConfig{
		PublicKeyPath: writePublicKey(t, key),
		RolesClaim:    "realm_access.roles",
		Issuer:        "https://issuer.example",
	})
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"sub":          "alice",
		"iss":          "https://issuer.example",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]interface{}{"roles": []interface{}{"consultor", "auditor"}},
	}

	t.Run("valid token", func(t *testing.T) {
		id := captureIdentity(t, mw, "Bearer "+signToken(t, key, claims))
		assert.Equal(t, "alice", id.User)
		assert.Equal(t, []string{"consultor", "auditor"}, id.Groups)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		id := captureIdentity(t, mw, "Bearer "+signToken(t, other, claims))
		assert.True(t, id.Anonymous())
	})

	t.Run("wrong issuer", func(t *testing.T) {
		bad := jwt.MapClaims{"sub": "alice", "iss": "https://evil.example"}
		id := captureIdentity(t, mw, "Bearer "+signToken(t, key, bad))
		assert.True(t, id.Anonymous())
	})

	t.Run("no token", func(t *testing.T) {
		id := captureIdentity(t, mw, "")
		assert.True(t, id.Anonymous())
	})
}

func TestJWTIdentityMiddleware_IgnoresIdentityHeadersWithoutToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPath := writePublicKey(t, key)

	serve := func(mw func(http.Handler) http.Handler, authHeader string) Identity {
		var got Identity
		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = IdentityFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodPost, "/approvals/wf-1/approve", nil)
		req.Header.Set("X-Remote-User", "mallory")
		req.Header.Set("X-Remote-Group", "admin")
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		return got
	}

	t.Run("verified mode", func(t *testing.T) {
		mw, err := JWTIdentityMiddleware(JWTConfig{PublicKeyPath: keyPath})
		require.NoError(t, err)

		id := serve(mw, "")
		assert.True(t, id.Anonymous())
		assert.Empty(t, id.Groups)

		id = serve(mw, "Bearer not-a-jwt")
		assert.True(t, id.Anonymous())
		assert.Empty(t, id.Groups)
	})

	t.Run("unverified mode", func(t *testing.T) {
		mw, err := JWTIdentityMiddleware(JWTConfig{})
		require.NoError(t, err)
		assert.True(t, serve(mw, "").Anonymous())
	})

	t.Run("token wins over headers", func(t *testing.T) {
		mw, err := JWTIdentityMiddleware(JWTConfig{PublicKeyPath: keyPath, TrustHeaders: true})
		require.NoError(t, err)
		id := serve(mw, "Bearer "+signToken(t, key, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		}))
		assert.Equal(t, "alice", id.User)
		assert.Empty(t, id.Groups)
	})

	t.Run("trusted headers", func(t *testing.T) {
		mw, err := JWTIdentityMiddleware(JWTConfig{PublicKeyPath: keyPath, TrustHeaders: true})
		require.NoError(t, err)
		id := serve(mw, "")
		assert.Equal(t, "mallory", id.User)
		assert.Equal(t, []string{"admin"}, id.Groups)
	})
}

func TestJWTIdentityMiddleware_TrustedProxy(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mw, err := JWTIdentityMiddleware(JWTConfig{})
	require.NoError(t, err)

	id := captureIdentity(t, mw, "Bearer "+signToken(t, key, jwt.MapClaims{"sub": "bob", "roles": "admin, consultor"}))
	assert.Equal(t, "bob", id.User)
	assert.Equal(t, []string{"admin", "consultor"}, id.Groups)

	id = captureIdentity(t, mw, "Bearer "+signToken(t, key, jwt.MapClaims{"roles": []interface{}{"admin"}}))
	assert.True(t, id.Anonymous(), "token without subject")

	id = captureIdentity(t, mw, "Basic dXNlcjpwYXNz")
	assert.True(t, id.Anonymous())
}

func TestJWTIdentityMiddleware_BadKeyPath(t *testing.T) {
	_, err := JWTIdentityMiddleware(JWTConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier("top-secret", "agrimanager")
	tok, err := v.Issue(Identity{UserID: "farmer-1", Role: RoleFarmer}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "farmer-1", Role: RoleFarmer}, id)
}

func TestVerifyDefaultsRoleToBuyer(t *testing.T) {
	v := NewJWTVerifier("top-secret", "")
	tok, err := v.Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, id.Role)
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("top-secret", "agrimanager")

	expired, err := v.Issue(Identity{UserID: "u1", Role: RoleBuyer}, -time.Minute)
	require.NoError(t, err)

	other, err := NewJWTVerifier("other-secret", "agrimanager").Issue(Identity{UserID: "u1", Role: RoleBuyer}, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := NewJWTVerifier("top-secret", "someone-else").Issue(Identity{UserID: "u1", Role: RoleBuyer}, time.Hour)
	require.NoError(t, err)

	badRole, err := v.Issue(Identity{UserID: "u1", Role: "root"}, time.Hour)
	require.NoError(t, err)

	noSubject, err := v.Issue(Identity{Role: RoleBuyer}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong secret": other,
		"wrong issuer": wrongIssuer,
		"unknown role": badRole,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	v := NewJWTVerifier("top-secret", "")
	tok, err := v.Issue(Identity{UserID: "buyer-7", Role: RoleBuyer}, time.Hour)
	require.NoError(t, err)

	var seen Identity
	h := Authenticate(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "buyer-7", seen.UserID)
	})

	t.Run("anonymous passes through", func(t *testing.T) {
		seen = Identity{UserID: "stale"}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, seen.Anonymous())
	})

	t.Run("invalid bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireIdentity(t *testing.T) {
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "u1", Role: RoleBuyer}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

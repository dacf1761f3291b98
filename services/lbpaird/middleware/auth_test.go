package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func adminClaims(scope string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "ops@lb",
		"iss":   "lb-auth",
		"aud":   "lbpaird",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestAuthenticatorMiddleware(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "lb-auth", Audience: "lbpaird"}, nil)
	require.NoError(t, err)

	var seen Principal
	handler := auth.Middleware("lb:admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	expired := adminClaims("lb:admin")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := adminClaims("lb:admin")
	wrongIssuer["iss"] = "elsewhere"
	noExpiry := adminClaims("lb:admin")
	delete(noExpiry, "exp")

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), adminClaims("read lb:admin")), http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong scope", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), adminClaims("read")), http.StatusForbidden},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), adminClaims("lb:admin")), http.StatusUnauthorized},
		{"unsigned", "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, adminClaims("lb:admin")), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/pairs/A/fees/collect", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
	require.Equal(t, "ops@lb", seen.Subject)
	require.Contains(t, seen.Scopes, "lb:admin")
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{HMACSecret: "  "}, nil)
	require.Error(t, err)
}

package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate(t *testing.T) {
	require.NoError(t, Init("test-secret", time.Hour))
	tok, err := Generate(Claims{UserID: "u1", Email: "a@b.co", Role: "driver", DriverID: "d1", Name: "Ana"})
	require.NoError(t, err)

	c, err := Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "d1", c.DriverID)
	assert.Equal(t, "driver", c.Role)
	assert.Equal(t, "u1", c.Subject)
}

func TestInitRequiresSecret(t *testing.T) {
	assert.Error(t, Init("", 0))
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	require.NoError(t, Init("test-secret", time.Hour))
	other, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, Claims{UserID: "u1"}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = Validate(other)
	assert.Error(t, err)
	_, err = Validate("garbage")
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))
}

func TestRequireRole(t *testing.T) {
	require.NoError(t, Init("test-secret", time.Hour))
	h := OptionalAuth(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	driverTok, _ := Generate(Claims{UserID: "u1", Role: "driver"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+driverTok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	adminTok, _ := Generate(Claims{UserID: "u2", Role: "admin"})
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

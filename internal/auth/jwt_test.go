package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT(testSecret, "ops")
	require.NoError(t, err)

	subject, err := ValidateJWT(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)
}

func TestGenerateJWTRequiresSecret(t *testing.T) {
	_, err := GenerateJWT("", "ops")
	assert.Error(t, err)
}

func TestValidateJWTRejects(t *testing.T) {
	token, err := GenerateJWT(testSecret, "ops")
	require.NoError(t, err)

	_, err = ValidateJWT("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateJWT(testSecret, "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ValidateJWT(testSecret, signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noneAlg := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "ops"})
	unsigned, err := noneAlg.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateJWT(testSecret, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("DELETE", "/api/v1/collection", nil)
	_, err := BearerToken(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Basic abc")
	_, err = BearerToken(r)
	assert.ErrorIs(t, err, ErrInvalidToken)

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, err := BearerToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

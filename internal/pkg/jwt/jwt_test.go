package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing"

func TestGenerateAndParse(t *testing.T) {
	for _, id := range []int64{1, 0, 9223372036854775807} {
		token, err := GenerateToken(id, testSecret, 24)
		require.NoError(t, err)

		claims, err := ParseToken(token, testSecret)
		require.NoError(t, err)
		assert.Equal(t, id, claims.UserID)
		assert.Equal(t, "kanchana", claims.Issuer)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken(5, testSecret, 24)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Equal(t, ErrInvalidToken, err)
}

func TestParseToken_Expired(t *testing.T) {
	claims := Claims{
		UserID: 5,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestParseToken_RejectsOtherMethods(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ParseToken(token, testSecret)
		assert.Equal(t, ErrInvalidToken, err)
	})

	t.Run("HS512", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 1}).
			SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = ParseToken(token, testSecret)
		assert.Equal(t, ErrInvalidToken, err)
	})
}

func TestParseToken_Garbage(t *testing.T) {
	for _, token := range []string{"", "abc", "a.b.c"} {
		_, err := ParseToken(token, testSecret)
		assert.Equal(t, ErrInvalidToken, err)
	}
}

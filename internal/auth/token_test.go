package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() Claims {
	return Claims{
		TenantID: "hotel-1",
		Name:     "Ann",
		Role:     domain.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthenticator_Parse(t *testing.T) {
	a := NewAuthenticator(testSecret)

	claims, err := a.Parse(signToken(t, testSecret, validClaims()))
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "hotel-1", claims.TenantID)
	assert.Equal(t, domain.RoleManager, claims.Role)
}

func TestAuthenticator_ParseRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator(testSecret)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := a.Parse(signToken(t, "other-secret", validClaims()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		_, err := a.Parse(signToken(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := a.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing tenant", func(t *testing.T) {
		claims := validClaims()
		claims.TenantID = ""
		_, err := a.Parse(signToken(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrMissingClaims)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := validClaims()
		claims.Subject = ""
		_, err := a.Parse(signToken(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrMissingClaims)
	})
}

func TestAuthenticator_ValidateToken(t *testing.T) {
	a := NewAuthenticator(testSecret)

	identity, err := a.ValidateToken(context.Background(), signToken(t, testSecret, validClaims()))
	require.NoError(t, err)

	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "hotel-1", identity.TenantID)
	assert.Equal(t, "Ann", identity.Name)
	assert.Equal(t, domain.RoleManager, identity.Role)
}

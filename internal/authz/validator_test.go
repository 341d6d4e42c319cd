package authz

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/esm-guard/internal/domain"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims domain.SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenValidator_Resolve(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewTokenValidator(&key.PublicKey)

	claims := domain.SessionClaims{
		DisplayName: "Admin",
		Roles:       []domain.Role{{Name: "admin"}},
		Permissions: map[string][]string{"users": {"read"}},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	identity, err := v.Resolve(context.Background(), "Bearer "+signToken(t, key, claims))
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity.ID)
	assert.Equal(t, "Admin", identity.DisplayName)
	assert.True(t, identity.HasRole("admin"))
	assert.True(t, identity.HasPermission("users", "read"))
}

func TestTokenValidator_RejectsExpired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewTokenValidator(&key.PublicKey)

	claims := domain.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}

	_, err = v.Resolve(context.Background(), signToken(t, key, claims))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTokenValidator_RejectsWrongKey(t *testing.T) {
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewTokenValidator(&otherKey.PublicKey)
	claims := domain.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	_, err = v.Resolve(context.Background(), signToken(t, signingKey, claims))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTokenValidator_RejectsGarbage(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewTokenValidator(&key.PublicKey)

	for _, token := range []string{"", "Bearer ", "Bearer not.a.jwt"} {
		_, err := v.Resolve(context.Background(), token)
		assert.ErrorIs(t, err, ErrNoSession)
	}
}

package authz

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/esm-guard/internal/domain"
)

// TokenValidator реализует SessionResolver поверх JWT, подписанных
// асимметричным ключом RS256. Identity целиком материализуется из claims:
// поход в БД на каждый запрос не нужен.
type TokenValidator struct {
	publicKey *rsa.PublicKey
}

func NewTokenValidator(pubKey *rsa.PublicKey) *TokenValidator {
	return &TokenValidator{publicKey: pubKey}
}

func (v *TokenValidator) Resolve(_ context.Context, tokenStr string) (*domain.Identity, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrNoSession
	}

	token, err := jwt.ParseWithClaims(tokenStr, &domain.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrNoSession
	}

	claims, ok := token.Claims.(*domain.SessionClaims)
	if !ok {
		return nil, ErrNoSession
	}

	identity := &domain.Identity{
		ID:          claims.Subject,
		DisplayName: claims.DisplayName,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if identity.Permissions == nil {
		identity.Permissions = make(map[string][]string)
	}
	return identity, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи токенов
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type SessionClaims struct {
	DisplayName string              `json:"display_name"`
	Roles       []Role              `json:"roles"`
	Permissions map[string][]string `json:"permissions"`
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type Account struct {
	ID           string              `json:"id"`
	Email        string              `json:"email"`
	Username     string              `json:"username"`
	DisplayName  string              `json:"display_name"`
	PasswordHash string              `json:"-"` // Никогда не отправляем на фронт
	Roles        []Role              `json:"roles"`
	Permissions  map[string][]string `json:"permissions"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// AsIdentity конвертирует учетку из БД в принципала запроса
func (a *Account) AsIdentity() *Identity {
	return &Identity{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Roles:       a.Roles,
		Permissions: a.Permissions,
	}
}

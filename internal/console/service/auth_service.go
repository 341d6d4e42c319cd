package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/domain"
)

type AccountProvider interface {
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error
}

// ClientInfo — сетевые атрибуты логина для событий безопасности
type ClientInfo struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

type AuthService struct {
	repo       AccountProvider
	recorder   *audit.Recorder
	scorer     *audit.RiskScorer
	privateKey *rsa.PrivateKey
	tokenTTL   time.Duration
	logger     *zap.Logger
}

func NewAuthService(repo AccountProvider, recorder *audit.Recorder, scorer *audit.RiskScorer, privateKey *rsa.PrivateKey, tokenTTL time.Duration, logger *zap.Logger) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		repo:       repo,
		recorder:   recorder,
		scorer:     scorer,
		privateKey: privateKey,
		tokenTTL:   tokenTTL,
		logger:     logger.Named("auth"),
	}
}

// GenerateToken аутентифицирует учетку и выдает RS256 токен.
// Каждая попытка логина оставляет SecurityEvent с рисковой оценкой;
// сбой записи события на исход логина не влияет.
func (s *AuthService) GenerateToken(ctx context.Context, username, password string, client ClientInfo) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды — Postgres)
	account, err := s.repo.GetAccountByUsername(ctx, username)
	if err != nil || account == nil {
		s.recordLogin(ctx, "", audit.EventLoginFailed, client, map[string]interface{}{
			"username": username,
			"reason":   "unknown_account",
		})
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.recordLogin(ctx, account.ID, audit.EventLoginFailed, client, map[string]interface{}{
			"username": username,
			"reason":   "bad_password",
		})
		return nil, errors.New("invalid credentials")
	}

	// 3. Claims: роли и права целиком едут в токен, чтобы гард
	// не ходил в базу на каждый запрос
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &domain.SessionClaims{
		DisplayName: account.DisplayName,
		Roles:       account.Roles,
		Permissions: account.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "esm-console",
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись закрытым ключом (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.recordLogin(ctx, account.ID, audit.EventLoginSuccess, client, map[string]interface{}{
		"username": username,
	})

	if err := s.repo.TouchLastLogin(ctx, account.ID, time.Now()); err != nil {
		s.logger.Warn("failed to update last_login", zap.Error(err))
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

func (s *AuthService) recordLogin(ctx context.Context, userID, eventType string, client ClientInfo, details map[string]interface{}) {
	risk := audit.DefaultRiskScore
	if userID != "" {
		risk = s.scorer.Score(ctx, userID, client.IP, client.UserAgent, eventType)
	}

	s.recorder.RecordSecurityEvent(audit.SecurityEvent{
		UserID:            userID,
		EventType:         eventType,
		IPAddress:         client.IP,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: client.Fingerprint,
		RiskScore:         risk,
		Blocked:           eventType == audit.EventLoginFailed,
		Details:           details,
	})
}

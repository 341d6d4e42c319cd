package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/cache"
	"github.com/xela07ax/esm-guard/internal/domain"
)

// Префикс всех ключей кэша пользователей; его инвалидируют записи
const userCachePrefix = "users:"

type UserProvider interface {
	ListUsers(ctx context.Context, f domain.UserFilter) (*domain.UserPage, error)
	CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.ManagedUser, error)
	BulkUpdate(ctx context.Context, userIDs []string, changes map[string]string) (int, error)
}

type UserService struct {
	repo     UserProvider
	cache    *cache.QueryCache
	recorder *audit.Recorder
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewUserService(repo UserProvider, qc *cache.QueryCache, recorder *audit.Recorder, cacheTTL time.Duration, logger *zap.Logger) *UserService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &UserService{
		repo:     repo,
		cache:    qc,
		recorder: recorder,
		cacheTTL: cacheTTL,
		logger:   logger.Named("users"),
	}
}

// List — читающий Hot Path. Ключ собирается из полного набора параметров
// плюс requesterID, чтобы выборки разных админов не пересекались.
func (s *UserService) List(ctx context.Context, f domain.UserFilter, requesterID string) (*domain.UserPage, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 25
	}

	filterJSON, _ := json.Marshal(f)
	key := fmt.Sprintf("%s%s:%s", userCachePrefix, filterJSON, requesterID)

	value, err := s.cache.GetOrCompute(ctx, key, s.cacheTTL, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListUsers(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("user_service: list: %w", err)
	}
	return value.(*domain.UserPage), nil
}

// Create создает пользователя. Инвалидация — строго ПОСЛЕ коммита
// (repo.CreateUser возвращается после Commit), иначе конкурентный промах
// успел бы перечитать и закэшировать еще не закоммиченные данные.
func (s *UserService) Create(ctx context.Context, req domain.CreateUserRequest, performedBy string) (*domain.ManagedUser, error) {
	user, err := s.repo.CreateUser(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("user_service: create: %w", err)
	}

	s.cache.Invalidate(userCachePrefix)

	s.recorder.RecordAuditEntry(audit.AuditLogEntry{
		UserID:      user.ID,
		TargetType:  "user",
		TargetID:    user.ID,
		Action:      "create",
		Changes:     map[string]interface{}{"name": user.Name, "email": user.Email, "department": user.Department},
		PerformedBy: performedBy,
		Severity:    audit.SeverityInfo,
		Category:    "user_management",
		Description: fmt.Sprintf("Created user %s (%s)", user.Name, user.EmployeeID),
	})

	return user, nil
}

// BulkUpdate применяет изменения транзакционно и инвалидирует кэш после коммита
func (s *UserService) BulkUpdate(ctx context.Context, req domain.BulkUpdateRequest, performedBy string) (int, error) {
	changes := req.Changes
	updated, err := s.repo.BulkUpdate(ctx, req.UserIDs, changes)
	if err != nil {
		return 0, fmt.Errorf("user_service: bulk update: %w", err)
	}

	s.cache.Invalidate(userCachePrefix)

	changesDetail := make(map[string]interface{}, len(changes))
	for k, v := range changes {
		changesDetail[k] = v
	}
	s.recorder.RecordAuditEntry(audit.AuditLogEntry{
		TargetType:  "user",
		Action:      "bulk_update",
		Changes:     changesDetail,
		PerformedBy: performedBy,
		Severity:    audit.SeverityWarning, // массовые операции заметнее в трейле
		Category:    "user_management",
		Description: fmt.Sprintf("Bulk updated %d of %d users", updated, len(req.UserIDs)),
	})

	return updated, nil
}

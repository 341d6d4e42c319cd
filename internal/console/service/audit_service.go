package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/domain"
)

// AuditLogProvider — контракт чтения обоих потоков для мониторингового фасада
type AuditLogProvider interface {
	ListSecurityEvents(ctx context.Context, userID string, limit int) ([]audit.SecurityEvent, error)
	ListAuditTrail(ctx context.Context, targetType, targetID string, limit int) ([]audit.AuditLogEntry, error)
}

// SecurityEventStats — агрегаты по выборке событий
type SecurityEventStats struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	ByRiskLevel RiskLevels     `json:"by_risk_level"`
	Blocked     int            `json:"blocked"`
	Last24Hours int            `json:"last_24_hours"`
}

// Границы ярусов риска: low <= 33, medium <= 66, high > 66
type RiskLevels struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

type SecurityEventsResult struct {
	Events     []audit.SecurityEvent `json:"events"`
	Statistics SecurityEventStats    `json:"statistics"`
}

type AuditService struct {
	repo AuditLogProvider
	now  func() time.Time
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{repo: repo, now: time.Now}
}

// FetchSecurityEvents возвращает события новые-первыми со сводной статистикой.
// Детали (IP, user-agent) маскируются для всех, кроме админских ролей.
func (s *AuditService) FetchSecurityEvents(ctx context.Context, userID string, limit int, requester *domain.Identity) (*SecurityEventsResult, error) {
	events, err := s.repo.ListSecurityEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch security events: %w", err)
	}

	stats := SecurityEventStats{
		Total:  len(events),
		ByType: make(map[string]int),
	}
	cutoff := s.now().Add(-24 * time.Hour)

	for _, e := range events {
		stats.ByType[e.EventType]++
		switch {
		case e.RiskScore <= 33:
			stats.ByRiskLevel.Low++
		case e.RiskScore <= 66:
			stats.ByRiskLevel.Medium++
		default:
			stats.ByRiskLevel.High++
		}
		if e.Blocked {
			stats.Blocked++
		}
		if e.CreatedAt.After(cutoff) {
			stats.Last24Hours++
		}
	}

	if requester == nil || !requester.HasAnyRole([]string{"admin", "super_admin"}) {
		events = maskEvents(events)
	}

	return &SecurityEventsResult{Events: events, Statistics: stats}, nil
}

// FetchAuditTrail возвращает комплаенс-трейл новые-первыми
func (s *AuditService) FetchAuditTrail(ctx context.Context, targetType, targetID string, limit int) ([]audit.AuditLogEntry, error) {
	entries, err := s.repo.ListAuditTrail(ctx, targetType, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch audit trail: %w", err)
	}
	return entries, nil
}

func maskEvents(events []audit.SecurityEvent) []audit.SecurityEvent {
	masked := make([]audit.SecurityEvent, len(events))
	for i, e := range events {
		e.IPAddress = "[MASKED]"
		e.UserAgent = "[MASKED]"
		e.DeviceFingerprint = ""
		masked[i] = e
	}
	return masked
}

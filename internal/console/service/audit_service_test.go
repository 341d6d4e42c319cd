package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/domain"
)

type fakeAuditRepo struct {
	events  []audit.SecurityEvent
	entries []audit.AuditLogEntry
}

func (f *fakeAuditRepo) ListSecurityEvents(context.Context, string, int) ([]audit.SecurityEvent, error) {
	return f.events, nil
}

func (f *fakeAuditRepo) ListAuditTrail(context.Context, string, string, int) ([]audit.AuditLogEntry, error) {
	return f.entries, nil
}

func adminRequester() *domain.Identity {
	return &domain.Identity{ID: "a1", Roles: []domain.Role{{Name: "admin"}}}
}

func TestFetchSecurityEvents_Statistics(t *testing.T) {
	now := time.Now()
	repo := &fakeAuditRepo{events: []audit.SecurityEvent{
		{EventType: audit.EventLoginFailed, RiskScore: 10, CreatedAt: now},
		{EventType: audit.EventLoginFailed, RiskScore: 45, Blocked: false, CreatedAt: now},
		{EventType: audit.EventRateLimitExceeded, RiskScore: 30, Blocked: true, CreatedAt: now.Add(-48 * time.Hour)},
		{EventType: audit.EventUnauthorizedAccess, RiskScore: 80, Blocked: true, CreatedAt: now},
	}}
	svc := NewAuditService(repo)

	result, err := svc.FetchSecurityEvents(context.Background(), "", 100, adminRequester())
	require.NoError(t, err)

	stats := result.Statistics
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByType[audit.EventLoginFailed])
	assert.Equal(t, 2, stats.ByRiskLevel.Low)    // 10, 30
	assert.Equal(t, 1, stats.ByRiskLevel.Medium) // 45
	assert.Equal(t, 1, stats.ByRiskLevel.High)   // 80
	assert.Equal(t, 2, stats.Blocked)
	assert.Equal(t, 3, stats.Last24Hours)
}

func TestFetchSecurityEvents_MasksForNonAdmin(t *testing.T) {
	repo := &fakeAuditRepo{events: []audit.SecurityEvent{
		{EventType: audit.EventLoginSuccess, IPAddress: "10.0.0.1", UserAgent: "Mozilla", DeviceFingerprint: "fp"},
	}}
	svc := NewAuditService(repo)

	viewer := &domain.Identity{ID: "v1", Roles: []domain.Role{{Name: "viewer"}}}
	result, err := svc.FetchSecurityEvents(context.Background(), "", 100, viewer)
	require.NoError(t, err)

	e := result.Events[0]
	assert.Equal(t, "[MASKED]", e.IPAddress)
	assert.Equal(t, "[MASKED]", e.UserAgent)
	assert.Empty(t, e.DeviceFingerprint)

	// Админ видит сетевые детали как есть
	result, err = svc.FetchSecurityEvents(context.Background(), "", 100, adminRequester())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", result.Events[0].IPAddress)
}

func TestFetchAuditTrail(t *testing.T) {
	repo := &fakeAuditRepo{entries: []audit.AuditLogEntry{
		{Action: "create", TargetType: "user", PerformedByName: "Admin Kim"},
	}}
	svc := NewAuditService(repo)

	entries, err := svc.FetchAuditTrail(context.Background(), "user", "", 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Admin Kim", entries[0].PerformedByName)
}

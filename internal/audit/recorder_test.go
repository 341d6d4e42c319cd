package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	events  []SecurityEvent
	entries []AuditLogEntry
	err     error
}

func (m *memStorage) WriteSecurityEvents(_ context.Context, events []SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memStorage) WriteAuditEntries(_ context.Context, entries []AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memStorage) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), len(m.entries)
}

func TestRecorder_FlushesByTimer(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, zap.NewNop(), 100, 50, 20*time.Millisecond)
	rec.Start()
	defer rec.Stop()

	rec.RecordSecurityEvent(SecurityEvent{EventType: EventLoginFailed, IPAddress: "1.2.3.4"})
	rec.RecordAuditEntry(AuditLogEntry{TargetType: "user", Action: "create", PerformedBy: "admin"})

	require.Eventually(t, func() bool {
		ev, en := storage.counts()
		return ev == 1 && en == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRecorder_FlushesByBatchSize(t *testing.T) {
	storage := &memStorage{}
	// Огромный интервал: сброс может случиться только по размеру пачки
	rec := NewRecorder(storage, zap.NewNop(), 100, 5, time.Hour)
	rec.Start()
	defer rec.Stop()

	for i := 0; i < 5; i++ {
		rec.RecordSecurityEvent(SecurityEvent{EventType: EventRateLimitExceeded})
	}

	require.Eventually(t, func() bool {
		ev, _ := storage.counts()
		return ev == 5
	}, time.Second, 10*time.Millisecond)
}

func TestRecorder_DrainsOnStop(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, zap.NewNop(), 1000, 500, time.Hour)
	rec.Start()

	for i := 0; i < 37; i++ {
		rec.RecordSecurityEvent(SecurityEvent{EventType: EventUnauthorizedAccess})
	}
	for i := 0; i < 13; i++ {
		rec.RecordAuditEntry(AuditLogEntry{Action: "update"})
	}

	// Stop обязан дописать все, что лежало в очереди (Final Flush)
	rec.Stop()

	ev, en := storage.counts()
	assert.Equal(t, 37, ev)
	assert.Equal(t, 13, en)
}

func TestRecorder_FillsDefaults(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, zap.NewNop(), 10, 5, time.Hour)
	rec.Start()

	rec.RecordSecurityEvent(SecurityEvent{EventType: EventLoginSuccess})
	rec.RecordAuditEntry(AuditLogEntry{Action: "delete"})
	rec.Stop()

	storage.mu.Lock()
	defer storage.mu.Unlock()
	require.Len(t, storage.events, 1)
	assert.NotEmpty(t, storage.events[0].ID)
	assert.False(t, storage.events[0].CreatedAt.IsZero())

	require.Len(t, storage.entries, 1)
	assert.Equal(t, SeverityInfo, storage.entries[0].Severity)
	assert.Equal(t, "system", storage.entries[0].Category)
}

func TestRecorder_StorageFailureIsSwallowed(t *testing.T) {
	storage := &memStorage{err: errors.New("insert failed")}
	rec := NewRecorder(storage, zap.NewNop(), 10, 2, 10*time.Millisecond)
	rec.Start()

	// Сбои стора не паникуют и не блокируют продюсеров
	for i := 0; i < 8; i++ {
		rec.RecordSecurityEvent(SecurityEvent{EventType: EventInternalError})
	}
	rec.Stop()

	ev, _ := storage.counts()
	assert.Equal(t, 0, ev)
}

func TestRecorder_DropsAfterStop(t *testing.T) {
	storage := &memStorage{}
	rec := NewRecorder(storage, zap.NewNop(), 10, 5, time.Hour)
	rec.Start()
	rec.Stop()

	// Не паникует на закрытом канале
	rec.RecordSecurityEvent(SecurityEvent{EventType: EventLoginFailed})

	ev, _ := storage.counts()
	assert.Equal(t, 0, ev)
}

package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore объединяет оба репозитория аудита в один фасад: рекордеру нужны
// обе записи (security_events + audit_logs), мониторингу — оба чтения.
type EventStore struct {
	*SecurityEventRepo
	*AuditLogRepo
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{
		SecurityEventRepo: NewSecurityEventRepo(pool),
		AuditLogRepo:      NewAuditLogRepo(pool),
	}
}

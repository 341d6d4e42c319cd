package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/esm-guard/internal/audit"
)

type SecurityEventRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepo(pool *pgxpool.Pool) *SecurityEventRepo {
	return &SecurityEventRepo{pool: pool}
}

// WriteSecurityEvents — пакетная вставка потока security_events.
// Запрос строится динамически под размер пачки.
func (r *SecurityEventRepo) WriteSecurityEvents(ctx context.Context, events []audit.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	const numFields = 10
	placeholders := make([]string, 0, len(events))
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10))

		details, _ := json.Marshal(e.Details)
		vals = append(vals,
			e.ID, nullable(e.UserID), e.EventType, e.IPAddress, e.UserAgent,
			e.DeviceFingerprint, e.RiskScore, e.Blocked, details, e.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO security_events (
			id, user_id, event_type, ip_address, user_agent,
			device_fingerprint, risk_score, blocked, details, created_at
		) VALUES %s`, strings.Join(placeholders, ","))

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// ListSecurityEvents возвращает события новые-первыми, опционально по пользователю
func (r *SecurityEventRepo) ListSecurityEvents(ctx context.Context, userID string, limit int) ([]audit.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, COALESCE(user_id, ''), event_type, ip_address, user_agent,
		       device_fingerprint, risk_score, blocked, details, created_at
		FROM security_events`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, userID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var events []audit.SecurityEvent
	for rows.Next() {
		var e audit.SecurityEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.IPAddress, &e.UserAgent,
			&e.DeviceFingerprint, &e.RiskScore, &e.Blocked, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CollectRiskSignals — исторические сигналы для рискового скоринга.
// Outside-hours сюда не входит: его считает сам скорер по локальному времени.
func (r *SecurityEventRepo) CollectRiskSignals(ctx context.Context, userID, ip string) (audit.RiskSignals, error) {
	var s audit.RiskSignals

	// Новый ли IP для этого пользователя (за 30 дней)
	var ipSeen int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE user_id = $1 AND ip_address = $2 AND created_at > NOW() - INTERVAL '30 days'`,
		userID, ip).Scan(&ipSeen)
	if err != nil {
		return s, fmt.Errorf("risk signals (ip): %w", err)
	}
	s.FirstSeenIP = ipSeen == 0

	// Неудачные логины за последний час
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE user_id = $1 AND event_type = 'login_failed' AND created_at > NOW() - INTERVAL '1 hour'`,
		userID).Scan(&s.RecentFailedLogins)
	if err != nil {
		return s, fmt.Errorf("risk signals (failed logins): %w", err)
	}

	// Параллельные сессии с разных IP за последний час
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ip_address) FROM security_events
		WHERE user_id = $1 AND event_type IN ('login_success', 'session_active')
		AND created_at > NOW() - INTERVAL '1 hour'`,
		userID).Scan(&s.DistinctSessionIPs)
	if err != nil {
		return s, fmt.Errorf("risk signals (sessions): %w", err)
	}

	return s, nil
}

// nullable превращает пустую строку в NULL для optional FK колонок
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

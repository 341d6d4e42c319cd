package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/esm-guard/internal/audit"
)

type AuditLogRepo struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepo(pool *pgxpool.Pool) *AuditLogRepo {
	return &AuditLogRepo{pool: pool}
}

// WriteAuditEntries — пакетная вставка комплаенс-трейла
func (r *AuditLogRepo) WriteAuditEntries(ctx context.Context, entries []audit.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 11
	placeholders := make([]string, 0, len(entries))
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11))

		changes, _ := json.Marshal(e.Changes)
		vals = append(vals,
			e.ID, nullable(e.UserID), e.TargetType, nullable(e.TargetID), e.Action,
			changes, e.PerformedBy, e.Severity, e.Category, e.Description, e.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO audit_logs (
			id, user_id, target_type, target_id, action,
			changes, performed_by, severity, category, description, created_at
		) VALUES %s`, strings.Join(placeholders, ","))

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// ListAuditTrail — трейл новые-первыми с display-именами субъекта и исполнителя
func (r *AuditLogRepo) ListAuditTrail(ctx context.Context, targetType, targetID string, limit int) ([]audit.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT al.id, COALESCE(al.user_id, ''), al.target_type, COALESCE(al.target_id, ''),
		       al.action, al.changes, al.performed_by, al.severity, al.category,
		       al.description, al.created_at,
		       COALESCE(u1.name, ''), COALESCE(u2.name, '')
		FROM audit_logs al
		LEFT JOIN users u1 ON al.user_id = u1.id
		LEFT JOIN users u2 ON al.performed_by = u2.id`

	var conditions []string
	var args []interface{}

	if targetType != "" {
		conditions = append(conditions, fmt.Sprintf("al.target_type = $%d", len(args)+1))
		args = append(args, targetType)
	}
	if targetID != "" {
		conditions = append(conditions, fmt.Sprintf("al.target_id = $%d", len(args)+1))
		args = append(args, targetID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY al.created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit trail: %w", err)
	}
	defer rows.Close()

	var entries []audit.AuditLogEntry
	for rows.Next() {
		var e audit.AuditLogEntry
		var changes []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.TargetType, &e.TargetID,
			&e.Action, &changes, &e.PerformedBy, &e.Severity, &e.Category,
			&e.Description, &e.CreatedAt, &e.UserName, &e.PerformedByName); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			_ = json.Unmarshal(changes, &e.Changes)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

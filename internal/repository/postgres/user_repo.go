package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/esm-guard/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetAccountByUsername — учетка консоли для логина (источник правды — Postgres)
func (r *UserRepo) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	query := `
		SELECT id, email, username, name, password_hash, roles, permissions, created_at, updated_at
		FROM accounts WHERE username = $1`

	a := &domain.Account{}
	var roles, permissions []byte
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&a.ID, &a.Email, &a.Username, &a.DisplayName, &a.PasswordHash, &roles, &permissions, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	_ = json.Unmarshal(roles, &a.Roles)
	_ = json.Unmarshal(permissions, &a.Permissions)
	return a, nil
}

// ListUsers — листинг корпоративных пользователей с фильтрами и пагинацией.
// Вызывается только через кэш запросов: одинаковые фильтры не дергают базу.
func (r *UserRepo) ListUsers(ctx context.Context, f domain.UserFilter) (*domain.UserPage, error) {
	base := `
		FROM users u
		LEFT JOIN departments d ON u.department_id = d.id
		LEFT JOIN user_service_access usa ON u.id = usa.user_id AND usa.is_active = true
		LEFT JOIN vpn_access va ON u.id = va.user_id AND va.is_active = true
		WHERE 1=1`

	var args []interface{}
	if f.Search != "" {
		base += fmt.Sprintf(` AND (u.name ILIKE $%d OR u.email ILIKE $%d OR u.employee_id ILIKE $%d)`,
			len(args)+1, len(args)+1, len(args)+1)
		args = append(args, "%"+f.Search+"%")
	}
	if f.Department != "" {
		base += fmt.Sprintf(` AND d.name = $%d`, len(args)+1)
		args = append(args, f.Department)
	}
	if f.Status != "" {
		base += fmt.Sprintf(` AND u.status = $%d`, len(args)+1)
		args = append(args, f.Status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT u.id) `+base, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	// Белый список сортировок: имя колонки никогда не приходит от клиента напрямую
	sortColumn := map[string]string{
		"name":       "u.name",
		"department": "d.name",
		"status":     "u.status",
		"hire_date":  "u.hire_date",
	}[f.SortBy]
	if sortColumn == "" {
		sortColumn = "u.name"
	}
	order := "ASC"
	if strings.EqualFold(f.SortOrder, "desc") {
		order = "DESC"
	}

	query := `
		SELECT u.id, u.employee_id, u.name, u.email, COALESCE(d.name, ''),
		       COALESCE(u.job_title, ''), u.employment_type, u.status,
		       COUNT(DISTINCT usa.id), COUNT(DISTINCT va.id),
		       u.hire_date, u.last_login, u.created_at, u.updated_at ` +
		base +
		fmt.Sprintf(` GROUP BY u.id, d.name ORDER BY %s %s LIMIT $%d OFFSET $%d`,
			sortColumn, order, len(args)+1, len(args)+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.ManagedUser, 0, f.Limit)
	for rows.Next() {
		var u domain.ManagedUser
		if err := rows.Scan(&u.ID, &u.EmployeeID, &u.Name, &u.Email, &u.Department,
			&u.JobTitle, &u.EmploymentType, &u.Status,
			&u.ActiveServices, &u.VPNAccounts,
			&u.HireDate, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := (total + f.Limit - 1) / f.Limit
	return &domain.UserPage{
		Users: users, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: totalPages,
	}, nil
}

// CreateUser вставляет пользователя в транзакции и возвращает созданную запись
func (r *UserRepo) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.ManagedUser, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback(ctx)

	var deptID *string
	err = tx.QueryRow(ctx, `SELECT id FROM departments WHERE name = $1`, req.Department).Scan(&deptID)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("resolve department: %w", err)
	}

	employmentType := req.EmploymentType
	if employmentType == "" {
		employmentType = "Permanent"
	}

	u := &domain.ManagedUser{
		ID:             uuid.New().String(),
		EmployeeID:     req.EmployeeID,
		Name:           req.Name,
		Email:          req.Email,
		Department:     req.Department,
		JobTitle:       req.JobTitle,
		EmploymentType: employmentType,
		Status:         "active",
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, employee_id, name, email, department_id, job_title, employment_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		u.ID, u.EmployeeID, u.Name, u.Email, deptID, nullable(u.JobTitle), u.EmploymentType, u.Status,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create user: %w", err)
	}
	return u, nil
}

// BulkUpdate применяет одинаковый набор изменений к списку пользователей
// одной транзакцией через RunBatch: частичных обновлений не бывает.
func (r *UserRepo) BulkUpdate(ctx context.Context, userIDs []string, changes map[string]string) (int, error) {
	// Белый список изменяемых колонок
	allowed := map[string]bool{"status": true, "department_id": true, "employment_type": true, "job_title": true}

	set := make([]string, 0, len(changes))
	args := make([]interface{}, 0, len(changes)+1)
	for col, val := range changes {
		if !allowed[col] {
			return 0, fmt.Errorf("bulk update: column %q is not updatable", col)
		}
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, val)
	}
	set = append(set, "updated_at = NOW()")

	queries := make([]BatchQuery, 0, len(userIDs))
	for _, id := range userIDs {
		qArgs := append(append([]interface{}{}, args...), id)
		queries = append(queries, BatchQuery{
			SQL:  fmt.Sprintf("UPDATE users SET %s WHERE id = $%d RETURNING id", strings.Join(set, ", "), len(qArgs)),
			Args: qArgs,
		})
	}

	results, err := RunBatch(ctx, r.pool, queries, true)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, rows := range results {
		updated += len(rows)
	}
	return updated, nil
}

// TouchLastLogin отмечает успешный вход (не на пути гарда, best-effort в сервисе)
func (r *UserRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET last_login = $2 WHERE id = $1`, accountID, at)
	return err
}

package domain

import "time"

// ManagedUser — запись корпоративного пользователя (таблица users).
// Это объект администрирования, не принципал запроса (см. Identity).
type ManagedUser struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"employee_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Department     string     `json:"department"`
	JobTitle       string     `json:"job_title,omitempty"`
	EmploymentType string     `json:"employment_type"`
	Status         string     `json:"status"` // active, dormant, suspended
	ActiveServices int        `json:"active_services"`
	VPNAccounts    int        `json:"vpn_accounts"`
	HireDate       *time.Time `json:"hire_date,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UserFilter — параметры листинга. Сериализованный фильтр входит в ключ кэша,
// поэтому разные комбинации никогда не пересекаются.
type UserFilter struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Search     string `json:"search,omitempty"`
	Department string `json:"department,omitempty"`
	Status     string `json:"status,omitempty"`
	SortBy     string `json:"sort_by,omitempty"`
	SortOrder  string `json:"sort_order,omitempty"`
}

type UserPage struct {
	Users      []ManagedUser `json:"users"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

type CreateUserRequest struct {
	Name           string `json:"name" validate:"required,max=100"`
	Email          string `json:"email" validate:"required,email"`
	EmployeeID     string `json:"employee_id" validate:"required,max=20"`
	Department     string `json:"department" validate:"required,max=50"`
	JobTitle       string `json:"job_title" validate:"max=100"`
	EmploymentType string `json:"employment_type" validate:"omitempty,oneof=Permanent Contract Temporary Consultant Intern"`
}

type BulkUpdateRequest struct {
	UserIDs []string          `json:"user_ids" validate:"required,min=1,max=500,dive,uuid"`
	Changes map[string]string `json:"changes" validate:"required,min=1"`
}

package audit

import "time"

// Типы событий безопасности. Поток security_events — для мониторинга рисков,
// поток audit_logs — комплаенс-след "кто что сделал". Это независимые потоки.
const (
	EventRateLimitExceeded  = "rate_limit_exceeded"
	EventUnauthorizedAccess = "api_unauthorized_access"
	EventAuthorizationFail  = "api_authorization_failed"
	EventValidationFailed   = "api_validation_failed"
	EventLoginFailed        = "login_failed"
	EventLoginSuccess       = "login_success"
	EventSessionActive      = "session_active"
	EventLogout             = "logout"
	EventInternalError      = "api_error"
)

// Уровни важности записей аудита
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

type SecurityEvent struct {
	ID                string                 `json:"id"`      // UUID события
	UserID            string                 `json:"user_id"` // Пустой, если принципал неизвестен (например, 401)
	EventType         string                 `json:"event_type"`
	IPAddress         string                 `json:"ip_address"`
	UserAgent         string                 `json:"user_agent"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty"`
	RiskScore         int                    `json:"risk_score"` // [0,100], advisory — сам по себе ничего не блокирует
	Blocked           bool                   `json:"blocked"`
	Details           map[string]interface{} `json:"details"`
	CreatedAt         time.Time              `json:"created_at"`
}

type AuditLogEntry struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id,omitempty"` // Субъект записи (над кем действие)
	TargetType  string                 `json:"target_type"`
	TargetID    string                 `json:"target_id,omitempty"`
	Action      string                 `json:"action"`
	Changes     map[string]interface{} `json:"changes,omitempty"`
	PerformedBy string                 `json:"performed_by"` // Кто выполнил
	Severity    string                 `json:"severity"`
	Category    string                 `json:"category"`
	Description string                 `json:"description,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`

	// Заполняются только при чтении трейла (LEFT JOIN с users)
	UserName        string `json:"user_name,omitempty"`
	PerformedByName string `json:"performed_by_name,omitempty"`
}

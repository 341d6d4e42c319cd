package guard

/*
Файл guard.go реализует Request Guard — оркестратор, через который проходит
каждый входящий API-вызов до и после хендлера.

Конвейер стадий, строго по порядку, каждая может закончить запрос терминальным
ответом: RATE_LIMIT -> AUTHENTICATE -> AUTHORIZE -> VALIDATE_INPUT ->
EXECUTE_HANDLER -> RECORD_AUDIT -> RESPOND.

Центральный инвариант обработки ошибок — две плоскости:
- correctness-plane (лимит, авторизация, валидация, падение хендлера) влияет
  на HTTP-ответ;
- observability-plane (запись событий, рисковый скоринг) НИКОГДА не меняет
  исход запроса: Recorder ничего не возвращает, Scorer всегда отдает число.
*/

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/authz"
	"github.com/xela07ax/esm-guard/internal/domain"
	"github.com/xela07ax/esm-guard/internal/ratelimit"
)

// Фиксированная оценка риска для отказов лимитера
const rateLimitRiskScore = 30

// RateRule — лимит конкретного роута: фиксированное окно на ключ (IP, роут)
type RateRule struct {
	Window      time.Duration
	MaxRequests int
}

// Options — декларация политик роута. Все проверки независимы и аддитивны,
// порядок вычисления: роли раньше прав, первая неудача обрывает остальные.
type Options struct {
	AllowAnonymous      bool // по умолчанию аутентификация обязательна
	RequiredRole        string
	AllowedRoles        []string
	RequiredPermissions []domain.Permission

	// NewInput возвращает прототип тела запроса; для не-GET запросов гард
	// декодирует и валидирует тело до вызова хендлера
	NewInput func() interface{}

	RateLimit *RateRule
}

type Guard struct {
	limiter  *ratelimit.Limiter
	resolver authz.SessionResolver
	recorder *audit.Recorder
	validate *validator.Validate
	metrics  *Metrics
	logger   *zap.Logger
}

func New(limiter *ratelimit.Limiter, resolver authz.SessionResolver, recorder *audit.Recorder, metrics *Metrics, logger *zap.Logger) *Guard {
	return &Guard{
		limiter:  limiter,
		resolver: resolver,
		recorder: recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
		logger:   logger.Named("guard"),
	}
}

// state — контекст одного запроса, протаскиваемый через стадии
type state struct {
	r           *http.Request
	route       string
	clientIP    string
	userAgent   string
	fingerprint string
	identity    *domain.Identity
	opts        Options
}

// terminal — досрочный ответ стадии
type terminal struct {
	status int
	denial string // метка для метрик: rate_limit, unauthenticated, forbidden, validation
	write  func(w http.ResponseWriter)
}

type stage func(st *state) *terminal

// Wrap оборачивает хендлер роута в конвейер гарда.
// route — шаблон роута (например "/api/v1/users"), он входит в ключ лимитера
// и в лейблы метрик.
func (g *Guard) Wrap(route string, opts Options, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		applySecurityHeaders(w)
		g.metrics.TotalRequests.WithLabelValues(route, r.Method).Inc()

		st := &state{
			r:           r,
			route:       route,
			clientIP:    clientIP(r),
			userAgent:   userAgent(r),
			fingerprint: deviceFingerprint(r.Header),
			opts:        opts,
		}

		status := http.StatusOK
		defer func() {
			// Состояние ERROR достижимо из любой стадии: паника конвертируется
			// в generic 500, детали остаются только в серверных логах
			if rec := recover(); rec != nil {
				status = http.StatusInternalServerError
				g.logger.Error("handler panic",
					zap.String("route", route), zap.Any("panic", rec))
				g.metrics.DenialsTotal.WithLabelValues("internal").Inc()
				g.securityEvent(st, audit.EventInternalError, false, 0, map[string]interface{}{
					"error": fmt.Sprint(rec),
				})
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
			g.metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		}()

		stages := []stage{g.stageRateLimit, g.stageAuthenticate, g.stageAuthorize, g.stageValidateInput}
		for _, run := range stages {
			if term := run(st); term != nil {
				status = term.status
				g.metrics.DenialsTotal.WithLabelValues(term.denial).Inc()
				term.write(w)
				return
			}
		}

		// EXECUTE_HANDLER: статус перехватываем, чтобы решить про аудит
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, st.r)
		status = ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		// RECORD_AUDIT: успешный аутентифицированный запрос всегда оставляет
		// след api_access. Сбой записи глотается рекордером и на уже
		// сформированный ответ не влияет.
		if st.identity != nil && status < 400 {
			g.recorder.RecordAuditEntry(audit.AuditLogEntry{
				UserID:      st.identity.ID,
				TargetType:  "api_endpoint",
				Action:      strings.ToLower(r.Method),
				PerformedBy: st.identity.ID,
				Category:    "api_access",
				Severity:    audit.SeverityInfo,
				Description: fmt.Sprintf("API %s %s", r.Method, route),
			})
		}
	}
}

// --- Стадии конвейера ---

func (g *Guard) stageRateLimit(st *state) *terminal {
	rule := st.opts.RateLimit
	if rule == nil {
		return nil
	}

	key := st.clientIP + ":" + st.route
	res := g.limiter.CheckAndConsume(st.r.Context(), key, rule.Window, rule.MaxRequests)
	if res.Allowed {
		return nil
	}

	g.securityEvent(st, audit.EventRateLimitExceeded, true, rateLimitRiskScore, map[string]interface{}{
		"limit":  rule.MaxRequests,
		"window": rule.Window.Milliseconds(),
	})

	return &terminal{
		status: http.StatusTooManyRequests,
		denial: "rate_limit",
		write: func(w http.ResponseWriter) {
			writeRateLimited(w, rule.MaxRequests, res.ResetAt, rule.Window)
		},
	}
}

func (g *Guard) stageAuthenticate(st *state) *terminal {
	token := st.r.Header.Get("Authorization")

	if token == "" {
		if st.opts.AllowAnonymous {
			return nil // роут открыт, продолжаем без принципала
		}
		g.securityEvent(st, audit.EventUnauthorizedAccess, true, 0, map[string]interface{}{
			"reason": "no_token",
		})
		return unauthorized()
	}

	identity, err := g.resolver.Resolve(st.r.Context(), token)
	if err != nil {
		if !errors.Is(err, authz.ErrNoSession) {
			g.logger.Warn("session resolution failed", zap.Error(err))
		}
		if st.opts.AllowAnonymous {
			return nil
		}
		g.securityEvent(st, audit.EventUnauthorizedAccess, true, 0, map[string]interface{}{
			"reason": "invalid_token",
		})
		return unauthorized()
	}

	st.identity = identity
	st.r = st.r.WithContext(withIdentity(st.r.Context(), identity))
	return nil
}

func (g *Guard) stageAuthorize(st *state) *terminal {
	id := st.identity
	if id == nil {
		return nil // анонимный роут без политик
	}
	opts := st.opts

	// 1. Точная обязательная роль
	if opts.RequiredRole != "" && !id.HasRole(opts.RequiredRole) {
		g.securityEvent(st, audit.EventAuthorizationFail, true, 0, map[string]interface{}{
			"required_role": opts.RequiredRole,
			"user_roles":    id.RoleNames(),
			"reason":        "insufficient_role",
		})
		return forbidden("Insufficient permissions")
	}

	// 2. Хотя бы одна роль из allow-list
	if len(opts.AllowedRoles) > 0 && !id.HasAnyRole(opts.AllowedRoles) {
		g.securityEvent(st, audit.EventAuthorizationFail, true, 0, map[string]interface{}{
			"allowed_roles": opts.AllowedRoles,
			"user_roles":    id.RoleNames(),
			"reason":        "role_not_allowed",
		})
		return forbidden("Access denied")
	}

	// 3. Права (resource, action); первая неудача обрывает проверку
	for _, p := range opts.RequiredPermissions {
		if !id.HasPermission(p.Resource, p.Action) {
			g.securityEvent(st, audit.EventAuthorizationFail, true, 0, map[string]interface{}{
				"required_permission": map[string]string{"resource": p.Resource, "action": p.Action},
				"user_permissions":    id.Permissions,
				"reason":              "insufficient_permissions",
			})
			return forbidden(fmt.Sprintf("Permission denied: %s:%s", p.Resource, p.Action))
		}
	}

	return nil
}

func (g *Guard) stageValidateInput(st *state) *terminal {
	if st.opts.NewInput == nil || st.r.Method == http.MethodGet {
		return nil
	}

	input := st.opts.NewInput()
	if err := json.NewDecoder(st.r.Body).Decode(input); err != nil {
		return g.validationFailed(st, []string{"body: invalid json"})
	}

	if err := g.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fieldMessage(fe))
			}
			return g.validationFailed(st, details)
		}
		return g.validationFailed(st, []string{"body: validation error"})
	}

	st.r = st.r.WithContext(withInput(st.r.Context(), input))
	return nil
}

func (g *Guard) validationFailed(st *state, details []string) *terminal {
	g.securityEvent(st, audit.EventValidationFailed, true, 0, map[string]interface{}{
		"validation_error": details,
	})
	return &terminal{
		status: http.StatusBadRequest,
		denial: "validation",
		write: func(w http.ResponseWriter) {
			writeError(w, http.StatusBadRequest, "Invalid input data", details...)
		},
	}
}

// --- Вспомогательные ---

func (g *Guard) securityEvent(st *state, eventType string, blocked bool, risk int, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["url"] = st.r.URL.Path
	details["method"] = st.r.Method

	userID := ""
	if st.identity != nil {
		userID = st.identity.ID
	}

	g.recorder.RecordSecurityEvent(audit.SecurityEvent{
		UserID:            userID,
		EventType:         eventType,
		IPAddress:         st.clientIP,
		UserAgent:         st.userAgent,
		DeviceFingerprint: st.fingerprint,
		RiskScore:         risk,
		Blocked:           blocked,
		Details:           details,
	})
}

func unauthorized() *terminal {
	return &terminal{
		status: http.StatusUnauthorized,
		denial: "unauthenticated",
		write: func(w http.ResponseWriter) {
			writeError(w, http.StatusUnauthorized, "Authentication required")
		},
	}
}

func forbidden(msg string) *terminal {
	return &terminal{
		status: http.StatusForbidden,
		denial: "forbidden",
		write: func(w http.ResponseWriter) {
			writeError(w, http.StatusForbidden, msg)
		},
	}
}

func fieldMessage(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fe.Field() + ": " + fe.Tag()
}

// Client — сетевые атрибуты запроса для событий безопасности.
// Доступен и хендлерам (например, логину), чтобы не дублировать разбор.
type Client struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

func ClientOf(r *http.Request) Client {
	return Client{
		IP:          clientIP(r),
		UserAgent:   userAgent(r),
		Fingerprint: deviceFingerprint(r.Header),
	}
}

// clientIP опирается на chi middleware.RealIP: он уже подменил RemoteAddr
// значением X-Forwarded-For / X-Real-IP
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func userAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "unknown"
}

// deviceFingerprint — грубый отпечаток клиента из стабильных заголовков
func deviceFingerprint(h http.Header) string {
	components := []string{
		h.Get("User-Agent"),
		h.Get("Accept-Language"),
		h.Get("Accept-Encoding"),
		h.Get("Sec-Ch-Ua"),
		h.Get("Sec-Ch-Ua-Platform"),
	}
	enc := base64.StdEncoding.EncodeToString([]byte(strings.Join(components, "|")))
	if len(enc) > 32 {
		return enc[:32]
	}
	return enc
}

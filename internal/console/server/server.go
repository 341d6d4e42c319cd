package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xela07ax/esm-guard/internal/console/handler"
	"github.com/xela07ax/esm-guard/internal/domain"
	"github.com/xela07ax/esm-guard/internal/guard"
	"github.com/xela07ax/esm-guard/internal/infra"
	"github.com/xela07ax/esm-guard/internal/repository/postgres"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Конвейер проверок: лимит -> аутентификация -> авторизация -> валидация
	guard *guard.Guard
	pool  *pgxpool.Pool

	// Обработчики бизнес-доменов
	authHandler  *handler.AuthHandler  // /auth/token
	userHandler  *handler.UserHandler  // /api/v1/users
	auditHandler *handler.AuditHandler // /api/v1/audit
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	g *guard.Guard,
	pool *pgxpool.Pool,
	authH *handler.AuthHandler,
	userH *handler.UserHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:       chi.NewRouter(),
		logger:       logger.Named("console-api"),
		cfg:          cfg,
		guard:        g,
		pool:         pool,
		authHandler:  authH,
		userHandler:  userH,
		auditHandler: auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router
	g := s.guard

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин доступен без токена, но под жестким лимитом от перебора
		r.Post("/auth/token", g.Wrap("/auth/token", guard.Options{
			AllowAnonymous: true,
			NewInput:       func() interface{} { return &domain.LoginRequest{} },
			RateLimit:      &guard.RateRule{Window: time.Minute, MaxRequests: 10},
		}, s.authHandler.Login))

		// Healthcheck для мониторинга: состояние пула базы
		r.Get("/health", s.health)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен + роли/права) ---
	r.Group(func(r chi.Router) {
		// Управление пользователями
		r.Route("/api/v1/users", func(r chi.Router) {
			r.Get("/", g.Wrap("/api/v1/users", guard.Options{
				RequiredPermissions: []domain.Permission{{Resource: "users", Action: "read"}},
				RateLimit:           &guard.RateRule{Window: time.Minute, MaxRequests: 120},
			}, s.userHandler.List))

			r.Post("/", g.Wrap("/api/v1/users", guard.Options{
				RequiredPermissions: []domain.Permission{{Resource: "users", Action: "create"}},
				NewInput:            func() interface{} { return &domain.CreateUserRequest{} },
				RateLimit:           &guard.RateRule{Window: time.Minute, MaxRequests: 30},
			}, s.userHandler.Create))

			// Массовые операции открыты только админским ролям
			r.Post("/bulk", g.Wrap("/api/v1/users/bulk", guard.Options{
				AllowedRoles:        []string{"admin", "super_admin"},
				RequiredPermissions: []domain.Permission{{Resource: "users", Action: "update"}},
				NewInput:            func() interface{} { return &domain.BulkUpdateRequest{} },
				RateLimit:           &guard.RateRule{Window: time.Minute, MaxRequests: 10},
			}, s.userHandler.BulkUpdate))
		})

		// Аудит и события безопасности (Observability)
		r.Route("/api/v1/audit", func(r chi.Router) {
			r.Get("/security-events", g.Wrap("/api/v1/audit/security-events", guard.Options{
				RequiredPermissions: []domain.Permission{{Resource: "audit", Action: "read"}},
				RateLimit:           &guard.RateRule{Window: time.Minute, MaxRequests: 60},
			}, s.auditHandler.GetSecurityEvents))

			r.Get("/logs", g.Wrap("/api/v1/audit/logs", guard.Options{
				RequiredPermissions: []domain.Permission{{Resource: "audit", Action: "read"}},
				RateLimit:           &guard.RateRule{Window: time.Minute, MaxRequests: 60},
			}, s.auditHandler.GetAuditTrail))
		})
	})
}

func (s *ConsoleServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snapshot := postgres.CheckHealth(ctx, s.pool)
	status := http.StatusOK
	if !snapshot.Connected {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   map[bool]string{true: "ok", false: "degraded"}[snapshot.Connected],
		"database": snapshot,
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

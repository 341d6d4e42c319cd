package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/authz"
	"github.com/xela07ax/esm-guard/internal/domain"
	"github.com/xela07ax/esm-guard/internal/ratelimit"
)

type captureStorage struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	entries []audit.AuditLogEntry
}

func (c *captureStorage) WriteSecurityEvents(_ context.Context, events []audit.SecurityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *captureStorage) WriteAuditEntries(_ context.Context, entries []audit.AuditLogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return nil
}

type stubResolver struct {
	identity *domain.Identity
	err      error
}

func (s *stubResolver) Resolve(context.Context, string) (*domain.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

func adminIdentity() *domain.Identity {
	return &domain.Identity{
		ID:          "admin-1",
		DisplayName: "Admin",
		Roles:       []domain.Role{{Name: "admin"}},
		Permissions: map[string][]string{
			"users": {"read", "create"},
			"audit": {"*"},
		},
	}
}

func newTestGuard(t *testing.T, resolver authz.SessionResolver) (*Guard, *captureStorage, *audit.Recorder) {
	t.Helper()
	storage := &captureStorage{}
	rec := audit.NewRecorder(storage, zap.NewNop(), 100, 50, 10*time.Millisecond)
	rec.Start()

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), zap.NewNop())
	g := New(limiter, resolver, rec, NewMetrics(nil), zap.NewNop())
	return g, storage, rec
}

func doRequest(h http.HandlerFunc, method, target, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "10.0.0.7:54321"
	req.Header.Set("User-Agent", "test-agent")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestWrap_RateLimitExceeded(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})

	h := g.Wrap("/auth/token", Options{
		AllowAnonymous: true,
		RateLimit:      &RateRule{Window: time.Minute, MaxRequests: 2},
	}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := doRequest(h, http.MethodPost, "/auth/token", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(h, http.MethodPost, "/auth/token", "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")

	rec.Stop()
	require.Len(t, storage.events, 1)
	e := storage.events[0]
	assert.Equal(t, audit.EventRateLimitExceeded, e.EventType)
	assert.True(t, e.Blocked)
	assert.Equal(t, 30, e.RiskScore)
	assert.Equal(t, "10.0.0.7", e.IPAddress)
}

func TestWrap_SecurityHeadersAlwaysPresent(t *testing.T) {
	g, _, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})
	defer rec.Stop()

	h := g.Wrap("/ping", Options{AllowAnonymous: true}, func(w http.ResponseWriter, r *http.Request) {})
	w := doRequest(h, http.MethodGet, "/ping", "", "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestWrap_MissingToken(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})

	called := false
	h := g.Wrap("/api/v1/users", Options{}, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	w := doRequest(h, http.MethodGet, "/api/v1/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, w.Body.String())
	assert.False(t, called)

	rec.Stop()
	require.Len(t, storage.events, 1)
	assert.Equal(t, audit.EventUnauthorizedAccess, storage.events[0].EventType)
	assert.Equal(t, "no_token", storage.events[0].Details["reason"])
}

func TestWrap_InvalidToken(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{err: authz.ErrNoSession})

	h := g.Wrap("/api/v1/users", Options{}, func(w http.ResponseWriter, r *http.Request) {})
	w := doRequest(h, http.MethodGet, "/api/v1/users", "Bearer garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	rec.Stop()
	require.Len(t, storage.events, 1)
	assert.Equal(t, "invalid_token", storage.events[0].Details["reason"])
}

func TestWrap_InsufficientRole(t *testing.T) {
	id := adminIdentity()
	id.Roles = []domain.Role{{Name: "viewer"}}
	g, storage, rec := newTestGuard(t, &stubResolver{identity: id})

	h := g.Wrap("/api/v1/users/bulk", Options{RequiredRole: "super_admin"}, func(w http.ResponseWriter, r *http.Request) {})
	w := doRequest(h, http.MethodPost, "/api/v1/users/bulk", "Bearer t", "{}")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient permissions")

	rec.Stop()
	require.Len(t, storage.events, 1)
	assert.Equal(t, audit.EventAuthorizationFail, storage.events[0].EventType)
	assert.Equal(t, "insufficient_role", storage.events[0].Details["reason"])
	assert.Equal(t, "admin-1", storage.events[0].UserID)
}

func TestWrap_RoleNotAllowed(t *testing.T) {
	id := adminIdentity()
	id.Roles = []domain.Role{{Name: "viewer"}}
	g, storage, rec := newTestGuard(t, &stubResolver{identity: id})

	h := g.Wrap("/api/v1/users/bulk", Options{AllowedRoles: []string{"admin", "super_admin"}}, func(w http.ResponseWriter, r *http.Request) {})
	w := doRequest(h, http.MethodPost, "/api/v1/users/bulk", "Bearer t", "{}")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Access denied")

	rec.Stop()
	require.Len(t, storage.events, 1)
	assert.Equal(t, "role_not_allowed", storage.events[0].Details["reason"])
}

func TestWrap_PermissionDenied(t *testing.T) {
	id := adminIdentity()
	id.Permissions = map[string][]string{"users": {"read"}}
	g, storage, rec := newTestGuard(t, &stubResolver{identity: id})

	h := g.Wrap("/api/v1/users", Options{
		RequiredPermissions: []domain.Permission{
			{Resource: "users", Action: "create"},
			{Resource: "audit", Action: "read"},
		},
	}, func(w http.ResponseWriter, r *http.Request) {})
	w := doRequest(h, http.MethodPost, "/api/v1/users", "Bearer t", "{}")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Permission denied: users:create")

	// Первая неудача обрывает проверку: событие ровно одно, про users:create
	rec.Stop()
	require.Len(t, storage.events, 1)
	assert.Equal(t, "insufficient_permissions", storage.events[0].Details["reason"])
}

func TestWrap_WildcardPermission(t *testing.T) {
	g, _, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})
	defer rec.Stop()

	h := g.Wrap("/api/v1/audit/logs", Options{
		RequiredPermissions: []domain.Permission{{Resource: "audit", Action: "export"}},
	}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	w := doRequest(h, http.MethodGet, "/api/v1/audit/logs", "Bearer t", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWrap_ValidationRejectsMalformedJSON(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})

	h := g.Wrap("/auth/token", Options{
		AllowAnonymous: true,
		NewInput:       func() interface{} { return &domain.LoginRequest{} },
	}, func(w http.ResponseWriter, r *http.Request) {})

	w := doRequest(h, http.MethodPost, "/auth/token", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid input data")
	assert.Contains(t, w.Body.String(), "body: invalid json")

	rec.Stop()
	require.Len(t, storage.events, 1)
	assert.Equal(t, audit.EventValidationFailed, storage.events[0].EventType)
}

func TestWrap_ValidationRejectsBadFields(t *testing.T) {
	g, _, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})
	defer rec.Stop()

	h := g.Wrap("/auth/token", Options{
		AllowAnonymous: true,
		NewInput:       func() interface{} { return &domain.LoginRequest{} },
	}, func(w http.ResponseWriter, r *http.Request) {})

	// username короче min=3, password отсутствует
	w := doRequest(h, http.MethodPost, "/auth/token", "", `{"username":"ab"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Username")
	assert.Contains(t, w.Body.String(), "Password")
}

func TestWrap_ValidInputReachesHandler(t *testing.T) {
	g, _, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})
	defer rec.Stop()

	var got *domain.LoginRequest
	h := g.Wrap("/auth/token", Options{
		AllowAnonymous: true,
		NewInput:       func() interface{} { return &domain.LoginRequest{} },
	}, func(w http.ResponseWriter, r *http.Request) {
		got, _ = InputFrom(r.Context()).(*domain.LoginRequest)
	})

	w := doRequest(h, http.MethodPost, "/auth/token", "", `{"username":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "admin", got.Username)
}

func TestWrap_PanicBecomes500(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})

	h := g.Wrap("/api/v1/users", Options{}, func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	w := doRequest(h, http.MethodGet, "/api/v1/users", "Bearer t", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "boom")

	rec.Stop()
	var found bool
	for _, e := range storage.events {
		if e.EventType == audit.EventInternalError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWrap_AuditTrailOnSuccess(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})

	h := g.Wrap("/api/v1/users", Options{}, func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		require.NotNil(t, id)
		w.WriteHeader(http.StatusOK)
	})
	w := doRequest(h, http.MethodGet, "/api/v1/users", "Bearer t", "")
	require.Equal(t, http.StatusOK, w.Code)

	rec.Stop()
	require.Len(t, storage.entries, 1)
	entry := storage.entries[0]
	assert.Equal(t, "api_endpoint", entry.TargetType)
	assert.Equal(t, "get", entry.Action)
	assert.Equal(t, "api_access", entry.Category)
	assert.Equal(t, "admin-1", entry.PerformedBy)
	assert.Equal(t, "API GET /api/v1/users", entry.Description)
}

func TestWrap_NoAuditForAnonymousOrFailed(t *testing.T) {
	g, storage, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})

	// Анонимный успех — нет принципала, нечего писать в трейл
	anon := g.Wrap("/health", Options{AllowAnonymous: true}, func(w http.ResponseWriter, r *http.Request) {})
	doRequest(anon, http.MethodGet, "/health", "", "")

	// Хендлер ответил ошибкой — трейл не пишется
	failing := g.Wrap("/api/v1/users", Options{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	doRequest(failing, http.MethodGet, "/api/v1/users", "Bearer t", "")

	rec.Stop()
	assert.Empty(t, storage.entries)
}

func TestWrap_NoRateLimitRuleSkipsStage(t *testing.T) {
	g, _, rec := newTestGuard(t, &stubResolver{identity: adminIdentity()})
	defer rec.Stop()

	h := g.Wrap("/api/v1/users", Options{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for i := 0; i < 50; i++ {
		w := doRequest(h, http.MethodGet, "/api/v1/users", "Bearer t", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
}

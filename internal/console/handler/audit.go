package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/esm-guard/internal/console/service"
	"github.com/xela07ax/esm-guard/internal/guard"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetSecurityEvents возвращает события безопасности со статистикой
// GET /api/v1/audit/security-events?user_id=...&limit=...
func (h *AuditHandler) GetSecurityEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := queryInt(r, "limit", 100)

	result, err := h.service.FetchSecurityEvents(r.Context(), userID, limit, guard.IdentityFrom(r.Context()))
	if err != nil {
		http.Error(w, "Failed to fetch security events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetAuditTrail возвращает комплаенс-трейл
// GET /api/v1/audit/logs?target_type=...&target_id=...&limit=...
func (h *AuditHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	targetType := r.URL.Query().Get("target_type")
	targetID := r.URL.Query().Get("target_id")
	limit := queryInt(r, "limit", 100)

	entries, err := h.service.FetchAuditTrail(r.Context(), targetType, targetID, limit)
	if err != nil {
		http.Error(w, "Failed to fetch audit trail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"entries": entries})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/esm-guard/internal/console/service"
	"github.com/xela07ax/esm-guard/internal/domain"
	"github.com/xela07ax/esm-guard/internal/guard"
)

type UserHandler struct {
	service *service.UserService
}

func NewUserHandler(s *service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// List — GET /api/v1/users с фильтрами и пагинацией (читается через кэш)
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.UserFilter{
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 25),
		Search:     q.Get("search"),
		Department: q.Get("department"),
		Status:     q.Get("status"),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}

	requesterID := ""
	if id := guard.IdentityFrom(r.Context()); id != nil {
		requesterID = id.ID
	}

	page, err := h.service.List(r.Context(), filter, requesterID)
	if err != nil {
		http.Error(w, "Failed to fetch users", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// Create — POST /api/v1/users, тело провалидировано гардом
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := guard.InputFrom(r.Context()).(*domain.CreateUserRequest)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	performedBy := ""
	if id := guard.IdentityFrom(r.Context()); id != nil {
		performedBy = id.ID
	}

	user, err := h.service.Create(r.Context(), *req, performedBy)
	if err != nil {
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// BulkUpdate — POST /api/v1/users/bulk: одна транзакция на весь список
func (h *UserHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := guard.InputFrom(r.Context()).(*domain.BulkUpdateRequest)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	performedBy := ""
	if id := guard.IdentityFrom(r.Context()); id != nil {
		performedBy = id.ID
	}

	updated, err := h.service.BulkUpdate(r.Context(), *req, performedBy)
	if err != nil {
		http.Error(w, "Failed to update users", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"updated": updated})
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/esm-guard/internal/console/service"
	"github.com/xela07ax/esm-guard/internal/domain"
	"github.com/xela07ax/esm-guard/internal/guard"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(s *service.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

// Login выдает токен по логину/паролю. Тело уже провалидировано гардом.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := guard.InputFrom(r.Context()).(*domain.LoginRequest)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	client := guard.ClientOf(r)
	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password, service.ClientInfo{
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		Fingerprint: client.Fingerprint,
	})
	if err != nil {
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

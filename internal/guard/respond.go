package guard

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// errorBody — единый формат клиентских отказов: короткая строка ошибки и,
// для валидации, пофилдовые сообщения. Стектрейсы, SQL и внутренние детали
// наружу не уходят никогда.
type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// applySecurityHeaders проставляет защитные заголовки на все ответы
func applySecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// writeRateLimited отдает 429 с заголовками лимита
func writeRateLimited(w http.ResponseWriter, limit int, resetAt time.Time, window time.Duration) {
	h := w.Header()
	h.Set("Retry-After", strconv.Itoa(int(math.Ceil(window.Seconds()))))
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.UnixMilli(), 10))
	writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

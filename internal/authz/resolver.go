package authz

import (
	"context"
	"errors"

	"github.com/xela07ax/esm-guard/internal/domain"
)

// ErrNoSession — сентинел "валидной сессии нет" (отсутствующий, протухший
// или битый токен). Гард превращает его в 401; все остальные ошибки
// резолвера тоже означают отказ аутентификации, но логируются отдельно.
var ErrNoSession = errors.New("authz: no valid session")

// SessionResolver — граница Identity Provider: превращает предъявленный
// токен в принципала запроса. Ядро никогда не проверяет пароли само.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

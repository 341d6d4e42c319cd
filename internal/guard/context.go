package guard

import (
	"context"

	"github.com/xela07ax/esm-guard/internal/domain"
)

// Тип для ключей в контексте (избегаем коллизий)
type ctxKey string

const (
	identityKey ctxKey = "guard_identity"
	inputKey    ctxKey = "guard_input"
)

// IdentityFrom достает принципала запроса; nil для анонимных роутов
func IdentityFrom(ctx context.Context) *domain.Identity {
	if id, ok := ctx.Value(identityKey).(*domain.Identity); ok {
		return id
	}
	return nil
}

// InputFrom возвращает провалидированное тело запроса (то, что вернул NewInput)
func InputFrom(ctx context.Context) interface{} {
	return ctx.Value(inputKey)
}

func withIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func withInput(ctx context.Context, input interface{}) context.Context {
	return context.WithValue(ctx, inputKey, input)
}

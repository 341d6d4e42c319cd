package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "esm"
)

// Ключи лимитера: по одному счетчику на пару (клиент, роут) в текущем окне
const (
	RedisKeyRateLimitPrefix = RedisNamespace + ":ratelimit:"
)

// GetRateLimitKey Генератор ключа счетчика для конкретного клиента и роута
func GetRateLimitKey(clientIP, route string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyRateLimitPrefix, clientIP, route)
}

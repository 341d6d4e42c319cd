package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Result — решение лимитера по одному запросу
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store — бэкенд счетчиков. MemoryStore для одного инстанса,
// RedisStore — для горизонтального масштабирования (атомарный INCR).
type Store interface {
	// Incr атомарно выполняет check-and-increment фиксированного окна
	Incr(ctx context.Context, key string, window time.Duration, max int) (Result, error)
}

// Limiter — фиксированное окно поверх Store. Окно намеренно фиксированное,
// а не скользящее: всплески на границе окон — принятый компромисс.
type Limiter struct {
	store  Store
	logger *zap.Logger
}

func NewLimiter(store Store, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, logger: logger.Named("ratelimit")}
}

// CheckAndConsume проверяет и потребляет один запрос для ключа.
// Fail-open: любая внутренняя ошибка стора трактуется как "пропустить" —
// лимитер никогда не должен быть причиной 500.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, window time.Duration, max int) Result {
	res, err := l.store.Incr(ctx, key, window, max)
	if err != nil {
		l.logger.Warn("limiter store failed, failing open", zap.String("key", key), zap.Error(err))
		return Result{Allowed: true, Remaining: max, ResetAt: time.Now().Add(window)}
	}
	return res
}

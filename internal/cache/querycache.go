package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	value     interface{}
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// QueryCache — процессо-локальный кэш результатов read-heavy запросов.
// Межпроцессной когерентности нет намеренно: инвалидация действует только
// внутри инстанса, TTL ограничивает окно рассинхронизации.
//
// singleflight схлопывает конкурентные промахи по одному ключу в один
// вызов compute — база не получает N одинаковых запросов при прогреве.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	logger  *zap.Logger
	now     func() time.Time

	// Счетчики для метрик гарда
	onHit  func()
	onMiss func()
}

func New(logger *zap.Logger) *QueryCache {
	return &QueryCache{
		entries: make(map[string]entry),
		logger:  logger.Named("querycache"),
		now:     time.Now,
		onHit:   func() {},
		onMiss:  func() {},
	}
}

// WithCounters подключает счетчики попаданий/промахов (prometheus)
func (c *QueryCache) WithCounters(onHit, onMiss func()) *QueryCache {
	c.onHit = onHit
	c.onMiss = onMiss
	return c
}

// GetOrCompute возвращает закэшированное значение или вычисляет его.
// Ключ строит вызывающая сторона из полного набора параметров запроса
// (фильтры, пагинация, requester), чтобы разные выборки не пересекались.
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.expired(c.now()) {
		c.onHit()
		return e.value, nil
	}

	c.onMiss()

	// Do гарантирует один compute на ключ среди конкурентных промахов
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Перепроверка: пока мы ждали очередь singleflight,
		// другой запрос мог уже заполнить кэш
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && !e.expired(c.now()) {
			return e.value, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{value: value, createdAt: c.now(), ttl: ttl}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Invalidate удаляет все ключи, содержащие подстроку prefix;
// пустой prefix очищает кэш целиком.
//
// Дисциплина вызова: запись, способная повлиять на закэшированные чтения,
// инвалидирует ПОСЛЕ коммита транзакции — иначе промах успеет перечитать
// еще не закоммиченные данные и вернуть их в кэш.
func (c *QueryCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.entries = make(map[string]entry)
		return
	}

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache invalidated", zap.String("prefix", prefix), zap.Int("removed", removed))
	}
}

// Len — текущее число записей (для метрик и тестов)
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryStore — процессо-локальные счетчики под mutex.
// Check-and-increment атомарен относительно одного запроса: решение
// "пропустить/отклонить" и инкремент происходят под одной блокировкой,
// поэтому при настоящем параллелизме сквозь окно не пройдет больше max.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]bucket
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]bucket),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, max int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = bucket{count: 0, resetAt: now.Add(window)}
	}

	if b.count >= max {
		// Отказ не инкрементирует счетчик
		s.buckets[key] = b
		return Result{Allowed: false, Remaining: 0, ResetAt: b.resetAt}, nil
	}

	b.count++
	s.buckets[key] = b
	return Result{Allowed: true, Remaining: max - b.count, ResetAt: b.resetAt}, nil
}

// StartJanitor периодически выметает протухшие ключи, иначе мапа растет
// неограниченно под уникальными клиентами. Останавливается по контексту.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, b := range s.buckets {
		if !now.Before(b.resetAt) {
			delete(s.buckets, key)
		}
	}
}

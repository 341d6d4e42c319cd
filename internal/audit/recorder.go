package audit

/*
Файл recorder.go реализует Recorder — best-effort движок записи событий
безопасности и аудита.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в буферизованный канал из Hot Path
  гарда. Задержки и сбои Postgres не влияют на Response Time и никогда
  не меняют исход исходного запроса.
- Batching & Efficiency: накопление в памяти и пакетная запись (Bulk Insert)
  по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при Stop() канал запирается, воркер
  вычитывает остатки и делает Final Flush — события не теряются при рестарте.
- Load Shedding: при переполнении буфера событие сбрасывается в операционный
  лог; частота таких сообщений ограничена rate.Limiter, чтобы авария стора
  не породила шторм логов.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventStorage определяет, куда физически сохраняются оба потока
type EventStorage interface {
	WriteSecurityEvents(ctx context.Context, events []SecurityEvent) error
	WriteAuditEntries(ctx context.Context, entries []AuditLogEntry) error
}

const (
	kindSecurity = iota
	kindAudit
)

type envelope struct {
	kind  int
	event SecurityEvent
	entry AuditLogEntry
}

type Recorder struct {
	ch     chan envelope
	repo   EventStorage
	logger *zap.Logger
	wg     sync.WaitGroup

	// Ограничитель операционных сообщений об отказах (не чаще 1/сек, burst 5)
	errLimiter *rate.Limiter

	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)

	batchSize     int
	flushInterval time.Duration
}

func NewRecorder(repo EventStorage, logger *zap.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:            make(chan envelope, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "recorder")),
		errLimiter:    rate.NewLimiter(rate.Every(time.Second), 5),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop запирает вход и ждет, пока воркер допишет остатки (Final Flush)
func (r *Recorder) Stop() {
	atomic.StoreInt32(&r.isClosed, 1)

	// Крошечная пауза, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("recorder stopped gracefully")
}

// RecordSecurityEvent ставит событие в очередь. Никогда не возвращает ошибку:
// сбой записи — проблема мониторинга, а не корректности запроса.
func (r *Recorder) RecordSecurityEvent(event SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.enqueue(envelope{kind: kindSecurity, event: event})
}

// RecordAuditEntry ставит запись комплаенс-трейла в очередь, тоже best-effort
func (r *Recorder) RecordAuditEntry(entry AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.Category == "" {
		entry.Category = "system"
	}
	r.enqueue(envelope{kind: kindAudit, entry: entry})
}

func (r *Recorder) enqueue(env envelope) {
	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&r.isClosed) == 1 {
		if r.errLimiter.Allow() {
			r.logger.Warn("event dropped: recorder is stopping")
		}
		return
	}

	// Стратегия Load Shedding: переполненный буфер не блокирует запрос
	select {
	case r.ch <- env:
	default:
		if r.errLimiter.Allow() {
			r.logger.Error("audit_buffer_overflow", zap.Int("kind", env.kind))
		}
	}
}

// BufferFill — текущая заполненность очереди (для метрик)
func (r *Recorder) BufferFill() int {
	return len(r.ch)
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	secBatch := make([]SecurityEvent, 0, r.batchSize)
	audBatch := make([]AuditLogEntry, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		// Background: основной контекст может быть уже закрыт при shutdown
		if len(secBatch) > 0 {
			if err := r.repo.WriteSecurityEvents(context.Background(), secBatch); err != nil && r.errLimiter.Allow() {
				r.logger.Error("security events flush failed", zap.Error(err), zap.Int("count", len(secBatch)))
			}
			secBatch = secBatch[:0]
		}
		if len(audBatch) > 0 {
			if err := r.repo.WriteAuditEntries(context.Background(), audBatch); err != nil && r.errLimiter.Allow() {
				r.logger.Error("audit entries flush failed", zap.Error(err), zap.Int("count", len(audBatch)))
			}
			audBatch = audBatch[:0]
		}
	}

	for {
		select {
		case env, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop() — самодостаточный сигнал завершения.
				// Воркер сначала вычитал всё, что оставалось в очереди,
				// и только теперь делает финальный сброс.
				flush()
				r.logger.Info("recorder worker finished")
				return
			}
			switch env.kind {
			case kindSecurity:
				secBatch = append(secBatch, env.event)
			case kindAudit:
				audBatch = append(audBatch, env.entry)
			}
			if len(secBatch)+len(audBatch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

package audit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultRiskScore возвращается при недоступности стора: скоринг деградирует
// мягко и никогда не блокирует путь запроса.
const DefaultRiskScore = 50

// RiskSignals — контекстные сигналы для одного события.
// Сама оценка — чистая функция над этой структурой, тестируется без БД.
type RiskSignals struct {
	OutsideBusinessHours bool // до 06:00 или после 22:00 локального времени сервера
	FirstSeenIP          bool // нет успешных событий с этой пары (user, ip) за 30 дней
	RecentFailedLogins   int  // login_failed за последние 60 минут
	DistinctSessionIPs   int  // IP с login_success/session_active за 60 минут
}

// ScoreSignals — аддитивная эвристика, ограниченная сверху 100
func ScoreSignals(s RiskSignals) int {
	score := 0
	if s.OutsideBusinessHours {
		score += 20
	}
	if s.FirstSeenIP {
		score += 30
	}
	score += s.RecentFailedLogins * 10
	if s.DistinctSessionIPs > 2 {
		score += 25
	}
	if score > 100 {
		return 100
	}
	return score
}

// SignalSource достает исторические сигналы из стора событий
type SignalSource interface {
	CollectRiskSignals(ctx context.Context, userID, ip string) (RiskSignals, error)
}

// RiskScorer считает оценку риска события. Обращения к стору обернуты
// в Circuit Breaker: при открытом предохранителе сразу отдаем дефолт,
// не дожидаясь таймаутов умирающей базы.
type RiskScorer struct {
	source SignalSource
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	now    func() time.Time // подменяется в тестах
}

func NewRiskScorer(source SignalSource, logger *zap.Logger) *RiskScorer {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "risk-signals",
		Interval: 30 * time.Second,
		Timeout:  15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &RiskScorer{
		source: source,
		cb:     cb,
		logger: logger.Named("risk"),
		now:    time.Now,
	}
}

// Score возвращает оценку [0,100]. Оценка advisory: она записывается в
// SecurityEvent, но сама по себе никогда не блокирует запрос.
func (rs *RiskScorer) Score(ctx context.Context, userID, ip, userAgent, eventType string) int {
	result, err := rs.cb.Execute(func() (interface{}, error) {
		return rs.source.CollectRiskSignals(ctx, userID, ip)
	})
	if err != nil {
		rs.logger.Warn("risk signals unavailable, using default score",
			zap.String("event_type", eventType), zap.Error(err))
		return DefaultRiskScore
	}

	signals := result.(RiskSignals)
	hour := rs.now().Hour()
	signals.OutsideBusinessHours = hour < 6 || hour > 22

	return ScoreSignals(signals)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// queryTimeout — фиксированный таймаут на один запрос. Протухший запрос
// всплывает к хендлеру как ошибка; автоматических ретраев на пути запроса нет.
const queryTimeout = 25 * time.Second

// Connect создает пул с таймаутом стейтментов и проверяет доступность базы.
// Ретраи только на старте процесса: база может подниматься параллельно с нами.
func Connect(ctx context.Context, url string, maxConns, minConns int32, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", queryTimeout.Milliseconds())
	cfg.ConnConfig.RuntimeParams["application_name"] = "esm-guard"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database not ready, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	logger.Info("database pool ready",
		zap.Int32("max_conns", cfg.MaxConns), zap.Int32("min_conns", cfg.MinConns))
	return pool, nil
}

// HealthSnapshot — состояние пула для /health
type HealthSnapshot struct {
	Connected bool    `json:"connected"`
	LatencyMs int64   `json:"latency_ms"`
	Total     int32   `json:"total_conns"`
	Idle      int32   `json:"idle_conns"`
	Error     string  `json:"error,omitempty"`
}

func CheckHealth(ctx context.Context, pool *pgxpool.Pool) HealthSnapshot {
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		return HealthSnapshot{Connected: false, Error: err.Error()}
	}

	stat := pool.Stat()
	return HealthSnapshot{
		Connected: true,
		LatencyMs: time.Since(start).Milliseconds(),
		Total:     stat.TotalConns(),
		Idle:      stat.IdleConns(),
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/esm-guard/internal/audit"
	"github.com/xela07ax/esm-guard/internal/authz"
	"github.com/xela07ax/esm-guard/internal/cache"
	"github.com/xela07ax/esm-guard/internal/console/handler"
	"github.com/xela07ax/esm-guard/internal/console/server"
	"github.com/xela07ax/esm-guard/internal/console/service"
	"github.com/xela07ax/esm-guard/internal/guard"
	"github.com/xela07ax/esm-guard/internal/infra"
	"github.com/xela07ax/esm-guard/internal/ratelimit"
	"github.com/xela07ax/esm-guard/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ресурсы: Postgres
	pool, err := postgres.Connect(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns, logger)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer pool.Close()

	// 3. Хранилище лимитера: in-memory для одного инстанса, Redis для кластера
	var store ratelimit.Store
	switch cfg.Guard.RateLimitStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(appCtx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.Error(err))
		}
		defer rdb.Close()
		store = ratelimit.NewRedisStore(rdb, infra.RedisKeyRateLimitPrefix)
		logger.Info("rate limiter backend: redis", zap.String("addr", cfg.Redis.Addr))
	default:
		mem := ratelimit.NewMemoryStore()
		mem.StartJanitor(appCtx, cfg.Guard.JanitorInterval)
		store = mem
		logger.Info("rate limiter backend: memory")
	}
	limiter := ratelimit.NewLimiter(store, logger)

	// 4. Аудит: асинхронный рекордер поверх Postgres + рисковый скоринг
	eventStore := postgres.NewEventStore(pool)
	recorder := audit.NewRecorder(eventStore, logger,
		cfg.Guard.AuditBufferSize, cfg.Guard.AuditBatchSize, cfg.Guard.AuditFlushInterval)
	recorder.Start()
	defer recorder.Stop()

	scorer := audit.NewRiskScorer(eventStore, logger)

	// 5. Ключи и проверка токенов
	publicKey, err := authz.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid auth public key", zap.Error(err))
	}
	privateKey, err := authz.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid auth private key", zap.Error(err))
	}
	resolver := authz.NewTokenValidator(publicKey)

	// 6. Метрики
	reg := prometheus.NewRegistry()
	metrics := guard.NewMetrics(reg)

	// Заполненность очереди аудита — индикатор деградации стора
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(recorder.BufferFill()))
			}
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 7. Сервисный слой (Dependency Injection)
	g := guard.New(limiter, resolver, recorder, metrics, logger)

	queryCache := cache.New(logger).WithCounters(metrics.CacheHits.Inc, metrics.CacheMisses.Inc)
	userRepo := postgres.NewUserRepo(pool)

	authService := service.NewAuthService(userRepo, recorder, scorer, privateKey, cfg.Auth.TokenTTL, logger)
	userService := service.NewUserService(userRepo, queryCache, recorder, cfg.Guard.CacheTTL, logger)
	auditService := service.NewAuditService(eventStore)

	srv := server.NewConsoleServer(cfg, logger, g, pool,
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(userService),
		handler.NewAuditHandler(auditService),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("esm-guard API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutting down...")

	// Даем 5 секунд на завершение запросов, потом рекордер дописывает очередь
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("exited properly")
}

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

	"github.com/gabrielauvo/autonomo/internal/audit"
	"github.com/gabrielauvo/autonomo/internal/connectors"
	"github.com/gabrielauvo/autonomo/internal/conversation"
	"github.com/gabrielauvo/autonomo/internal/gateway"
	"github.com/gabrielauvo/autonomo/internal/idempotency"
	"github.com/gabrielauvo/autonomo/internal/infra"
	infraauth "github.com/gabrielauvo/autonomo/internal/infra/auth"
	"github.com/gabrielauvo/autonomo/internal/plan"
	"github.com/gabrielauvo/autonomo/internal/ratelimit"
	"github.com/gabrielauvo/autonomo/internal/repository/postgres"
	"github.com/gabrielauvo/autonomo/internal/sweep"
	"github.com/gabrielauvo/autonomo/internal/tool"
	"github.com/gabrielauvo/autonomo/internal/tools"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
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

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Postgres, Redis
	initCtx, initCancel := context.WithTimeout(appCtx, 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.Database)
	initCancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	repo := postgres.NewRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := tool.NewMetrics(reg)

	// 4. Аудит: асинхронный trail поверх пакетного писателя
	trail := audit.NewTrailSized(auditRepo, logger, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval)
	trail.SetBufferGauge(func(n int) { metrics.AuditBufferFill.Set(float64(n)) })
	trail.Start()
	defer trail.Stop()

	auditService := audit.NewService(trail, auditRepo, logger)

	// 5. Ядро оркестрации
	idemService := idempotency.NewService(postgres.NewIdempotencyRepo(pool), logger)
	idemService.SetMetrics(metrics)

	registry := tool.NewRegistry(auditService, metrics, logger)

	base := tool.NewBase(repo)
	tierOf := func(userID string) string {
		user, err := repo.GetUserByID(appCtx, userID)
		if err != nil {
			return "FREE" // Неизвестный пользователь считается самым ограниченным тарифом
		}
		return user.PlanTier
	}

	// Платежный шлюз за надежностной оберткой (rate limit, breaker, retries)
	paymentGateway := connectors.NewReliableGateway(&connectors.MockGateway{})
	notifier := connectors.NewLogNotifier(logger)

	// Явная регистрация инструментов: весь каталог собирается на старте,
	// в рантайме состав не меняется
	registry.Register(tools.NewCreateClient(base, repo, tierOf))
	registry.Register(tools.NewGetClient(repo))
	registry.Register(tools.NewCreateQuote(base, repo, tierOf))
	registry.Register(tools.NewUpdateWorkOrder(base, repo))
	registry.Register(tools.NewCreatePayment(base, repo, repo, paymentGateway))
	registry.Register(tools.NewSendNotification(base, notifier))

	events := gateway.NewRedisEventPublisher(rdb)
	planService := plan.NewService(repo, repo, repo, registry, idemService, auditService, events, logger)
	planService.SetMetrics(metrics)

	machine := conversation.NewMachine(repo, logger)
	assistant := gateway.NewAssistant(planService, registry, machine, logger)

	// 6. Control Plane: рубильник аккаунтов
	suspend := gateway.NewSuspendManager(rdb, repo, logger)
	if err := suspend.Warmup(appCtx); err != nil {
		logger.Warn("suspend warmup failed, continuing with empty cache", zap.Error(err))
	}
	go suspend.StartListener(appCtx)

	// 7. Rate limiting (token bucket + failed-operations гейт по аудиту)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute:  cfg.RateLimit.RequestsPerMinute,
		Burst:              cfg.RateLimit.Burst,
		MaxFailuresPerHour: cfg.RateLimit.MaxFailuresPerHour,
	}, auditService, logger)

	// 8. Auth: RS256, закрытый ключ подписывает, открытый проверяет
	privateKey, err := infraauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid private key", zap.Error(err))
	}
	publicKey, err := infraauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid public key", zap.Error(err))
	}
	authService := gateway.NewAuthService(repo, privateKey, publicKey, cfg.Auth.TokenTTL)

	// 9. Фоновые зачистки под распределенными блокировками
	sweeper := sweep.New(rdb, logger)
	if err := sweeper.Register("expired-plans", cfg.Engine.PlanSweepSchedule,
		infra.RedisKeyLockPlanSweep, planService.CleanupExpiredPlans); err != nil {
		logger.Fatal("invalid plan sweep schedule", zap.Error(err))
	}
	if err := sweeper.Register("expired-idempotency", cfg.Engine.IdempotencySweepSchedule,
		infra.RedisKeyLockIdempotencySweep, idemService.CleanupExpired); err != nil {
		logger.Fatal("invalid idempotency sweep schedule", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 10. HTTP: основной шлюз + отдельный порт для метрик
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: gateway.NewServer(
			cfg, logger, authService,
			gateway.SuspendGuard(suspend, auditService, logger),
			gateway.RateGuard(limiter, auditService, logger),
			gateway.NewAuthHandler(authService, logger),
			gateway.NewChatHandler(assistant, repo, logger),
			gateway.NewPlanHandler(planService, repo, logger),
			gateway.NewConversationHandler(machine, logger),
			gateway.NewAuditHandler(auditService, logger),
			gateway.NewAdminHandler(suspend, repo, logger),
			gateway.NewToolsHandler(registry, repo),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("assistant gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("assistant gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("assistant gateway exited properly")
}

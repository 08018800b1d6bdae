// Точка входа Intake Module — приём и обработка документов кредиторов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиенты внешних сервисов, сервисный слой и API handlers,
// запускает очередь webhook, планировщик, topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/caseflow/intake-module/internal/api/handlers"
	"github.com/bigkaa/caseflow/intake-module/internal/api/middleware"
	"github.com/bigkaa/caseflow/intake-module/internal/api/openapi"
	"github.com/bigkaa/caseflow/intake-module/internal/config"
	"github.com/bigkaa/caseflow/intake-module/internal/database"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
	"github.com/bigkaa/caseflow/intake-module/internal/inference"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
	"github.com/bigkaa/caseflow/intake-module/internal/server"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
	"github.com/bigkaa/caseflow/intake-module/internal/ticketing"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Intake Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("IM_DEPHEALTH_GROUP") == "" {
		logger.Warn("IM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}
	if cfg.WebhookSignaturePolicy == config.SignaturePolicyPermissive {
		logger.Warn("Подпись webhook проверяется в режиме permissive, неподписанные пакеты принимаются")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиенты внешних сервисов
	inferenceClient, err := inference.New(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.InferenceTimeout, cfg.CACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента сервиса распознавания", slog.String("error", err.Error()))
		os.Exit(1)
	}
	hookClient, err := hookclient.New(cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента downstream-webhook", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ticketClient, err := ticketing.New(cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента тикет-системы", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repositories
	txRunner := repository.NewTxRunner(pool)
	caseRepo := repository.NewCaseRepository(pool, txRunner)
	directoryRepo := repository.NewCreditorDirectoryRepository(pool)
	sweepStateRepo := repository.NewSweepStateRepository(pool)
	jobRepo := repository.NewWebhookJobRepository(pool)

	// 7. Services
	updater := service.NewCaseUpdater(caseRepo)
	enricher := service.NewEnricher(directoryRepo, cfg.EnrichmentCacheSize, cfg.EnrichmentCacheTTL, logger)
	escalation := service.NewEscalationService(
		ticketClient, updater,
		cfg.TicketingRatePerSecond, cfg.TicketingBurst, cfg.TicketingTimeout,
		logger,
	)
	dedupRunner := service.NewDedupRunner(
		caseRepo, updater, inferenceClient,
		cfg.InferenceTimeout, cfg.DedupGuardStaleAfter,
		logger,
	)
	ingestion := service.NewIngestionService(
		updater, enricher, escalation,
		cfg.ReviewConfidenceThreshold, cfg.ProcessingWebhookDelay,
		logger,
	)
	queue := service.NewWebhookQueue(
		jobRepo, ingestion,
		cfg.WebhookWorkerInterval, cfg.WebhookMaxRetries,
		cfg.WebhookRetryBase, cfg.WebhookRetryMax,
		logger,
	)
	scheduler := service.NewScheduler(
		schedulerConfig(cfg),
		caseRepo, updater, hookClient, escalation, dedupRunner, sweepStateRepo,
		logger,
	)
	caseActions := service.NewCaseActions(updater, caseRepo, hookClient, logger)
	reviewSvc := service.NewReviewService(updater, logger)
	creditorSvc := service.NewCreditorService(updater, logger)

	// 8. topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"intake-module",
		cfg.DephealthGroup,
		pgDB,
		service.DependencyEndpoints{
			PostgresURL:     cfg.DatabaseURL(),
			KeycloakJWKSURL: cfg.JWTJWKSURL,
			InferenceURL:    cfg.InferenceURL,
			TicketingURL:    cfg.TicketingURL,
			HookURL:         cfg.HookURL,
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. Readiness checkers (PostgreSQL + Keycloak)
	pgChecker := database.NewReadinessChecker(pool)
	kcChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания Keycloak readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var deps handlers.DependencyHealth
	if dephealthSvc != nil {
		deps = dephealthSvc
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, kcChecker, deps)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Health:      healthHandler,
		Cases:       caseActions,
		Review:      reviewSvc,
		Creditors:   creditorSvc,
		Dedup:       dedupRunner,
		Jobs:        queue,
		Scheduler:   scheduler,
		SweepStates: sweepStateRepo,
		Directory:   enricher,
		DirList:     directoryRepo,
	}, logger)

	// 11. JWT middleware, подпись webhook, OpenAPI валидатор
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.RoleAdminGroups,
		cfg.RoleAgentGroups,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	signature := middleware.NewSignatureVerifier(
		cfg.WebhookSecret,
		middleware.ParseSignaturePolicy(cfg.WebhookSignaturePolicy),
		cfg.WebhookMaxAge,
		cfg.WebhookMaxSkew,
		cfg.WebhookMaxBodyBytes,
		logger,
	)

	contract, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator := openapi.NewValidator(contract, logger)

	// 12. Запуск фоновых задач
	queue.Start(ctx)
	if cfg.SchedulerEnabled {
		scheduler.Start(ctx)
	} else {
		logger.Info("Планировщик отключён (IM_SCHEDULER_ENABLED=false), проходы доступны только вручную")
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, server.Middlewares{
		Auth:      jwtAuth.Middleware(),
		Signature: signature.Middleware(),
		Validate:  validator.Middleware,
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	scheduler.Stop()
	queue.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := escalation.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Не все эскалации завершены", slog.String("error", err.Error()))
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Intake Module остановлен")
}

// schedulerConfig собирает параметры планировщика из конфигурации.
func schedulerConfig(cfg *config.Config) service.SchedulerConfig {
	return service.SchedulerConfig{
		InitialDelay: cfg.SchedulerInitialDelay,
		Concurrency:  cfg.SweepConcurrency,
		BatchSize:    cfg.SweepBatchSize,
		Intervals: map[model.SweepName]time.Duration{
			model.SweepDocumentReminder: cfg.DocumentReminderInterval,
			model.SweepDelayedWebhook:   cfg.DelayedWebhookInterval,
			model.SweepLoginReminder:    cfg.LoginReminderInterval,
			model.SweepSevenDayReview:   cfg.SevenDayReviewInterval,
			model.SweepAutoConfirm:      cfg.AutoConfirmInterval,
			model.SweepAIRededup:        cfg.RededupInterval,
		},
		ProcessingWebhookDelay: cfg.ProcessingWebhookDelay,
		UploadQuietPeriod:      cfg.UploadQuietPeriod,
		SevenDayReviewDelay:    cfg.SevenDayReviewDelay,
		AutoConfirmWindow:      cfg.AutoConfirmWindow,
		DocumentReminderAfter:  cfg.DocumentReminderAfter,
		LoginReminderAfter:     cfg.LoginReminderAfter,
		RededupDelay:           cfg.RededupDelay,
	}
}

// Пакет server — HTTP-сервер Intake Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/caseflow/intake-module/internal/api/handlers"
	"github.com/bigkaa/caseflow/intake-module/internal/api/middleware"
	"github.com/bigkaa/caseflow/intake-module/internal/config"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/rbac"
)

// Scopes сервисных аккаунтов.
const (
	ScopeCasesRead  = "cases:read"
	ScopeCasesWrite = "cases:write"
)

// Server — HTTP-сервер Intake Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Middlewares — middleware, подключаемые к маршрутам.
// Auth — JWT middleware (nil — без аутентификации, только для тестов).
// Validate — валидация запросов по OpenAPI контракту (может быть nil).
type Middlewares struct {
	Auth      func(http.Handler) http.Handler
	Signature func(http.Handler) http.Handler
	Validate  func(http.Handler) http.Handler
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, mw Middlewares) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, mw),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, mw Middlewares) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	validate := orPass(mw.Validate)
	admin := middleware.RequireRole(rbac.RoleAdmin)
	agent := middleware.RequireRole(rbac.RoleAgent)

	router.Route("/api/v1", func(r chi.Router) {
		// Webhook сервиса распознавания: подпись вместо JWT.
		r.With(orPass(mw.Signature), validate).
			Post("/webhooks/document-results", h.ReceiveDocumentResults)

		r.Group(func(r chi.Router) {
			if mw.Auth != nil {
				r.Use(mw.Auth)
			}

			r.With(admin, validate).Get("/webhooks/jobs", h.ListWebhookJobs)
			r.With(admin, validate).Get("/webhooks/jobs/{jobId}", h.GetWebhookJob)

			// Портал и платёжный модуль работают через SA.
			caseWriter := middleware.RequireRoleOrScope(rbac.RoleAdmin, ScopeCasesWrite)
			caseReader := middleware.RequireRoleOrScope(rbac.RoleAgent, ScopeCasesRead, ScopeCasesWrite)

			r.With(caseWriter, validate).Post("/cases", h.CreateCase)
			r.With(caseReader, validate).Get("/cases", h.ListCases)

			// Шаблоны маршрутов совпадают с путями контракта (валидатор ищет по ним операцию).
			r.With(caseReader, validate).Get("/cases/{id}", h.GetCase)
			r.With(caseWriter, validate).Post("/cases/{id}/payment", h.RecordPayment)
			r.With(caseWriter, validate).Post("/cases/{id}/portal-events", h.RecordPortalEvent)

			r.With(agent, validate).Post("/cases/{id}/review-actions", h.ApplyReviewAction)
			r.With(agent, validate).Post("/cases/{id}/review/complete", h.CompleteReview)

			r.With(admin, validate).Post("/cases/{id}/approve", h.ApproveCase)
			r.With(admin, validate).Post("/cases/{id}/creditors", h.AddCreditor)
			r.With(admin, validate).Put("/cases/{id}/creditors/{creditorId}", h.UpdateCreditor)
			r.With(admin, validate).Delete("/cases/{id}/creditors/{creditorId}", h.DeleteCreditor)
			r.With(admin, validate).Post("/cases/{id}/dedup", h.RunDedup)
			r.With(admin, validate).Delete("/cases/{id}/processing-webhook", h.CancelProcessingWebhook)
			r.With(admin, validate).Post("/cases/{id}/seven-day-review/skip-delay", h.SkipSevenDayDelay)

			r.With(agent, validate).Get("/creditor-directory", h.ListDirectory)
			r.With(admin, validate).Put("/creditor-directory", h.UpsertDirectoryContact)

			r.With(admin, validate).Get("/scheduler/sweeps", h.ListSweeps)
			r.With(admin, validate).Post("/scheduler/sweeps/{name}", h.RunSweep)
		})
	})

	return router
}

func orPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw != nil {
		return mw
	}
	return func(next http.Handler) http.Handler { return next }
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

// handler.go — основной обработчик API Intake Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
)

// CaseService — операции над делом.
type CaseService interface {
	Create(ctx context.Context, in service.CreateCaseInput, createdBy string) (*model.Case, error)
	Get(ctx context.Context, ref string) (*model.Case, error)
	List(ctx context.Context, status *string, limit, offset int) ([]*model.Case, int, error)
	RecordPayment(ctx context.Context, ref string, receivedAt *time.Time, by string) (*model.Case, error)
	RecordPortalEvent(ctx context.Context, ref string, ev service.PortalEvent, by string) (*model.Case, error)
	Approve(ctx context.Context, ref, admin string) (*model.Case, error)
	CancelProcessingWebhook(ctx context.Context, ref, admin string) (*model.Case, error)
	SkipSevenDayDelay(ctx context.Context, ref, admin string) (*model.Case, error)
}

// ReviewService — действия ручной проверки.
type ReviewService interface {
	Apply(ctx context.Context, caseRef string, req service.ReviewActionRequest) (*service.ReviewActionResult, error)
	CompleteReview(ctx context.Context, caseRef, reviewedBy string) (*model.Case, error)
}

// CreditorEditor — правка списка кредиторов администратором.
type CreditorEditor interface {
	Add(ctx context.Context, caseRef string, in service.CreditorInput, admin string) (*model.Creditor, error)
	Update(ctx context.Context, caseRef, creditorID string, corr service.CreditorCorrection, admin string) (*model.Creditor, error)
	Delete(ctx context.Context, caseRef, creditorID, admin string) error
}

// Deduplicator — охраняемый прогон дедупликации.
type Deduplicator interface {
	Run(ctx context.Context, caseID, trigger string) (*service.DedupOutcome, error)
}

// JobQueue — очередь входящих webhook.
type JobQueue interface {
	Enqueue(ctx context.Context, payload []byte) (*service.EnqueueResult, error)
	GetJob(ctx context.Context, jobID string) (*model.WebhookJob, error)
	ListJobs(ctx context.Context, status *string, limit int) ([]*model.WebhookJob, error)
}

// SweepRunner — ручной запуск прохода планировщика.
type SweepRunner interface {
	RunSweep(ctx context.Context, name model.SweepName) (*model.SweepResult, error)
}

// SweepStates — сохранённые итоги проходов.
type SweepStates interface {
	List(ctx context.Context) ([]model.SweepState, error)
}

// ContactDirectory — справочник контактов кредиторов.
type ContactDirectory interface {
	UpsertContact(ctx context.Context, name, email, address string) (*model.CreditorContact, error)
}

// DirectoryLister — постраничный просмотр справочника.
type DirectoryLister interface {
	List(ctx context.Context, limit, offset int) ([]*model.CreditorContact, error)
}

// Deps — зависимости обработчиков. Неиспользуемые в тестах поля могут быть nil.
type Deps struct {
	Health      *HealthHandler
	Cases       CaseService
	Review      ReviewService
	Creditors   CreditorEditor
	Dedup       Deduplicator
	Jobs        JobQueue
	Scheduler   SweepRunner
	SweepStates SweepStates
	Directory   ContactDirectory
	DirList     DirectoryLister
}

// APIHandler — основной обработчик API Intake Module.
type APIHandler struct {
	Deps
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		Deps:   deps,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — проверка liveness (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.Health.HealthLive(w, r)
}

// HealthReady — проверка readiness (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.Health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.Health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 с сообщением fallback.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, service.ErrSweepBusy):
		apierrors.SweepBusy(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error(fallback,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, fallback)
	}
}

// decodeJSON читает тело запроса. Пустое тело допустимо, если allowEmpty.
func decodeJSON(r *http.Request, dest any, allowEmpty bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		return errors.New("пустое тело запроса")
	}
	err := json.NewDecoder(r.Body).Decode(dest)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pathParam извлекает обязательный параметр пути.
func pathParam(r *http.Request, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	return v, err
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 50
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 500 {
			l = 500
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// bindPagination читает limit и offset из query.
func bindPagination(r *http.Request) (int, int, error) {
	var limit, offset *int
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		return 0, 0, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &offset); err != nil {
		return 0, 0, err
	}
	l, o := paginationDefaults(limit, offset)
	return l, o, nil
}

// bindStatus читает необязательный фильтр status из query.
func bindStatus(r *http.Request) (*string, error) {
	var status *string
	err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &status)
	return status, err
}

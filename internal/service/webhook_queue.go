// webhook_queue.go — очередь входящих webhook с результатами AI-обработки.
//
// HTTP-обработчик только ставит задачу в очередь (202 Accepted).
// Фоновый обработчик забирает задачи (FOR UPDATE SKIP LOCKED) и вызывает
// IngestionService.ProcessBatch. Ошибка валидации или неизвестное дело
// переводят задачу в failed; прочие ошибки — повтор с экспоненциальной
// задержкой до max_retries.
//
// Prometheus-метрики:
//   - im_webhook_jobs_total — обработанные задачи по результату
//     (completed, retrying, failed, requeued)
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
)

var webhookJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_webhook_jobs_total",
	Help: "Задачи очереди входящих webhook по результату обработки.",
}, []string{"result"})

// stuckJobAfter — задача в processing дольше этого возвращается в очередь.
const stuckJobAfter = 10 * time.Minute

// JobStore — хранилище задач очереди.
type JobStore interface {
	Enqueue(ctx context.Context, job *model.WebhookJob) (bool, error)
	ClaimNext(ctx context.Context, now time.Time) (*model.WebhookJob, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id string, nextRetryAt time.Time, errText string) error
	MarkFailed(ctx context.Context, id string, errText string) error
	RequeueStuck(ctx context.Context, startedBefore time.Time) (requeued, failed int64, err error)
	GetByJobID(ctx context.Context, jobID string) (*model.WebhookJob, error)
	ListByStatus(ctx context.Context, status *string, limit int) ([]*model.WebhookJob, error)
}

// BatchProcessor — обработка пакета результатов.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch *model.ResultBatch) (*IngestionResult, error)
}

// EnqueueResult — итог постановки в очередь.
type EnqueueResult struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
	// Queued — false, если задача с этим job_id уже известна
	Queued bool   `json:"queued"`
	Status string `json:"status"`
}

// WebhookQueue — очередь и фоновый обработчик входящих webhook.
type WebhookQueue struct {
	jobs       JobStore
	processor  BatchProcessor
	interval   time.Duration
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWebhookQueue создаёт WebhookQueue.
func NewWebhookQueue(
	jobs JobStore,
	processor BatchProcessor,
	interval time.Duration,
	maxRetries int,
	retryBase, retryMax time.Duration,
	logger *slog.Logger,
) *WebhookQueue {
	return &WebhookQueue{
		jobs:       jobs,
		processor:  processor,
		interval:   interval,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		logger:     logger.With(slog.String("component", "webhook_queue")),
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue проверяет тело webhook и ставит задачу в очередь.
// Повтор job_id для незавершённой или выполненной задачи не создаёт новую.
func (q *WebhookQueue) Enqueue(ctx context.Context, payload []byte) (*EnqueueResult, error) {
	var batch model.ResultBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("%w: некорректный JSON: %w", ErrValidation, err)
	}
	if strings.TrimSpace(batch.ClientID) == "" {
		return nil, fmt.Errorf("%w: client_id обязателен", ErrValidation)
	}
	if batch.JobID == "" {
		batch.JobID = uuid.NewString()
	}

	job := &model.WebhookJob{
		ID:          uuid.NewString(),
		JobID:       batch.JobID,
		WebhookType: model.WebhookTypeDocumentResults,
		CaseID:      batch.ClientID,
		Payload:     payload,
		Status:      model.JobPending,
		MaxRetries:  q.maxRetries,
	}
	queued, err := q.jobs.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("постановка задачи %s: %w", batch.JobID, err)
	}

	res := &EnqueueResult{JobID: batch.JobID, ClientID: batch.ClientID, Queued: queued}
	if queued {
		res.Status = string(job.Status)
		q.notify()
	} else if existing, err := q.jobs.GetByJobID(ctx, batch.JobID); err == nil {
		res.Status = string(existing.Status)
	}

	q.logger.Info("Webhook принят",
		slog.String("job_id", batch.JobID),
		slog.String("client_id", batch.ClientID),
		slog.Bool("queued", queued),
		slog.Int("results", len(batch.Results)),
	)
	return res, nil
}

// GetJob возвращает задачу по job_id.
func (q *WebhookQueue) GetJob(ctx context.Context, jobID string) (*model.WebhookJob, error) {
	j, err := q.jobs.GetByJobID(ctx, jobID)
	return j, mapRepoError(err)
}

// ListJobs возвращает задачи со статусом (nil — все).
func (q *WebhookQueue) ListJobs(ctx context.Context, status *string, limit int) ([]*model.WebhookJob, error) {
	return q.jobs.ListByStatus(ctx, status, limit)
}

func (q *WebhookQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start запускает фоновый обработчик очереди.
func (q *WebhookQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)

		q.logger.Info("Обработчик очереди webhook запущен",
			slog.String("interval", q.interval.String()),
			slog.Int("max_retries", q.maxRetries),
		)

		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		q.requeueStuck(ctx)
		for {
			select {
			case <-ctx.Done():
				q.logger.Info("Обработчик очереди webhook остановлен")
				return
			case <-ticker.C:
				q.requeueStuck(ctx)
				q.Drain(ctx)
			case <-q.wake:
				q.Drain(ctx)
			}
		}
	}()
}

// Stop останавливает обработчик и ждёт завершения текущей задачи.
func (q *WebhookQueue) Stop() {
	q.once.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		if q.done != nil {
			<-q.done
		}
	})
}

// Drain обрабатывает готовые задачи, пока очередь не опустеет.
// Возвращает число обработанных задач.
func (q *WebhookQueue) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		job, err := q.jobs.ClaimNext(ctx, q.now().UTC())
		if errors.Is(err, repository.ErrNotFound) {
			return n
		}
		if err != nil {
			q.logger.Error("Ошибка захвата задачи", slog.String("error", err.Error()))
			return n
		}
		q.process(ctx, job)
		n++
	}
	return n
}

func (q *WebhookQueue) process(ctx context.Context, job *model.WebhookJob) {
	logger := q.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("client_id", job.CaseID),
	)

	var batch model.ResultBatch
	if err := json.Unmarshal(job.Payload, &batch); err != nil {
		q.fail(ctx, logger, job, fmt.Sprintf("некорректный payload: %v", err))
		return
	}
	if batch.JobID == "" {
		batch.JobID = job.JobID
	}

	res, err := q.processor.ProcessBatch(ctx, &batch)
	if err == nil {
		if err := q.jobs.MarkCompleted(context.WithoutCancel(ctx), job.ID, q.now().UTC()); err != nil {
			logger.Error("Ошибка завершения задачи", slog.String("error", err.Error()))
			return
		}
		webhookJobsTotal.WithLabelValues("completed").Inc()
		logger.Info("Задача обработана",
			slog.String("case_id", res.CaseID),
			slog.String("status", string(res.Status)),
		)
		return
	}

	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || job.RetryCount >= job.MaxRetries {
		q.fail(ctx, logger, job, err.Error())
		return
	}

	next := q.now().UTC().Add(q.backoff(job.RetryCount))
	if mErr := q.jobs.MarkRetry(context.WithoutCancel(ctx), job.ID, next, err.Error()); mErr != nil {
		logger.Error("Ошибка планирования повтора", slog.String("error", mErr.Error()))
		return
	}
	webhookJobsTotal.WithLabelValues("retrying").Inc()
	logger.Warn("Ошибка обработки задачи, повтор запланирован",
		slog.Int("retry", job.RetryCount+1),
		slog.Time("next_retry_at", next),
		slog.String("error", err.Error()),
	)
}

func (q *WebhookQueue) fail(ctx context.Context, logger *slog.Logger, job *model.WebhookJob, reason string) {
	if err := q.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, reason); err != nil {
		logger.Error("Ошибка перевода задачи в failed", slog.String("error", err.Error()))
		return
	}
	webhookJobsTotal.WithLabelValues("failed").Inc()
	logger.Error("Задача завершилась ошибкой",
		slog.Int("retry_count", job.RetryCount),
		slog.String("error", reason),
	)
}

// backoff — retryBase·2^n, не больше retryMax.
func (q *WebhookQueue) backoff(retry int) time.Duration {
	d := q.retryBase
	for i := 0; i < retry && d < q.retryMax; i++ {
		d *= 2
	}
	return min(d, q.retryMax)
}

func (q *WebhookQueue) requeueStuck(ctx context.Context) {
	requeued, failed, err := q.jobs.RequeueStuck(ctx, q.now().UTC().Add(-stuckJobAfter))
	if err != nil {
		q.logger.Error("Ошибка возврата зависших задач", slog.String("error", err.Error()))
		return
	}
	if requeued > 0 {
		webhookJobsTotal.WithLabelValues("requeued").Add(float64(requeued))
		q.logger.Warn("Зависшие задачи возвращены в очередь", slog.Int64("count", requeued))
	}
	if failed > 0 {
		webhookJobsTotal.WithLabelValues("failed").Add(float64(failed))
		q.logger.Error("Зависшие задачи исчерпали попытки", slog.Int64("count", failed))
	}
}

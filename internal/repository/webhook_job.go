package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// WebhookJobRepository — интерфейс очереди входящих webhook (таблица webhook_jobs).
type WebhookJobRepository interface {
	// Enqueue ставит задачу в очередь. Повтор job_id для pending, processing,
	// retrying или completed задачи ничего не меняет (false). Задача в failed
	// перезапускается с новым payload.
	Enqueue(ctx context.Context, job *model.WebhookJob) (bool, error)
	// ClaimNext атомарно забирает самую старую готовую задачу в processing.
	// ErrNotFound — готовых задач нет.
	ClaimNext(ctx context.Context, now time.Time) (*model.WebhookJob, error)
	// MarkCompleted переводит задачу в completed.
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	// MarkRetry переводит задачу в retrying с временем следующей попытки.
	MarkRetry(ctx context.Context, id string, nextRetryAt time.Time, errText string) error
	// MarkFailed переводит задачу в failed.
	MarkFailed(ctx context.Context, id string, errText string) error
	// RequeueStuck возвращает в retrying задачи, зависшие в processing,
	// засчитывая прерванную попытку. Исчерпавшие max_retries переводятся в failed.
	RequeueStuck(ctx context.Context, startedBefore time.Time) (requeued, failed int64, err error)
	// GetByJobID возвращает задачу по идентификатору отправителя.
	GetByJobID(ctx context.Context, jobID string) (*model.WebhookJob, error)
	// ListByStatus возвращает задачи со статусом (nil — все).
	ListByStatus(ctx context.Context, status *string, limit int) ([]*model.WebhookJob, error)
}

// webhookJobRepo — реализация WebhookJobRepository.
type webhookJobRepo struct {
	db DBTX
}

// NewWebhookJobRepository создаёт репозиторий очереди webhook.
func NewWebhookJobRepository(db DBTX) WebhookJobRepository {
	return &webhookJobRepo{db: db}
}

const webhookJobColumns = `
	id, job_id, webhook_type, case_id, payload, status,
	retry_count, max_retries, next_retry_at, error_details,
	processing_started_at, completed_at, created_at, updated_at`

func scanWebhookJob(row pgx.Row) (*model.WebhookJob, error) {
	j := &model.WebhookJob{}
	var status string
	var payload []byte
	err := row.Scan(
		&j.ID, &j.JobID, &j.WebhookType, &j.CaseID, &payload, &status,
		&j.RetryCount, &j.MaxRetries, &j.NextRetryAt, &j.ErrorDetails,
		&j.ProcessingStartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = model.WebhookJobStatus(status)
	j.Payload = payload
	return j, nil
}

func (r *webhookJobRepo) Enqueue(ctx context.Context, job *model.WebhookJob) (bool, error) {
	query := `
		INSERT INTO webhook_jobs (id, job_id, webhook_type, case_id, payload, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (job_id) DO UPDATE
			SET payload = EXCLUDED.payload,
				case_id = EXCLUDED.case_id,
				status = 'pending',
				retry_count = 0,
				next_retry_at = NULL,
				error_details = '',
				processing_started_at = NULL,
				completed_at = NULL,
				updated_at = NOW()
			WHERE webhook_jobs.status = 'failed'
		RETURNING id, status, created_at, updated_at`

	var status string
	err := r.db.QueryRow(ctx, query,
		job.ID, job.JobID, job.WebhookType, job.CaseID, []byte(job.Payload), job.MaxRetries,
	).Scan(&job.ID, &status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Конфликт без обновления — задача уже известна
			return false, nil
		}
		return false, fmt.Errorf("ошибка постановки задачи в очередь: %w", err)
	}
	job.Status = model.WebhookJobStatus(status)
	return true, nil
}

func (r *webhookJobRepo) ClaimNext(ctx context.Context, now time.Time) (*model.WebhookJob, error) {
	query := `
		UPDATE webhook_jobs
		SET status = 'processing', processing_started_at = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM webhook_jobs
			WHERE status IN ('pending', 'retrying')
				AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + webhookJobColumns

	j, err := scanWebhookJob(r.db.QueryRow(ctx, query, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка захвата задачи: %w", err)
	}
	return j, nil
}

func (r *webhookJobRepo) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "completed", `
		UPDATE webhook_jobs
		SET status = 'completed', completed_at = $2, error_details = '', updated_at = NOW()
		WHERE id = $1`, id, now)
}

func (r *webhookJobRepo) MarkRetry(ctx context.Context, id string, nextRetryAt time.Time, errText string) error {
	return r.execOne(ctx, "retrying", `
		UPDATE webhook_jobs
		SET status = 'retrying', retry_count = retry_count + 1,
			next_retry_at = $2, error_details = $3, updated_at = NOW()
		WHERE id = $1`, id, nextRetryAt, errText)
}

func (r *webhookJobRepo) MarkFailed(ctx context.Context, id string, errText string) error {
	return r.execOne(ctx, "failed", `
		UPDATE webhook_jobs
		SET status = 'failed', error_details = $2, updated_at = NOW()
		WHERE id = $1`, id, errText)
}

func (r *webhookJobRepo) execOne(ctx context.Context, target, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка перевода задачи в %s: %w", target, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *webhookJobRepo) RequeueStuck(ctx context.Context, startedBefore time.Time) (requeued, failed int64, err error) {
	rows, err := r.db.Query(ctx, `
		UPDATE webhook_jobs
		SET status = CASE WHEN retry_count >= max_retries THEN 'failed' ELSE 'retrying' END,
			retry_count = CASE WHEN retry_count >= max_retries THEN retry_count ELSE retry_count + 1 END,
			next_retry_at = NULL,
			error_details = 'обработка прервана',
			updated_at = NOW()
		WHERE status = 'processing' AND processing_started_at < $1
		RETURNING status`, startedBefore)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка возврата зависших задач: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, 0, fmt.Errorf("ошибка чтения статуса задачи: %w", err)
		}
		if status == string(model.JobFailed) {
			failed++
		} else {
			requeued++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("ошибка возврата зависших задач: %w", err)
	}
	return requeued, failed, nil
}

func (r *webhookJobRepo) GetByJobID(ctx context.Context, jobID string) (*model.WebhookJob, error) {
	j, err := scanWebhookJob(r.db.QueryRow(ctx,
		`SELECT `+webhookJobColumns+` FROM webhook_jobs WHERE job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задачи: %w", err)
	}
	return j, nil
}

func (r *webhookJobRepo) ListByStatus(ctx context.Context, status *string, limit int) ([]*model.WebhookJob, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+webhookJobColumns+` FROM webhook_jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка задач: %w", err)
	}
	defer rows.Close()

	var result []*model.WebhookJob
	for rows.Next() {
		j, err := scanWebhookJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задачи: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

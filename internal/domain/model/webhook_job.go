package model

import (
	"encoding/json"
	"time"
)

// WebhookJobStatus — статус задачи обработки входящего webhook.
type WebhookJobStatus string

const (
	JobPending    WebhookJobStatus = "pending"
	JobProcessing WebhookJobStatus = "processing"
	JobCompleted  WebhookJobStatus = "completed"
	JobFailed     WebhookJobStatus = "failed"
	JobRetrying   WebhookJobStatus = "retrying"
)

// WebhookTypeDocumentResults — пакет результатов AI-обработки документов.
const WebhookTypeDocumentResults = "document_results"

// WebhookJob — задача очереди входящих webhook.
// Хранится в таблице webhook_jobs, job_id уникален (идемпотентность).
type WebhookJob struct {
	// ID — UUID записи
	ID string
	// JobID — идентификатор задачи отправителя
	JobID string
	// WebhookType — тип webhook
	WebhookType string
	// CaseID — дело, к которому относится задача
	CaseID string
	// Payload — исходное тело запроса
	Payload json.RawMessage
	// Status — pending, processing, completed, failed, retrying
	Status WebhookJobStatus
	// RetryCount — выполненные повторные попытки
	RetryCount int
	// MaxRetries — лимит повторов
	MaxRetries int
	// NextRetryAt — не раньше этого времени задача снова доступна
	NextRetryAt *time.Time
	// ErrorDetails — текст последней ошибки
	ErrorDetails string

	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// convert.go — преобразование доменных моделей в тела ответов API.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// caseResponse — представление дела в API.
type caseResponse struct {
	ID            string `json:"id"`
	CaseNumber    string `json:"case_number"`
	ClientEmail   string `json:"client_email"`
	CurrentStatus string `json:"current_status"`

	Documents            []model.Document     `json:"documents"`
	FinalCreditorList    []model.Creditor     `json:"final_creditor_list"`
	StatusHistory        []model.HistoryEntry `json:"status_history"`
	DeduplicationHistory []model.DedupRun     `json:"deduplication_history"`
	Tickets              []model.TicketRef    `json:"tickets"`

	Payment  paymentInfo  `json:"payment"`
	Portal   portalInfo   `json:"portal"`
	Schedule scheduleInfo `json:"schedule"`
	Dedup    dedupInfo    `json:"dedup"`
	Approval approvalInfo `json:"approval"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type paymentInfo struct {
	FirstPaymentReceived   bool       `json:"first_payment_received"`
	FirstPaymentReceivedAt *time.Time `json:"first_payment_received_at,omitempty"`
	BothConditionsMetAt    *time.Time `json:"both_conditions_met_at,omitempty"`
}

type portalInfo struct {
	LinkSentAt             *time.Time `json:"portal_link_sent_at,omitempty"`
	LastLoginAt            *time.Time `json:"last_login_at,omitempty"`
	LoginReminderSent      bool       `json:"login_reminder_sent"`
	LoginDocReminderSent   bool       `json:"login_document_reminder_sent"`
	DocumentReminderCount  int        `json:"document_reminder_count"`
	LastDocumentReminderAt *time.Time `json:"last_document_reminder_at,omitempty"`
	ClientConfirmed        bool       `json:"client_confirmed"`
	ClientConfirmedAt      *time.Time `json:"client_confirmed_at,omitempty"`
}

type scheduleInfo struct {
	ProcessingWebhookScheduled    bool       `json:"processing_complete_webhook_scheduled"`
	ProcessingWebhookScheduledFor *time.Time `json:"processing_complete_webhook_scheduled_for,omitempty"`
	ProcessingWebhookTriggered    bool       `json:"processing_complete_webhook_triggered"`
	ProcessingWebhookTriggeredAt  *time.Time `json:"processing_complete_webhook_triggered_at,omitempty"`
	SevenDayReviewScheduled       bool       `json:"seven_day_review_scheduled"`
	SevenDayReviewTriggered       bool       `json:"seven_day_review_triggered"`
	SevenDayReviewTriggeredAt     *time.Time `json:"seven_day_review_triggered_at,omitempty"`
}

type dedupInfo struct {
	InProgress  bool       `json:"dedup_in_progress"`
	StartedAt   *time.Time `json:"dedup_started_at,omitempty"`
	CompletedAt *time.Time `json:"dedup_completed_at,omitempty"`
	RequestedAt *time.Time `json:"dedup_requested_at,omitempty"`
}

type approvalInfo struct {
	AdminApproved   bool       `json:"admin_approved"`
	AdminApprovedAt *time.Time `json:"admin_approved_at,omitempty"`
	AdminApprovedBy string     `json:"admin_approved_by,omitempty"`
}

func toCaseResponse(c *model.Case) caseResponse {
	return caseResponse{
		ID:                   c.ID,
		CaseNumber:           c.CaseNumber,
		ClientEmail:          c.ClientEmail,
		CurrentStatus:        string(c.CurrentStatus),
		Documents:            nonNil(c.Documents),
		FinalCreditorList:    nonNil(c.FinalCreditorList),
		StatusHistory:        nonNil(c.StatusHistory),
		DeduplicationHistory: nonNil(c.DeduplicationHistory),
		Tickets:              nonNil(c.Tickets),
		Payment: paymentInfo{
			FirstPaymentReceived:   c.FirstPaymentReceived,
			FirstPaymentReceivedAt: c.FirstPaymentReceivedAt,
			BothConditionsMetAt:    c.BothConditionsMetAt,
		},
		Portal: portalInfo{
			LinkSentAt:             c.PortalLinkSentAt,
			LastLoginAt:            c.LastLoginAt,
			LoginReminderSent:      c.LoginReminderSent,
			LoginDocReminderSent:   c.LoginDocReminderSent,
			DocumentReminderCount:  c.DocumentReminderCount,
			LastDocumentReminderAt: c.LastDocumentReminderAt,
			ClientConfirmed:        c.ClientConfirmed,
			ClientConfirmedAt:      c.ClientConfirmedAt,
		},
		Schedule: scheduleInfo{
			ProcessingWebhookScheduled:    c.ProcessingWebhookScheduled,
			ProcessingWebhookScheduledFor: c.ProcessingWebhookScheduledFor,
			ProcessingWebhookTriggered:    c.ProcessingWebhookTriggered,
			ProcessingWebhookTriggeredAt:  c.ProcessingWebhookTriggeredAt,
			SevenDayReviewScheduled:       c.SevenDayReviewScheduled,
			SevenDayReviewTriggered:       c.SevenDayReviewTriggered,
			SevenDayReviewTriggeredAt:     c.SevenDayReviewTriggeredAt,
		},
		Dedup: dedupInfo{
			InProgress:  c.DedupInProgress,
			StartedAt:   c.DedupStartedAt,
			CompletedAt: c.DedupCompletedAt,
			RequestedAt: c.DedupRequestedAt,
		},
		Approval: approvalInfo{
			AdminApproved:   c.AdminApproved,
			AdminApprovedAt: c.AdminApprovedAt,
			AdminApprovedBy: c.AdminApprovedBy,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// caseSummary — краткое представление дела для списка.
type caseSummary struct {
	ID            string    `json:"id"`
	CaseNumber    string    `json:"case_number"`
	CurrentStatus string    `json:"current_status"`
	Documents     int       `json:"documents"`
	Creditors     int       `json:"creditors"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type caseListResponse struct {
	Items  []caseSummary `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func toCaseSummary(c *model.Case) caseSummary {
	return caseSummary{
		ID:            c.ID,
		CaseNumber:    c.CaseNumber,
		CurrentStatus: string(c.CurrentStatus),
		Documents:     len(c.Documents),
		Creditors:     len(c.FinalCreditorList),
		UpdatedAt:     c.UpdatedAt,
	}
}

// jobResponse — представление задачи очереди webhook.
type jobResponse struct {
	ID                  string          `json:"id"`
	JobID               string          `json:"job_id"`
	WebhookType         string          `json:"webhook_type"`
	CaseID              string          `json:"case_id,omitempty"`
	Status              string          `json:"status"`
	RetryCount          int             `json:"retry_count"`
	MaxRetries          int             `json:"max_retries"`
	NextRetryAt         *time.Time      `json:"next_retry_at,omitempty"`
	ErrorDetails        string          `json:"error_details,omitempty"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// toJobResponse — withPayload включает исходное тело (только для одной задачи).
func toJobResponse(j *model.WebhookJob, withPayload bool) jobResponse {
	resp := jobResponse{
		ID:                  j.ID,
		JobID:               j.JobID,
		WebhookType:         j.WebhookType,
		CaseID:              j.CaseID,
		Status:              string(j.Status),
		RetryCount:          j.RetryCount,
		MaxRetries:          j.MaxRetries,
		NextRetryAt:         j.NextRetryAt,
		ErrorDetails:        j.ErrorDetails,
		ProcessingStartedAt: j.ProcessingStartedAt,
		CompletedAt:         j.CompletedAt,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
	if withPayload {
		resp.Payload = j.Payload
	}
	return resp
}

type contactResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Email          string    `json:"email,omitempty"`
	Address        string    `json:"address,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toContactResponse(c *model.CreditorContact) contactResponse {
	return contactResponse{
		ID:             c.ID,
		Name:           c.Name,
		NormalizedName: c.NormalizedName,
		Email:          c.Email,
		Address:        c.Address,
		UpdatedAt:      c.UpdatedAt,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

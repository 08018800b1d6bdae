package model

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

// HistoryEntry — запись журнала статусов. Журнал только дополняется.
type HistoryEntry struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	ChangedBy string         `json:"changed_by"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DedupRun — запись о прогоне дедупликации списка кредиторов.
type DedupRun struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"` // inference | local
	Trigger           string    `json:"trigger"`
	OriginalCount     int       `json:"original_count"`
	UniqueCount       int       `json:"unique_count"`
	DuplicatesRemoved int       `json:"duplicates_removed"`
	RunAt             time.Time `json:"run_at"`
}

// TicketRef — ссылка на тикет эскалации во внешней системе.
type TicketRef struct {
	TicketID  string    `json:"ticket_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Case — агрегат дела клиента.
// Хранится в таблице cases: флаги планировщика — отдельными колонками,
// списки — JSONB.
type Case struct {
	// ID — UUID дела
	ID string
	// CaseNumber — номер дела (Aktenzeichen)
	CaseNumber string
	// ClientEmail — e-mail клиента для напоминаний
	ClientEmail string
	// CurrentStatus — текущий статус (меняется только через Transition)
	CurrentStatus workflow.Status

	Documents            []Document
	FinalCreditorList    []Creditor
	StatusHistory        []HistoryEntry
	DeduplicationHistory []DedupRun
	Tickets              []TicketRef

	// --- Оплата и портал ---

	FirstPaymentReceived   bool
	FirstPaymentReceivedAt *time.Time
	PortalLinkSentAt       *time.Time
	LastLoginAt            *time.Time
	LoginReminderSent      bool
	LoginReminderSentAt    *time.Time
	LoginDocReminderSent   bool
	LoginDocReminderSentAt *time.Time
	DocumentReminderCount  int
	LastDocumentReminderAt *time.Time
	BothConditionsMetAt    *time.Time
	ClientConfirmed        bool
	ClientConfirmedAt      *time.Time

	// --- Отложенный webhook «обработка завершена» ---

	ProcessingWebhookScheduled    bool
	ProcessingWebhookScheduledAt  *time.Time
	ProcessingWebhookScheduledFor *time.Time
	ProcessingWebhookTriggered    bool
	ProcessingWebhookTriggeredAt  *time.Time

	// --- 7-дневная проверка ---

	SevenDayReviewScheduled   bool
	SevenDayReviewScheduledAt *time.Time
	SevenDayReviewTriggered   bool
	SevenDayReviewTriggeredAt *time.Time

	// --- Дедупликация (флаг-охранник пишется только отдельными запросами) ---

	DedupInProgress  bool
	DedupStartedAt   *time.Time
	DedupCompletedAt *time.Time
	DedupRequestedAt *time.Time

	// --- Одобрение администратором ---

	AdminApproved   bool
	AdminApprovedAt *time.Time
	AdminApprovedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone возвращает глубокую копию агрегата.
// Указатели на time.Time разделяются: значения времени не изменяются на месте.
func (c *Case) Clone() *Case {
	out := *c

	out.Documents = make([]Document, len(c.Documents))
	for i := range c.Documents {
		out.Documents[i] = c.Documents[i].Clone()
	}
	out.FinalCreditorList = make([]Creditor, len(c.FinalCreditorList))
	for i := range c.FinalCreditorList {
		out.FinalCreditorList[i] = c.FinalCreditorList[i].Clone()
	}
	out.StatusHistory = make([]HistoryEntry, len(c.StatusHistory))
	for i, h := range c.StatusHistory {
		h.Metadata = maps.Clone(h.Metadata)
		out.StatusHistory[i] = h
	}
	out.DeduplicationHistory = append([]DedupRun(nil), c.DeduplicationHistory...)
	out.Tickets = append([]TicketRef(nil), c.Tickets...)
	return &out
}

// AppendHistory добавляет запись в журнал статусов.
func (c *Case) AppendHistory(status, changedBy string, metadata map[string]any, now time.Time) {
	c.StatusHistory = append(c.StatusHistory, HistoryEntry{
		ID:        uuid.NewString(),
		Status:    status,
		ChangedBy: changedBy,
		Metadata:  metadata,
		CreatedAt: now,
	})
}

// Transition применяет событие через workflow.Next.
// При смене статуса добавляет запись в журнал и возвращает true.
func (c *Case) Transition(ev workflow.Event, changedBy string, metadata map[string]any, now time.Time) (bool, error) {
	next, err := workflow.Next(c.CurrentStatus, ev)
	if err != nil {
		return false, fmt.Errorf("дело %s: %w", c.ID, err)
	}
	if next == c.CurrentStatus {
		return false, nil
	}

	md := maps.Clone(metadata)
	if md == nil {
		md = make(map[string]any, 2)
	}
	md["previous_status"] = string(c.CurrentStatus)
	md["event"] = string(ev)

	c.CurrentStatus = next
	c.AppendHistory(string(next), changedBy, md, now)
	return true, nil
}

// FindDocument возвращает индекс документа или -1.
func (c *Case) FindDocument(id string) int {
	for i := range c.Documents {
		if c.Documents[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCreditor возвращает индекс кредитора или -1.
func (c *Case) FindCreditor(id string) int {
	for i := range c.FinalCreditorList {
		if c.FinalCreditorList[i].ID == id {
			return i
		}
	}
	return -1
}

// HasDocuments — у дела есть хотя бы один документ.
func (c *Case) HasDocuments() bool {
	return len(c.Documents) > 0
}

// HasDocumentsInProcessing — хотя бы один документ ещё обрабатывается.
func (c *Case) HasDocumentsInProcessing() bool {
	for i := range c.Documents {
		if c.Documents[i].ProcessingStatus == ProcessingProcessing {
			return true
		}
	}
	return false
}

// LatestUploadAt возвращает время последней загрузки документа.
func (c *Case) LatestUploadAt() *time.Time {
	var latest *time.Time
	for i := range c.Documents {
		u := c.Documents[i].UploadedAt
		if u != nil && (latest == nil || u.After(*latest)) {
			latest = u
		}
	}
	return latest
}

// CreditorsNeedingReview возвращает число кредиторов, ожидающих ручной проверки.
func (c *Case) CreditorsNeedingReview() int {
	n := 0
	for i := range c.FinalCreditorList {
		if c.FinalCreditorList[i].NeedsManualReview && !c.FinalCreditorList[i].ManuallyReviewed {
			n++
		}
	}
	return n
}

// CreditorIDs возвращает множество id кредиторов дела.
func (c *Case) CreditorIDs() map[string]bool {
	ids := make(map[string]bool, len(c.FinalCreditorList))
	for i := range c.FinalCreditorList {
		ids[c.FinalCreditorList[i].ID] = true
	}
	return ids
}

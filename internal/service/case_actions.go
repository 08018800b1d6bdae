// case_actions.go — операции над делом: создание, оплата, события портала,
// одобрение администратором и ручное управление отложенными действиями.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
)

// Типы событий портала клиента.
const (
	PortalEventLinkSent         = "link_sent"
	PortalEventLogin            = "login"
	PortalEventDocumentUploaded = "document_uploaded"
	PortalEventClientConfirmed  = "client_confirmed"
)

// CaseLister — постраничная выборка дел.
type CaseLister interface {
	List(ctx context.Context, status *string, limit, offset int) ([]*model.Case, error)
	Count(ctx context.Context, status *string) (int, error)
}

// CreateCaseInput — данные нового дела.
type CreateCaseInput struct {
	CaseNumber  string
	ClientEmail string
}

// PortalEvent — событие портала клиента.
type PortalEvent struct {
	Type         string
	DocumentID   string
	DocumentName string
	// At — время события (по умолчанию текущее)
	At *time.Time
}

// CaseActions — операции над делом.
type CaseActions struct {
	updater *CaseUpdater
	lister  CaseLister
	hooks   HookSender
	logger  *slog.Logger
	now     func() time.Time
}

// NewCaseActions создаёт CaseActions.
func NewCaseActions(updater *CaseUpdater, lister CaseLister, hooks HookSender, logger *slog.Logger) *CaseActions {
	return &CaseActions{
		updater: updater,
		lister:  lister,
		hooks:   hooks,
		logger:  logger.With(slog.String("component", "case_actions")),
		now:     time.Now,
	}
}

// Create создаёт дело в статусе created.
func (s *CaseActions) Create(ctx context.Context, in CreateCaseInput, createdBy string) (*model.Case, error) {
	number := strings.TrimSpace(in.CaseNumber)
	if number == "" {
		return nil, fmt.Errorf("%w: case_number обязателен", ErrValidation)
	}
	if _, err := uuid.Parse(number); err == nil {
		return nil, fmt.Errorf("%w: case_number не может быть UUID", ErrValidation)
	}
	email := strings.TrimSpace(in.ClientEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: некорректный client_email", ErrValidation)
		}
	}

	now := s.now().UTC()
	c := &model.Case{
		ID:            uuid.NewString(),
		CaseNumber:    number,
		ClientEmail:   email,
		CurrentStatus: workflow.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.AppendHistory(string(workflow.StatusCreated), createdBy, nil, now)

	if err := s.updater.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("Дело создано",
		slog.String("case_id", c.ID),
		slog.String("case_number", c.CaseNumber),
	)
	return c, nil
}

// Get возвращает дело по UUID или номеру.
func (s *CaseActions) Get(ctx context.Context, ref string) (*model.Case, error) {
	return s.updater.Get(ctx, ref)
}

// List возвращает страницу дел и общее количество.
func (s *CaseActions) List(ctx context.Context, status *string, limit, offset int) ([]*model.Case, int, error) {
	if status != nil && !workflow.IsValid(workflow.Status(*status)) {
		return nil, 0, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, *status)
	}
	cases, err := s.lister.List(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка дел: %w", err)
	}
	total, err := s.lister.Count(ctx, status)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт дел: %w", err)
	}
	return cases, total, nil
}

// RecordPayment отмечает первую оплату. Повторный вызов ничего не меняет.
func (s *CaseActions) RecordPayment(ctx context.Context, ref string, receivedAt *time.Time, by string) (*model.Case, error) {
	caseID, err := s.updater.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	at := now
	if receivedAt != nil {
		at = receivedAt.UTC()
	}

	return s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if c.FirstPaymentReceived {
			return nil
		}
		c.FirstPaymentReceived = true
		c.FirstPaymentReceivedAt = &at
		c.AppendHistory("payment_received", by, map[string]any{
			"received_at":   at.Format(time.RFC3339),
			"has_documents": c.HasDocuments(),
		}, now)
		markBothConditions(c, now)
		return nil
	})
}

// RecordPortalEvent применяет событие портала.
func (s *CaseActions) RecordPortalEvent(ctx context.Context, ref string, ev PortalEvent, by string) (*model.Case, error) {
	switch ev.Type {
	case PortalEventLinkSent, PortalEventLogin, PortalEventClientConfirmed:
	case PortalEventDocumentUploaded:
		if ev.DocumentID == "" {
			return nil, fmt.Errorf("%w: document_id обязателен для document_uploaded", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: неизвестное событие портала %q", ErrValidation, ev.Type)
	}

	caseID, err := s.updater.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	at := now
	if ev.At != nil {
		at = ev.At.UTC()
	}

	updated, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		switch ev.Type {
		case PortalEventLinkSent:
			c.PortalLinkSentAt = &at
			_, err := c.Transition(workflow.EventPortalAccessSent, by, nil, now)
			return err

		case PortalEventLogin:
			c.LastLoginAt = &at
			return nil

		case PortalEventDocumentUploaded:
			if c.FindDocument(ev.DocumentID) < 0 {
				c.Documents = append(c.Documents, model.Document{
					ID:               ev.DocumentID,
					Name:             ev.DocumentName,
					ProcessingStatus: model.ProcessingProcessing,
					DocumentStatus:   model.DocPending,
					UploadedAt:       &at,
				})
			}
			if _, err := c.Transition(workflow.EventDocumentsUploaded, by, map[string]any{
				"document_id": ev.DocumentID,
			}, now); err != nil {
				return err
			}
			markBothConditions(c, now)
			return nil

		case PortalEventClientConfirmed:
			if _, err := c.Transition(workflow.EventClientConfirmed, by, nil, now); err != nil {
				return err
			}
			confirmAllCreditors(c, now)
			c.ClientConfirmed = true
			c.ClientConfirmedAt = &at
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Событие портала записано",
		slog.String("case_id", caseID),
		slog.String("event", ev.Type),
		slog.String("status", string(updated.CurrentStatus)),
	)
	return updated, nil
}

// Approve — одобрение списка кредиторов администратором.
// Кредиторы, ожидающие проверки, блокируют одобрение.
func (s *CaseActions) Approve(ctx context.Context, ref, admin string) (*model.Case, error) {
	caseID, err := s.updater.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	updated, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if n := c.CreditorsNeedingReview(); n > 0 {
			return fmt.Errorf("%w: %d кредиторов ожидают проверки", ErrValidation, n)
		}
		if _, err := c.Transition(workflow.EventAdminApproved, admin, map[string]any{
			"approved_by":     admin,
			"creditors_count": len(c.FinalCreditorList),
		}, now); err != nil {
			return err
		}
		c.AdminApproved = true
		c.AdminApprovedAt = &now
		c.AdminApprovedBy = admin
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Дело одобрено администратором",
		slog.String("case_id", caseID),
		slog.String("admin", admin),
	)
	return updated, nil
}

// CancelProcessingWebhook отменяет запланированный webhook «обработка завершена».
func (s *CaseActions) CancelProcessingWebhook(ctx context.Context, ref, admin string) (*model.Case, error) {
	caseID, err := s.updater.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	return s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if !c.ProcessingWebhookScheduled || c.ProcessingWebhookTriggered {
			return fmt.Errorf("%w: webhook не запланирован", ErrConflict)
		}
		var scheduledFor string
		if c.ProcessingWebhookScheduledFor != nil {
			scheduledFor = c.ProcessingWebhookScheduledFor.Format(time.RFC3339)
		}
		c.ProcessingWebhookScheduled = false
		c.ProcessingWebhookScheduledFor = nil
		c.AppendHistory("processing_webhook_cancelled", admin, map[string]any{
			"admin_action":  "cancel_processing_webhook",
			"scheduled_for": scheduledFor,
		}, now)
		return nil
	})
}

// SkipSevenDayDelay запускает проверку кредиторов без ожидания 7 дней.
// Вызов hook выполняется после записи; его ошибка только логируется.
func (s *CaseActions) SkipSevenDayDelay(ctx context.Context, ref, admin string) (*model.Case, error) {
	caseID, err := s.updater.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	updated, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if !c.FirstPaymentReceived || !c.HasDocuments() {
			return fmt.Errorf("%w: нужны оплата и документы", ErrValidation)
		}
		var originalAt any
		if c.SevenDayReviewScheduledAt != nil {
			originalAt = c.SevenDayReviewScheduledAt.Format(time.RFC3339)
		}
		if _, err := c.Transition(workflow.EventSevenDayReviewDue, admin, map[string]any{
			"admin_action":          "skip_seven_day_delay",
			"original_scheduled_at": originalAt,
		}, now); err != nil {
			return err
		}
		if c.BothConditionsMetAt == nil {
			c.BothConditionsMetAt = &now
		}
		c.SevenDayReviewScheduled = false
		c.SevenDayReviewTriggered = true
		c.SevenDayReviewTriggeredAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.hooks.CreditorReview(ctx, hookclient.CreditorReview{
		ClientID:    updated.CaseNumber,
		TriggeredBy: hookclient.TriggeredByAdmin,
		Timestamp:   now,
	}); err != nil {
		s.logger.Warn("Ошибка вызова hook проверки кредиторов",
			slog.String("case_id", caseID),
			slog.String("error", err.Error()),
		)
	}
	return updated, nil
}

// confirmAllCreditors подтверждает все кредиторы, ожидающие подтверждения.
func confirmAllCreditors(c *model.Case, now time.Time) int {
	n := 0
	for i := range c.FinalCreditorList {
		cr := &c.FinalCreditorList[i]
		if cr.Status != model.CreditorConfirmed {
			cr.Status = model.CreditorConfirmed
			cr.ConfirmedAt = &now
			n++
		}
	}
	return n
}

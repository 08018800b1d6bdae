// sweeps.go — обработка одного дела в каждом проходе планировщика.
// Внешние вызовы (тикеты, hook) выполняются вне Update.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
)

const changedByScheduler = "scheduler"

// --- document_reminder ---

func documentReminderDue(c *model.Case, cutoff time.Time) bool {
	if !c.FirstPaymentReceived || c.LastLoginAt == nil || c.HasDocuments() {
		return false
	}
	last := c.LastDocumentReminderAt
	if last == nil {
		last = c.FirstPaymentReceivedAt
	}
	return last != nil && !last.After(cutoff)
}

func (s *Scheduler) documentReminder(ctx context.Context, caseID string, now time.Time) (sweepOutcome, error) {
	cutoff := now.Add(-s.cfg.DocumentReminderAfter)
	c, err := s.updater.Get(ctx, caseID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !documentReminderDue(c, cutoff) {
		return outcomeSkipped, errStale
	}

	content := fmt.Sprintf(
		"Mandant %s hat die erste Rate bezahlt und sich im Portal angemeldet, aber noch keine Dokumente hochgeladen (Erinnerung %d).",
		c.CaseNumber, c.DocumentReminderCount+1,
	)
	ticketID, err := s.reminders.CreateReminder(ctx, c, TicketKindDocumentReminder, content)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("тикет напоминания о документах: %w", err)
	}

	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if !documentReminderDue(c, cutoff) {
			return errStale
		}
		c.DocumentReminderCount++
		c.LastDocumentReminderAt = &now
		c.AppendHistory("document_reminder_sent", changedByScheduler, map[string]any{
			"ticket_id":      ticketID,
			"reminder_count": c.DocumentReminderCount,
		}, now)
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeTriggered, nil
}

// --- delayed_webhook ---

// webhookBlocker возвращает причину переноса webhook или "".
func (s *Scheduler) webhookBlocker(c *model.Case, now time.Time) string {
	switch {
	case !c.FirstPaymentReceived:
		return "payment_not_received"
	case c.HasDocumentsInProcessing():
		return "documents_processing"
	}
	if last := c.LatestUploadAt(); last != nil && last.After(now.Add(-s.cfg.UploadQuietPeriod)) {
		return "recent_upload"
	}
	return ""
}

func webhookDue(c *model.Case, now time.Time) bool {
	return c.ProcessingWebhookScheduled &&
		!c.ProcessingWebhookTriggered &&
		c.ProcessingWebhookScheduledFor != nil &&
		!c.ProcessingWebhookScheduledFor.After(now)
}

func (s *Scheduler) delayedWebhook(ctx context.Context, caseID string, now time.Time) (sweepOutcome, error) {
	c, err := s.updater.Get(ctx, caseID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !webhookDue(c, now) {
		return outcomeSkipped, errStale
	}

	if reason := s.webhookBlocker(c, now); reason != "" {
		next := now.Add(s.cfg.ProcessingWebhookDelay)
		_, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
			if !webhookDue(c, now) {
				return errStale
			}
			c.ProcessingWebhookScheduledFor = &next
			c.AppendHistory("processing_webhook_rescheduled", changedByScheduler, map[string]any{
				"reason":        reason,
				"scheduled_for": next.Format(time.RFC3339),
			}, now)
			return nil
		})
		if err != nil {
			return outcomeSkipped, err
		}
		s.logger.Info("Webhook «обработка завершена» перенесён",
			slog.String("case_id", caseID),
			slog.String("reason", reason),
		)
		return outcomeRescheduled, nil
	}

	if err := s.hooks.ProcessingComplete(ctx, hookclient.ProcessingComplete{
		ClientID:       c.CaseNumber,
		Timestamp:      now,
		TriggeredBy:    hookclient.TriggeredByDelayedProcessing,
		DelayedTrigger: true,
	}); err != nil {
		return outcomeSkipped, fmt.Errorf("hook processing-complete: %w", err)
	}

	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if !webhookDue(c, now) {
			return errStale
		}
		c.ProcessingWebhookTriggered = true
		c.ProcessingWebhookTriggeredAt = &now
		c.AppendHistory("processing_webhook_triggered", changedByScheduler, map[string]any{
			"documents_count": len(c.Documents),
		}, now)
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeTriggered, nil
}

// --- login_reminder ---

type loginReminderKind int

const (
	loginReminderNone loginReminderKind = iota
	// ссылка отправлена, входа не было
	loginReminderNoLogin
	// вход был, документов нет
	loginReminderNoDocuments
)

func loginReminderDue(c *model.Case, cutoff time.Time) loginReminderKind {
	st := c.CurrentStatus
	if c.PortalLinkSentAt != nil && !c.PortalLinkSentAt.After(cutoff) &&
		c.LastLoginAt == nil && !c.LoginReminderSent &&
		(st == workflow.StatusCreated || st == workflow.StatusPortalAccessSent) {
		return loginReminderNoLogin
	}
	if c.LastLoginAt != nil && !c.LastLoginAt.After(cutoff) &&
		!c.HasDocuments() && !c.LoginDocReminderSent && !c.FirstPaymentReceived &&
		(st == workflow.StatusPortalAccessSent || st == workflow.StatusDocumentsUploaded) {
		return loginReminderNoDocuments
	}
	return loginReminderNone
}

func (s *Scheduler) loginReminder(ctx context.Context, caseID string, now time.Time) (sweepOutcome, error) {
	cutoff := now.Add(-s.cfg.LoginReminderAfter)
	c, err := s.updater.Get(ctx, caseID)
	if err != nil {
		return outcomeSkipped, err
	}
	kind := loginReminderDue(c, cutoff)
	if kind == loginReminderNone {
		return outcomeSkipped, errStale
	}

	content := fmt.Sprintf("Mandant %s hat sich seit 7 Tagen nicht im Portal angemeldet.", c.CaseNumber)
	if kind == loginReminderNoDocuments {
		content = fmt.Sprintf("Mandant %s hat sich angemeldet, aber seit 7 Tagen keine Dokumente hochgeladen.", c.CaseNumber)
	}
	ticketID, err := s.reminders.CreateReminder(ctx, c, TicketKindLoginReminder, content)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("тикет напоминания о входе: %w", err)
	}

	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if loginReminderDue(c, cutoff) != kind {
			return errStale
		}
		status := "login_reminder_sent"
		if kind == loginReminderNoLogin {
			c.LoginReminderSent = true
			c.LoginReminderSentAt = &now
		} else {
			status = "login_document_reminder_sent"
			c.LoginDocReminderSent = true
			c.LoginDocReminderSentAt = &now
		}
		c.AppendHistory(status, changedByScheduler, map[string]any{"ticket_id": ticketID}, now)
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeTriggered, nil
}

// --- seven_day_review ---

func (s *Scheduler) sevenDayReviewDue(c *model.Case, now time.Time) bool {
	return c.SevenDayReviewScheduled &&
		!c.SevenDayReviewTriggered &&
		c.BothConditionsMetAt != nil &&
		!c.BothConditionsMetAt.Add(s.cfg.SevenDayReviewDelay).After(now)
}

func (s *Scheduler) sevenDayReview(ctx context.Context, caseID string, now time.Time) (sweepOutcome, error) {
	c, err := s.updater.Get(ctx, caseID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !s.sevenDayReviewDue(c, now) {
		return outcomeSkipped, errStale
	}
	// Данные устарели: оплату или документы откатили
	if !c.FirstPaymentReceived || !c.HasDocuments() {
		s.logger.Info("7-дневная проверка пропущена: нет оплаты или документов",
			slog.String("case_id", caseID),
		)
		return outcomeSkipped, nil
	}

	fired := false
	_, err = s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if !s.sevenDayReviewDue(c, now) || !c.FirstPaymentReceived || !c.HasDocuments() {
			return errStale
		}
		c.SevenDayReviewScheduled = false
		c.SevenDayReviewTriggered = true
		c.SevenDayReviewTriggeredAt = &now

		// Дело уже прошло проверку: только отметка
		if _, err := workflow.Next(c.CurrentStatus, workflow.EventSevenDayReviewDue); err != nil {
			c.AppendHistory("seven_day_review_skipped", changedByScheduler, map[string]any{
				"current_status": string(c.CurrentStatus),
			}, now)
			return nil
		}
		fired = true
		_, err := c.Transition(workflow.EventSevenDayReviewDue, changedByScheduler, map[string]any{
			"both_conditions_met_at": c.BothConditionsMetAt.Format(time.RFC3339),
			"creditors_count":        len(c.FinalCreditorList),
		}, now)
		return err
	})
	if err != nil {
		return outcomeSkipped, err
	}
	if !fired {
		return outcomeSkipped, nil
	}

	if err := s.hooks.CreditorReview(ctx, hookclient.CreditorReview{
		ClientID:    c.CaseNumber,
		TriggeredBy: hookclient.TriggeredBySevenDayReview,
		Timestamp:   now,
	}); err != nil {
		s.logger.Warn("Ошибка вызова hook проверки кредиторов",
			slog.String("case_id", caseID),
			slog.String("error", err.Error()),
		)
	}
	return outcomeTriggered, nil
}

// --- auto_confirm ---

func (s *Scheduler) autoConfirm(ctx context.Context, caseID string, now time.Time) (sweepOutcome, error) {
	cutoff := now.Add(-s.cfg.AutoConfirmWindow)
	var confirmed int
	_, err := s.updater.Update(ctx, caseID, func(c *model.Case) error {
		if c.CurrentStatus != workflow.StatusAwaitingConfirmation ||
			!c.AdminApproved || c.AdminApprovedAt == nil || c.AdminApprovedAt.After(cutoff) ||
			c.ClientConfirmed {
			return errStale
		}
		if n := c.CreditorsNeedingReview(); n > 0 {
			return fmt.Errorf("%w: %d кредиторов ожидают проверки", errStale, n)
		}
		confirmed = confirmAllCreditors(c, now)
		c.ClientConfirmed = true
		c.ClientConfirmedAt = &now
		_, err := c.Transition(workflow.EventAutoConfirmed, changedByScheduler, map[string]any{
			"admin_approved_at":   c.AdminApprovedAt.Format(time.RFC3339),
			"creditors_confirmed": confirmed,
		}, now)
		return err
	})
	if err != nil {
		return outcomeSkipped, err
	}

	s.logger.Info("Дело подтверждено автоматически",
		slog.String("case_id", caseID),
		slog.Int("creditors_confirmed", confirmed),
	)
	return outcomeTriggered, nil
}

// --- ai_rededup ---

func (s *Scheduler) aiRededup(ctx context.Context, caseID string, _ time.Time) (sweepOutcome, error) {
	out, err := s.dedup.Run(ctx, caseID, DedupTriggerScheduler)
	if err != nil {
		return outcomeSkipped, err
	}
	if out.Skipped {
		return outcomeSkipped, nil
	}
	return outcomeTriggered, nil
}

// escalation.go — эскалация в тикет-систему.
//
// Ручная проверка документов отправляется в фоне после записи дела:
// обработка пакета не ждёт тикет-систему. Если у дела уже есть тикет
// ручной проверки, новые документы добавляются внутренним комментарием.
// Напоминания планировщика создаются синхронно.
//
// Запросы к тикет-системе ограничены rate limiter-ом. Фоновые задачи
// учитываются в WaitGroup, Shutdown ждёт их завершения.
//
// Prometheus-метрики:
//   - im_escalations_total — результаты эскалаций (created, commented, failed)
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/ticketing"
)

var escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_escalations_total",
	Help: "Эскалации в тикет-систему по результату.",
}, []string{"kind", "result"}) // result: created, commented, failed

// Виды тикетов, сохраняемые в tickets[] дела.
const (
	TicketKindManualReview     = "manual_review"
	TicketKindDocumentReminder = "document_reminder"
	TicketKindLoginReminder    = "login_reminder"
)

// ReviewItem — документ, требующий ручной проверки.
type ReviewItem struct {
	DocumentID   string
	DocumentName string
	CreditorName string
	Reasons      []string
}

// TicketClient — операции тикет-системы.
type TicketClient interface {
	CreateTicket(ctx context.Context, t ticketing.Ticket) (string, error)
	AddInternalComment(ctx context.Context, ticketID string, cm ticketing.Comment) error
}

// EscalationService — диспетчер эскалаций.
type EscalationService struct {
	tickets TicketClient
	updater *CaseUpdater
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// ctx отменяется в Shutdown по истечении ожидания
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEscalationService создаёт диспетчер.
// ratePerSecond и burst ограничивают запросы к тикет-системе.
func NewEscalationService(
	tickets TicketClient,
	updater *CaseUpdater,
	ratePerSecond float64,
	burst int,
	timeout time.Duration,
	logger *slog.Logger,
) *EscalationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &EscalationService{
		tickets: tickets,
		updater: updater,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "escalation")),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// DispatchReview отправляет документы на ручную проверку в фоне.
// Ошибки только логируются.
func (s *EscalationService) DispatchReview(c *model.Case, jobID string, items []ReviewItem) {
	if len(items) == 0 {
		return
	}
	snapshot := c.Clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.escalateReview(s.ctx, snapshot, jobID, items); err != nil {
			escalationsTotal.WithLabelValues(TicketKindManualReview, "failed").Inc()
			s.logger.Warn("Ошибка эскалации ручной проверки",
				slog.String("case_id", snapshot.ID),
				slog.String("job_id", jobID),
				slog.Int("documents", len(items)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *EscalationService) escalateReview(ctx context.Context, c *model.Case, jobID string, items []ReviewItem) error {
	content := reviewContent(c, jobID, items)

	if open := openTicket(c, TicketKindManualReview); open != "" {
		if err := s.wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		err := s.tickets.AddInternalComment(callCtx, open, ticketing.Comment{
			Content: content,
			Tags:    []string{"document-review", "late-upload"},
		})
		if err != nil {
			return fmt.Errorf("комментарий к тикету %s: %w", open, err)
		}
		escalationsTotal.WithLabelValues(TicketKindManualReview, "commented").Inc()
		s.logger.Info("Документы добавлены в тикет ручной проверки",
			slog.String("case_id", c.ID),
			slog.String("ticket_id", open),
			slog.Int("documents", len(items)),
		)
		return nil
	}

	_, err := s.createTicket(ctx, c, TicketKindManualReview, ticketing.Ticket{
		Subject:        fmt.Sprintf("Dokumentprüfung erforderlich: %s", c.CaseNumber),
		Content:        content,
		RequesterEmail: c.ClientEmail,
		Tags:           []string{"document-review", "ai-processing", "manual-review-required"},
	})
	return err
}

// CreateReminder создаёт тикет-напоминание и записывает его в дело.
func (s *EscalationService) CreateReminder(ctx context.Context, c *model.Case, kind, content string) (string, error) {
	id, err := s.createTicket(ctx, c, kind, ticketing.Ticket{
		Subject:        fmt.Sprintf("Erinnerung (%s): %s", kind, c.CaseNumber),
		Content:        content,
		RequesterEmail: c.ClientEmail,
		Tags:           []string{"reminder", kind},
	})
	if err != nil {
		escalationsTotal.WithLabelValues(kind, "failed").Inc()
		return "", err
	}
	return id, nil
}

// createTicket создаёт тикет и добавляет ссылку в tickets[] дела.
// Ошибка записи ссылки не отменяет созданный тикет.
func (s *EscalationService) createTicket(ctx context.Context, c *model.Case, kind string, t ticketing.Ticket) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id, err := s.tickets.CreateTicket(callCtx, t)
	if err != nil {
		return "", fmt.Errorf("создание тикета %s: %w", kind, err)
	}
	escalationsTotal.WithLabelValues(kind, "created").Inc()

	now := s.now().UTC()
	_, err = s.updater.Update(ctx, c.ID, func(cs *model.Case) error {
		cs.Tickets = append(cs.Tickets, model.TicketRef{TicketID: id, Kind: kind, CreatedAt: now})
		return nil
	})
	if err != nil {
		s.logger.Warn("Тикет создан, но не записан в дело",
			slog.String("case_id", c.ID),
			slog.String("ticket_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Тикет создан",
		slog.String("case_id", c.ID),
		slog.String("kind", kind),
		slog.String("ticket_id", id),
	)
	return id, nil
}

func (s *EscalationService) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ожидание лимита тикет-системы: %w", err)
	}
	return nil
}

// Shutdown ждёт фоновые эскалации. По истечении ctx отменяет незавершённые.
func (s *EscalationService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("эскалации прерваны при остановке: %w", ctx.Err())
	}
}

// openTicket возвращает последний тикет указанного вида или "".
func openTicket(c *model.Case, kind string) string {
	for i := len(c.Tickets) - 1; i >= 0; i-- {
		if c.Tickets[i].Kind == kind {
			return c.Tickets[i].TicketID
		}
	}
	return ""
}

func reviewContent(c *model.Case, jobID string, items []ReviewItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Aktenzeichen: %s\n", c.CaseNumber)
	if c.ClientEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", c.ClientEmail)
	}
	for _, it := range items {
		name := it.DocumentName
		if name == "" {
			name = it.DocumentID
		}
		fmt.Fprintf(&b, "\nDokument: %s\n", name)
		if it.CreditorName != "" {
			fmt.Fprintf(&b, "Gläubiger: %s\n", it.CreditorName)
		}
		reasons := it.Reasons
		if len(reasons) == 0 {
			reasons = []string{"Manuelle Prüfung erforderlich"}
		}
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if jobID != "" {
		fmt.Fprintf(&b, "\nJob ID: %s\n", jobID)
	}
	return b.String()
}

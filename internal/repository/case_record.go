package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

// CaseRepository — интерфейс доступа к таблице cases.
type CaseRepository interface {
	// Create сохраняет новое дело.
	Create(ctx context.Context, c *model.Case) error
	// GetByID возвращает дело по UUID.
	GetByID(ctx context.Context, id string) (*model.Case, error)
	// GetByCaseNumber возвращает дело по номеру (Aktenzeichen).
	GetByCaseNumber(ctx context.Context, caseNumber string) (*model.Case, error)
	// List возвращает дела с фильтрацией по статусу.
	List(ctx context.Context, status *string, limit, offset int) ([]*model.Case, error)
	// Count возвращает количество дел с фильтрацией по статусу.
	Count(ctx context.Context, status *string) (int, error)
	// Update загружает дело под блокировкой строки, применяет fn и сохраняет.
	// Ошибка fn откатывает транзакцию. Колонки охранника не записываются.
	Update(ctx context.Context, id string, fn func(*model.Case) error) (*model.Case, error)
	// ListDue возвращает id дел, подходящих под предикат прохода.
	ListDue(ctx context.Context, q model.DueQuery) ([]string, error)
	// TryAcquireDedupGuard атомарно ставит dedup_in_progress.
	// false — флаг уже стоит и не устарел.
	TryAcquireDedupGuard(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)
	// ReleaseDedupGuard снимает dedup_in_progress и ставит dedup_completed_at.
	ReleaseDedupGuard(ctx context.Context, id string, now time.Time) error
}

// caseRepo — реализация CaseRepository.
type caseRepo struct {
	db DBTX
	tx *TxRunner
}

// NewCaseRepository создаёт репозиторий дел.
// tx используется для Update (SELECT … FOR UPDATE + UPDATE в одной транзакции).
func NewCaseRepository(db DBTX, tx *TxRunner) CaseRepository {
	return &caseRepo{db: db, tx: tx}
}

const caseColumns = `
	id, case_number, client_email, current_status,
	documents, final_creditor_list, status_history, deduplication_history, tickets,
	first_payment_received, first_payment_received_at, portal_link_sent_at, last_login_at,
	login_reminder_sent, login_reminder_sent_at,
	login_document_reminder_sent, login_document_reminder_sent_at,
	document_reminder_count, last_document_reminder_at, both_conditions_met_at,
	client_confirmed, client_confirmed_at,
	processing_complete_webhook_scheduled, processing_complete_webhook_scheduled_at,
	processing_complete_webhook_scheduled_for,
	processing_complete_webhook_triggered, processing_complete_webhook_triggered_at,
	seven_day_review_scheduled, seven_day_review_scheduled_at,
	seven_day_review_triggered, seven_day_review_triggered_at,
	dedup_in_progress, dedup_started_at, dedup_completed_at, dedup_requested_at,
	admin_approved, admin_approved_at, admin_approved_by,
	created_at, updated_at`

// caseLists — JSONB-представление списков агрегата.
type caseLists struct {
	documents, creditors, history, dedupHistory, tickets []byte
}

func encodeLists(c *model.Case) (*caseLists, error) {
	var (
		l   caseLists
		err error
	)
	if l.documents, err = jsonArray(c.Documents); err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	if l.creditors, err = jsonArray(c.FinalCreditorList); err != nil {
		return nil, fmt.Errorf("final_creditor_list: %w", err)
	}
	if l.history, err = jsonArray(c.StatusHistory); err != nil {
		return nil, fmt.Errorf("status_history: %w", err)
	}
	if l.dedupHistory, err = jsonArray(c.DeduplicationHistory); err != nil {
		return nil, fmt.Errorf("deduplication_history: %w", err)
	}
	if l.tickets, err = jsonArray(c.Tickets); err != nil {
		return nil, fmt.Errorf("tickets: %w", err)
	}
	return &l, nil
}

// jsonArray сериализует срез; nil записывается как пустой массив.
func jsonArray[T any](items []T) ([]byte, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// scanCase читает строку из caseColumns.
func scanCase(row pgx.Row) (*model.Case, error) {
	c := &model.Case{}
	var status string
	var l caseLists

	err := row.Scan(
		&c.ID, &c.CaseNumber, &c.ClientEmail, &status,
		&l.documents, &l.creditors, &l.history, &l.dedupHistory, &l.tickets,
		&c.FirstPaymentReceived, &c.FirstPaymentReceivedAt, &c.PortalLinkSentAt, &c.LastLoginAt,
		&c.LoginReminderSent, &c.LoginReminderSentAt,
		&c.LoginDocReminderSent, &c.LoginDocReminderSentAt,
		&c.DocumentReminderCount, &c.LastDocumentReminderAt, &c.BothConditionsMetAt,
		&c.ClientConfirmed, &c.ClientConfirmedAt,
		&c.ProcessingWebhookScheduled, &c.ProcessingWebhookScheduledAt,
		&c.ProcessingWebhookScheduledFor,
		&c.ProcessingWebhookTriggered, &c.ProcessingWebhookTriggeredAt,
		&c.SevenDayReviewScheduled, &c.SevenDayReviewScheduledAt,
		&c.SevenDayReviewTriggered, &c.SevenDayReviewTriggeredAt,
		&c.DedupInProgress, &c.DedupStartedAt, &c.DedupCompletedAt, &c.DedupRequestedAt,
		&c.AdminApproved, &c.AdminApprovedAt, &c.AdminApprovedBy,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CurrentStatus = workflow.Status(status)

	if err := json.Unmarshal(l.documents, &c.Documents); err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	if err := json.Unmarshal(l.creditors, &c.FinalCreditorList); err != nil {
		return nil, fmt.Errorf("final_creditor_list: %w", err)
	}
	if err := json.Unmarshal(l.history, &c.StatusHistory); err != nil {
		return nil, fmt.Errorf("status_history: %w", err)
	}
	if err := json.Unmarshal(l.dedupHistory, &c.DeduplicationHistory); err != nil {
		return nil, fmt.Errorf("deduplication_history: %w", err)
	}
	if err := json.Unmarshal(l.tickets, &c.Tickets); err != nil {
		return nil, fmt.Errorf("tickets: %w", err)
	}
	return c, nil
}

func (r *caseRepo) Create(ctx context.Context, c *model.Case) error {
	l, err := encodeLists(c)
	if err != nil {
		return fmt.Errorf("ошибка сериализации дела: %w", err)
	}

	query := `
		INSERT INTO cases (
			id, case_number, client_email, current_status,
			documents, final_creditor_list, status_history, deduplication_history, tickets,
			first_payment_received, first_payment_received_at, portal_link_sent_at,
			dedup_requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		c.ID, c.CaseNumber, c.ClientEmail, string(c.CurrentStatus),
		l.documents, l.creditors, l.history, l.dedupHistory, l.tickets,
		c.FirstPaymentReceived, c.FirstPaymentReceivedAt, c.PortalLinkSentAt,
		c.DedupRequestedAt,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: дело %s уже существует", ErrConflict, c.CaseNumber)
		}
		return fmt.Errorf("ошибка создания дела: %w", err)
	}
	return nil
}

func (r *caseRepo) GetByID(ctx context.Context, id string) (*model.Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, r.db, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
}

func (r *caseRepo) GetByCaseNumber(ctx context.Context, caseNumber string) (*model.Case, error) {
	return r.getOne(ctx, r.db, `SELECT `+caseColumns+` FROM cases WHERE case_number = $1`, caseNumber)
}

func (r *caseRepo) getOne(ctx context.Context, db DBTX, query string, args ...any) (*model.Case, error) {
	c, err := scanCase(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения дела: %w", err)
	}
	return c, nil
}

func (r *caseRepo) List(ctx context.Context, status *string, limit, offset int) ([]*model.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases
		WHERE ($1::text IS NULL OR current_status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка дел: %w", err)
	}
	defer rows.Close()

	var result []*model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования дела: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *caseRepo) Count(ctx context.Context, status *string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM cases WHERE ($1::text IS NULL OR current_status = $1)`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта дел: %w", err)
	}
	return count, nil
}

func (r *caseRepo) Update(ctx context.Context, id string, fn func(*model.Case) error) (*model.Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var updated *model.Case
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		c, err := r.getOne(ctx, tx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		if err := saveCase(ctx, tx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// saveCase записывает все колонки, кроме dedup_in_progress,
// dedup_started_at и dedup_completed_at.
func saveCase(ctx context.Context, db DBTX, c *model.Case) error {
	l, err := encodeLists(c)
	if err != nil {
		return fmt.Errorf("ошибка сериализации дела: %w", err)
	}

	query := `
		UPDATE cases SET
			client_email = $2, current_status = $3,
			documents = $4, final_creditor_list = $5, status_history = $6,
			deduplication_history = $7, tickets = $8,
			first_payment_received = $9, first_payment_received_at = $10,
			portal_link_sent_at = $11, last_login_at = $12,
			login_reminder_sent = $13, login_reminder_sent_at = $14,
			login_document_reminder_sent = $15, login_document_reminder_sent_at = $16,
			document_reminder_count = $17, last_document_reminder_at = $18,
			both_conditions_met_at = $19,
			client_confirmed = $20, client_confirmed_at = $21,
			processing_complete_webhook_scheduled = $22,
			processing_complete_webhook_scheduled_at = $23,
			processing_complete_webhook_scheduled_for = $24,
			processing_complete_webhook_triggered = $25,
			processing_complete_webhook_triggered_at = $26,
			seven_day_review_scheduled = $27, seven_day_review_scheduled_at = $28,
			seven_day_review_triggered = $29, seven_day_review_triggered_at = $30,
			dedup_requested_at = $31,
			admin_approved = $32, admin_approved_at = $33, admin_approved_by = $34,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err = db.QueryRow(ctx, query,
		c.ID, c.ClientEmail, string(c.CurrentStatus),
		l.documents, l.creditors, l.history, l.dedupHistory, l.tickets,
		c.FirstPaymentReceived, c.FirstPaymentReceivedAt,
		c.PortalLinkSentAt, c.LastLoginAt,
		c.LoginReminderSent, c.LoginReminderSentAt,
		c.LoginDocReminderSent, c.LoginDocReminderSentAt,
		c.DocumentReminderCount, c.LastDocumentReminderAt,
		c.BothConditionsMetAt,
		c.ClientConfirmed, c.ClientConfirmedAt,
		c.ProcessingWebhookScheduled,
		c.ProcessingWebhookScheduledAt,
		c.ProcessingWebhookScheduledFor,
		c.ProcessingWebhookTriggered,
		c.ProcessingWebhookTriggeredAt,
		c.SevenDayReviewScheduled, c.SevenDayReviewScheduledAt,
		c.SevenDayReviewTriggered, c.SevenDayReviewTriggeredAt,
		c.DedupRequestedAt,
		c.AdminApproved, c.AdminApprovedAt, c.AdminApprovedBy,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления дела: %w", err)
	}
	return nil
}

// duePredicates — SQL-условия проходов планировщика.
// @now — время прохода, @cutoff — now минус задержка прохода.
var duePredicates = map[model.SweepName]string{
	model.SweepDocumentReminder: `
		first_payment_received
		AND last_login_at IS NOT NULL
		AND jsonb_array_length(documents) = 0
		AND COALESCE(last_document_reminder_at, first_payment_received_at) <= @cutoff`,
	model.SweepDelayedWebhook: `
		processing_complete_webhook_scheduled
		AND NOT processing_complete_webhook_triggered
		AND processing_complete_webhook_scheduled_for <= @now`,
	model.SweepLoginReminder: `
		(portal_link_sent_at <= @cutoff
			AND last_login_at IS NULL
			AND NOT login_reminder_sent
			AND current_status IN ('created', 'portal_access_sent'))
		OR (last_login_at <= @cutoff
			AND jsonb_array_length(documents) = 0
			AND NOT login_document_reminder_sent
			AND NOT first_payment_received
			AND current_status IN ('portal_access_sent', 'documents_uploaded'))`,
	model.SweepSevenDayReview: `
		seven_day_review_scheduled
		AND NOT seven_day_review_triggered
		AND both_conditions_met_at <= @cutoff`,
	model.SweepAutoConfirm: `
		current_status = 'awaiting_client_confirmation'
		AND admin_approved
		AND admin_approved_at <= @cutoff
		AND NOT client_confirmed`,
	model.SweepAIRededup: `
		dedup_requested_at IS NOT NULL
		AND dedup_requested_at <= @cutoff`,
}

func (r *caseRepo) ListDue(ctx context.Context, q model.DueQuery) ([]string, error) {
	predicate, ok := duePredicates[q.Sweep]
	if !ok {
		return nil, fmt.Errorf("неизвестный проход %q", q.Sweep)
	}

	args := pgx.NamedArgs{
		"now":    q.Now,
		"cutoff": q.Cutoff,
		"limit":  q.Limit,
	}
	// Постраничная выборка по id: устаревшие дела проход не изменяет,
	// поэтому сортировка по updated_at возвращала бы их снова и снова.
	query := `SELECT id FROM cases WHERE (` + predicate + `)`
	if q.After != "" {
		query += ` AND id > @after`
		args["after"] = q.After
	}
	query += `
		ORDER BY id
		LIMIT @limit`

	rows, err := r.db.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки дел для прохода %s: %w", q.Sweep, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования дел для прохода %s: %w", q.Sweep, err)
	}
	return ids, nil
}

func (r *caseRepo) TryAcquireDedupGuard(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrNotFound
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE cases
		SET dedup_in_progress = true, dedup_started_at = $2
		WHERE id = $1
			AND (NOT dedup_in_progress OR dedup_started_at IS NULL OR dedup_started_at < $3)`,
		id, now, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка установки флага дедупликации: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки дела: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *caseRepo) ReleaseDedupGuard(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE cases
		SET dedup_in_progress = false, dedup_completed_at = $2
		WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("ошибка снятия флага дедупликации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

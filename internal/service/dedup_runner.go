// dedup_runner.go — дедупликация списка кредиторов дела под флагом-охранником.
//
// Run:
//  1. Атомарно ставит dedup_in_progress (UPDATE … WHERE NOT dedup_in_progress).
//     Флаг уже стоит → DedupOutcome{Skipped: true}, без побочных эффектов.
//  2. Отправляет снимок списка в сервис AI-дедупликации (таймаут 5 минут).
//     Ошибка сервиса → локальный dedup.Dedupe (highest_amount).
//  3. Записывает результат через CaseUpdater: правки, сделанные за время
//     вызова (новые, удалённые и проверенные кредиторы), сохраняются.
//  4. Всегда снимает флаг и ставит dedup_completed_at (отдельный контекст).
//
// Prometheus-метрики:
//   - im_dedup_runs_total — прогоны по результату (inference, local, skipped, failed)
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/dedup"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/inference"
)

var dedupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "im_dedup_runs_total",
	Help: "Прогоны дедупликации списка кредиторов по результату.",
}, []string{"result"})

// Источник результата дедупликации.
const (
	DedupSourceInference = "inference"
	DedupSourceLocal     = "local"
	// DedupSourceBatch — статистика, присланная вместе с пакетом результатов
	DedupSourceBatch = "ai_batch"
)

// Триггеры прогона, записываются в deduplication_history.
const (
	DedupTriggerScheduler = "scheduler"
	DedupTriggerAdmin     = "admin"
	DedupTriggerWebhook   = "webhook"
)

// releaseTimeout — таймаут снятия флага после прогона.
const releaseTimeout = 10 * time.Second

// DedupInference — сервис AI-дедупликации.
type DedupInference interface {
	DeduplicateAll(ctx context.Context, creditors []model.Creditor) (*inference.DedupResult, error)
}

// DedupOutcome — итог прогона.
type DedupOutcome struct {
	CaseID            string `json:"case_id"`
	Skipped           bool   `json:"skipped"`
	Source            string `json:"source,omitempty"`
	OriginalCount     int    `json:"original_count"`
	UniqueCount       int    `json:"unique_count"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
}

// DedupRunner — прогон дедупликации с флагом-охранником.
type DedupRunner struct {
	store      CaseStore
	updater    *CaseUpdater
	inference  DedupInference
	timeout    time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewDedupRunner создаёт DedupRunner.
// timeout — таймаут вызова сервиса, staleAfter — возраст флага,
// после которого он считается брошенным.
func NewDedupRunner(
	store CaseStore,
	updater *CaseUpdater,
	inf DedupInference,
	timeout time.Duration,
	staleAfter time.Duration,
	logger *slog.Logger,
) *DedupRunner {
	return &DedupRunner{
		store:      store,
		updater:    updater,
		inference:  inf,
		timeout:    timeout,
		staleAfter: staleAfter,
		logger:     logger.With(slog.String("component", "dedup_runner")),
		now:        time.Now,
	}
}

// Run выполняет прогон для дела. Конкурентный прогон того же дела
// возвращает Skipped без ошибки.
func (r *DedupRunner) Run(ctx context.Context, caseID, trigger string) (*DedupOutcome, error) {
	startedAt := r.now().UTC()
	acquired, err := r.store.TryAcquireDedupGuard(ctx, caseID, startedAt, startedAt.Add(-r.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("дело %s: %w", caseID, mapRepoError(err))
	}
	if !acquired {
		dedupRunsTotal.WithLabelValues("skipped").Inc()
		r.logger.Info("Дедупликация уже выполняется, прогон пропущен",
			slog.String("case_id", caseID),
			slog.String("trigger", trigger),
		)
		return &DedupOutcome{CaseID: caseID, Skipped: true}, nil
	}

	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.store.ReleaseDedupGuard(relCtx, caseID, r.now().UTC()); err != nil {
			r.logger.Error("Ошибка снятия флага дедупликации",
				slog.String("case_id", caseID),
				slog.String("error", err.Error()),
			)
		}
	}()

	outcome, err := r.run(ctx, caseID, trigger, startedAt)
	if err != nil {
		dedupRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	dedupRunsTotal.WithLabelValues(outcome.Source).Inc()
	return outcome, nil
}

func (r *DedupRunner) run(ctx context.Context, caseID, trigger string, startedAt time.Time) (*DedupOutcome, error) {
	c, err := r.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("дело %s: %w", caseID, mapRepoError(err))
	}
	snapshot := c.FinalCreditorList

	source := DedupSourceLocal
	var deduped []model.Creditor
	var stats *inference.Stats

	if len(snapshot) > 0 {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.inference.DeduplicateAll(callCtx, snapshot)
		cancel()
		if err != nil {
			r.logger.Warn("Сервис дедупликации недоступен, локальная дедупликация",
				slog.String("case_id", caseID),
				slog.String("error", err.Error()),
			)
		} else {
			source = DedupSourceInference
			deduped = normalizeInferenceResult(res.DeduplicatedCreditors, snapshot, startedAt)
			stats = res.Stats
		}
	}
	if source == DedupSourceLocal {
		deduped = dedup.Dedupe(snapshot, model.StrategyHighestAmount, startedAt)
	}

	outcome := &DedupOutcome{CaseID: caseID, Source: source}
	_, err = r.updater.Update(ctx, caseID, func(cs *model.Case) error {
		cs.FinalCreditorList = reconcile(snapshot, deduped, cs.FinalCreditorList, startedAt)

		outcome.OriginalCount = len(snapshot)
		outcome.UniqueCount = len(cs.FinalCreditorList)
		outcome.DuplicatesRemoved = max(outcome.OriginalCount-outcome.UniqueCount, 0)
		if stats != nil {
			outcome.OriginalCount = stats.OriginalCount
			outcome.UniqueCount = stats.UniqueCount
			outcome.DuplicatesRemoved = stats.DuplicatesRemoved
		}

		cs.DeduplicationHistory = append(cs.DeduplicationHistory, model.DedupRun{
			ID:                uuid.NewString(),
			Source:            source,
			Trigger:           trigger,
			OriginalCount:     outcome.OriginalCount,
			UniqueCount:       outcome.UniqueCount,
			DuplicatesRemoved: outcome.DuplicatesRemoved,
			RunAt:             r.now().UTC(),
		})
		// Запрос, пришедший во время прогона, остаётся для следующего прохода
		if cs.DedupRequestedAt != nil && !cs.DedupRequestedAt.After(startedAt) {
			cs.DedupRequestedAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("сохранение результата дедупликации: %w", err)
	}

	r.logger.Info("Дедупликация завершена",
		slog.String("case_id", caseID),
		slog.String("trigger", trigger),
		slog.String("source", source),
		slog.Int("original_count", outcome.OriginalCount),
		slog.Int("unique_count", outcome.UniqueCount),
	)
	return outcome, nil
}

// normalizeInferenceResult дополняет записи сервиса: id, статус и created_at.
// Повторный или пустой id заменяется новым.
func normalizeInferenceResult(in, snapshot []model.Creditor, now time.Time) []model.Creditor {
	prev := make(map[string]*model.Creditor, len(snapshot))
	for i := range snapshot {
		prev[snapshot[i].ID] = &snapshot[i]
	}

	seen := make(map[string]bool, len(in))
	out := make([]model.Creditor, 0, len(in))
	for i := range in {
		c := in[i].Clone()
		if c.ID == "" || seen[c.ID] {
			c.ID = uuid.NewString()
		}
		seen[c.ID] = true

		if c.Status == "" {
			c.Status = model.CreditorConfirmed
			if p, ok := prev[c.ID]; ok {
				c.Status = p.Status
			}
		}
		if c.CreatedAt == nil {
			c.CreatedAt = &now
		}
		out = append(out, c)
	}
	return out
}

// reconcile накладывает результат прогона на текущий список.
// Кредиторы, добавленные после снимка, вливаются через dedup.Merge;
// удалённые после снимка не возвращаются; текущая версия записи
// (например, после ручной проверки) заменяет версию из снимка.
func reconcile(snapshot, deduped, current []model.Creditor, now time.Time) []model.Creditor {
	inSnapshot := make(map[string]bool, len(snapshot))
	for i := range snapshot {
		inSnapshot[snapshot[i].ID] = true
	}
	currentByID := make(map[string]*model.Creditor, len(current))
	for i := range current {
		currentByID[current[i].ID] = &current[i]
	}

	result := make([]model.Creditor, 0, len(deduped))
	for i := range deduped {
		c := deduped[i]
		cur, exists := currentByID[c.ID]
		if inSnapshot[c.ID] && !exists {
			continue
		}
		if exists {
			provenance := c.Deduplication
			c = cur.Clone()
			if provenance != nil {
				c.Deduplication = provenance
			}
		}
		result = append(result, c)
	}

	var added []model.Creditor
	for i := range current {
		if !inSnapshot[current[i].ID] {
			added = append(added, current[i].Clone())
		}
	}
	if len(added) == 0 {
		return result
	}
	return dedup.Merge(result, added, model.StrategyHighestAmount, now)
}

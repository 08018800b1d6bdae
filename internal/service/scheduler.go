// scheduler.go — планировщик отложенных действий.
//
// Каждый проход имеет свой тикер и отложенный первый запуск.
// Схема прохода: выборка подходящих дел (SQL-предикат) → перечитывание
// и повторная проверка → действие → отметка и запись в журнал.
// Ошибка по одному делу логируется, проход продолжается.
//
// Prometheus-метрики:
//   - im_sweep_runs_total — запуски проходов по результату (ok, error, busy)
//   - im_sweep_duration_seconds — длительность прохода
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sweep_runs_total",
		Help: "Запуски проходов планировщика по результату.",
	}, []string{"sweep", "result"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "im_sweep_duration_seconds",
		Help:    "Длительность прохода планировщика.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})
)

// ErrSweepBusy — проход уже выполняется.
var ErrSweepBusy = errors.New("проход уже выполняется")

// HookSender — downstream-webhook системы ведения дел.
type HookSender interface {
	ProcessingComplete(ctx context.Context, payload hookclient.ProcessingComplete) error
	CreditorReview(ctx context.Context, payload hookclient.CreditorReview) error
}

// ReminderCreator — создание тикета-напоминания.
type ReminderCreator interface {
	CreateReminder(ctx context.Context, c *model.Case, kind, content string) (string, error)
}

// CaseDeduplicator — охраняемый прогон дедупликации.
type CaseDeduplicator interface {
	Run(ctx context.Context, caseID, trigger string) (*DedupOutcome, error)
}

// SweepRecorder сохраняет итог прохода.
type SweepRecorder interface {
	Record(ctx context.Context, result model.SweepResult) error
}

// SchedulerConfig — интервалы и задержки проходов.
type SchedulerConfig struct {
	// InitialDelay — базовая задержка первых запусков
	InitialDelay time.Duration
	Concurrency  int
	BatchSize    int
	Intervals    map[model.SweepName]time.Duration

	ProcessingWebhookDelay time.Duration
	UploadQuietPeriod      time.Duration
	SevenDayReviewDelay    time.Duration
	AutoConfirmWindow      time.Duration
	DocumentReminderAfter  time.Duration
	LoginReminderAfter     time.Duration
	RededupDelay           time.Duration
}

// initialDelayFactor — доля базовой задержки до первого запуска прохода.
var initialDelayFactor = map[model.SweepName]float64{
	model.SweepDocumentReminder: 1,
	model.SweepDelayedWebhook:   2,
	model.SweepLoginReminder:    3,
	model.SweepSevenDayReview:   5,
	model.SweepAutoConfirm:      4,
	model.SweepAIRededup:        0.5,
}

// sweepOutcome — результат обработки одного дела.
type sweepOutcome int

const (
	outcomeSkipped sweepOutcome = iota
	outcomeTriggered
	outcomeRescheduled
)

// errStale — дело перестало подходить под условие прохода.
var errStale = errors.New("условие прохода больше не выполняется")

type sweepFunc func(ctx context.Context, caseID string, now time.Time) (sweepOutcome, error)

// Scheduler — планировщик отложенных действий.
type Scheduler struct {
	cfg       SchedulerConfig
	store     CaseStore
	updater   *CaseUpdater
	hooks     HookSender
	reminders ReminderCreator
	dedup     CaseDeduplicator
	states    SweepRecorder
	logger    *slog.Logger
	now       func() time.Time

	sweeps  map[model.SweepName]sweepFunc
	running map[model.SweepName]*sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler создаёт Scheduler.
func NewScheduler(
	cfg SchedulerConfig,
	store CaseStore,
	updater *CaseUpdater,
	hooks HookSender,
	reminders ReminderCreator,
	dedup CaseDeduplicator,
	states SweepRecorder,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		updater:   updater,
		hooks:     hooks,
		reminders: reminders,
		dedup:     dedup,
		states:    states,
		logger:    logger.With(slog.String("component", "scheduler")),
		now:       time.Now,
		running:   make(map[model.SweepName]*sync.Mutex, len(model.AllSweeps)),
	}
	s.sweeps = map[model.SweepName]sweepFunc{
		model.SweepDocumentReminder: s.documentReminder,
		model.SweepDelayedWebhook:   s.delayedWebhook,
		model.SweepLoginReminder:    s.loginReminder,
		model.SweepSevenDayReview:   s.sevenDayReview,
		model.SweepAutoConfirm:      s.autoConfirm,
		model.SweepAIRededup:        s.aiRededup,
	}
	for _, name := range model.AllSweeps {
		s.running[name] = &sync.Mutex{}
	}
	return s
}

// Start запускает горутину с тикером для каждого прохода.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range model.AllSweeps {
		interval := s.cfg.Intervals[name]
		if interval <= 0 {
			s.logger.Warn("Интервал прохода не задан, проход отключён",
				slog.String("sweep", string(name)),
			)
			continue
		}
		delay := time.Duration(float64(s.cfg.InitialDelay) * initialDelayFactor[name])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, name, delay, interval)
		}()
	}

	s.logger.Info("Планировщик запущен",
		slog.String("initial_delay", s.cfg.InitialDelay.String()),
		slog.Int("concurrency", s.cfg.Concurrency),
	)
}

func (s *Scheduler) loop(ctx context.Context, name model.SweepName, delay, interval time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.runLogged(ctx, name)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx, name)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context, name model.SweepName) {
	if _, err := s.RunSweep(ctx, name); err != nil && !errors.Is(err, ErrSweepBusy) {
		s.logger.Error("Ошибка прохода планировщика",
			slog.String("sweep", string(name)),
			slog.String("error", err.Error()),
		)
	}
}

// Stop останавливает все проходы и ждёт завершения текущих.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Планировщик остановлен")
}

// RunSweep выполняет один проход синхронно.
// Повторный запуск уже идущего прохода возвращает ErrSweepBusy.
func (s *Scheduler) RunSweep(ctx context.Context, name model.SweepName) (*model.SweepResult, error) {
	fn, ok := s.sweeps[name]
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный проход %q", ErrValidation, name)
	}
	mu := s.running[name]
	if !mu.TryLock() {
		sweepRunsTotal.WithLabelValues(string(name), "busy").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSweepBusy, name)
	}
	defer mu.Unlock()

	started := s.now().UTC()
	timer := prometheus.NewTimer(sweepDuration.WithLabelValues(string(name)))
	defer timer.ObserveDuration()

	result := &model.SweepResult{Sweep: name, StartedAt: started}

	q := model.DueQuery{
		Sweep:  name,
		Now:    started,
		Cutoff: started.Add(-s.cutoffDelay(name)),
		Limit:  s.cfg.BatchSize,
	}
	var resMu sync.Mutex
	for {
		ids, err := s.store.ListDue(ctx, q)
		if err != nil {
			sweepRunsTotal.WithLabelValues(string(name), "error").Inc()
			return nil, fmt.Errorf("выборка дел для прохода %s: %w", name, err)
		}
		result.Selected += len(ids)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, id := range ids {
			g.Go(func() error {
				outcome, err := fn(gctx, id, started)

				resMu.Lock()
				defer resMu.Unlock()
				switch {
				case errors.Is(err, errStale):
					result.Skipped++
				case err != nil:
					result.Failed++
					s.logger.Error("Ошибка обработки дела в проходе",
						slog.String("sweep", string(name)),
						slog.String("case_id", id),
						slog.String("error", err.Error()),
					)
				case outcome == outcomeTriggered:
					result.Triggered++
				case outcome == outcomeRescheduled:
					result.Rescheduled++
				default:
					result.Skipped++
				}
				return nil
			})
		}
		_ = g.Wait()

		// Неполная страница — выборка исчерпана
		if q.Limit <= 0 || len(ids) < q.Limit || ctx.Err() != nil {
			break
		}
		q.After = ids[len(ids)-1]
	}
	result.CompletedAt = s.now().UTC()

	if err := s.states.Record(context.WithoutCancel(ctx), *result); err != nil {
		s.logger.Warn("Ошибка сохранения состояния прохода",
			slog.String("sweep", string(name)),
			slog.String("error", err.Error()),
		)
	}
	sweepRunsTotal.WithLabelValues(string(name), "ok").Inc()

	if result.Selected > 0 {
		s.logger.Info("Проход планировщика завершён",
			slog.String("sweep", string(name)),
			slog.Int("selected", result.Selected),
			slog.Int("triggered", result.Triggered),
			slog.Int("rescheduled", result.Rescheduled),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// cutoffDelay — задержка, задающая @cutoff в предикате прохода.
func (s *Scheduler) cutoffDelay(name model.SweepName) time.Duration {
	switch name {
	case model.SweepDocumentReminder:
		return s.cfg.DocumentReminderAfter
	case model.SweepLoginReminder:
		return s.cfg.LoginReminderAfter
	case model.SweepSevenDayReview:
		return s.cfg.SevenDayReviewDelay
	case model.SweepAutoConfirm:
		return s.cfg.AutoConfirmWindow
	case model.SweepAIRededup:
		return s.cfg.RededupDelay
	}
	return 0
}

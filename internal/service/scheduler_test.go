package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
)

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		InitialDelay: time.Minute,
		Concurrency:  2,
		BatchSize:    100,
		Intervals: map[model.SweepName]time.Duration{
			model.SweepDocumentReminder: time.Hour,
			model.SweepDelayedWebhook:   30 * time.Minute,
			model.SweepLoginReminder:    6 * time.Hour,
			model.SweepSevenDayReview:   time.Hour,
			model.SweepAutoConfirm:      7 * time.Hour,
			model.SweepAIRededup:        5 * time.Minute,
		},
		ProcessingWebhookDelay: 24 * time.Hour,
		UploadQuietPeriod:      time.Hour,
		SevenDayReviewDelay:    168 * time.Hour,
		AutoConfirmWindow:      168 * time.Hour,
		DocumentReminderAfter:  48 * time.Hour,
		LoginReminderAfter:     168 * time.Hour,
		RededupDelay:           30 * time.Minute,
	}
}

type schedulerFixture struct {
	store     *memStore
	hooks     *fakeHooks
	reminders *fakeReminders
	recorder  *fakeRecorder
	sched     *Scheduler
}

func newSchedulerFixture(cases ...*model.Case) *schedulerFixture {
	f := &schedulerFixture{
		store:     newMemStore(cases...),
		hooks:     &fakeHooks{},
		reminders: &fakeReminders{},
		recorder:  &fakeRecorder{},
	}
	updater := NewCaseUpdater(f.store)
	runner := newTestRunner(f.store, failingInference())
	f.sched = NewScheduler(testSchedulerConfig(), f.store, updater, f.hooks, f.reminders, runner, f.recorder, testLogger())
	f.sched.now = fixedNow
	return f
}

func (f *schedulerFixture) due(sweep model.SweepName, ids ...string) {
	f.store.due[sweep] = ids
}

func processedDoc(id string, uploaded time.Time) model.Document {
	return model.Document{
		ID:               id,
		ProcessingStatus: model.ProcessingCompleted,
		DocumentStatus:   model.DocCreditorConfirmed,
		UploadedAt:       &uploaded,
	}
}

func TestSevenDayReviewSweep(t *testing.T) {
	due := newCase(caseA, "AZ-100")
	due.CurrentStatus = workflow.StatusDocumentsCompleted
	due.FirstPaymentReceived = true
	due.Documents = []model.Document{processedDoc("d1", testNow.Add(-10*24*time.Hour))}
	due.BothConditionsMetAt = tptr(testNow.Add(-8 * 24 * time.Hour))
	due.SevenDayReviewScheduled = true

	// Оплату откатили после планирования
	stale := newCase(caseB, "AZ-200")
	stale.CurrentStatus = workflow.StatusDocumentsCompleted
	stale.Documents = []model.Document{processedDoc("d1", testNow.Add(-10*24*time.Hour))}
	stale.BothConditionsMetAt = tptr(testNow.Add(-8 * 24 * time.Hour))
	stale.SevenDayReviewScheduled = true

	f := newSchedulerFixture(due, stale)
	f.due(model.SweepSevenDayReview, caseA, caseB)

	res, err := f.sched.RunSweep(context.Background(), model.SweepSevenDayReview)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Selected != 2 || res.Triggered != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("итог %+v, хотели selected=2 triggered=1 skipped=1", res)
	}

	got := f.store.get(caseA)
	if got.CurrentStatus != workflow.StatusCreditorReview {
		t.Errorf("статус %q, хотели creditor_review", got.CurrentStatus)
	}
	if !got.SevenDayReviewTriggered || got.SevenDayReviewTriggeredAt == nil || got.SevenDayReviewScheduled {
		t.Error("7-дневная проверка не отмечена как выполненная")
	}
	if len(f.hooks.reviews) != 1 || f.hooks.reviews[0].TriggeredBy != hookclient.TriggeredBySevenDayReview {
		t.Errorf("hook проверки: %+v", f.hooks.reviews)
	}

	gotStale := f.store.get(caseB)
	if gotStale.SevenDayReviewTriggered || len(gotStale.StatusHistory) != 0 {
		t.Error("устаревшее дело изменено")
	}
	if len(f.recorder.results) != 1 {
		t.Errorf("записей состояния прохода %d, хотели 1", len(f.recorder.results))
	}
}

func TestSweepPagesPastStaleCases(t *testing.T) {
	var cases []*model.Case
	var ids []string
	// Пять устаревших дел сортируются раньше единственного готового
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i)
		stale := newCase(id, fmt.Sprintf("AZ-%d", i))
		stale.CurrentStatus = workflow.StatusDocumentsCompleted
		stale.Documents = []model.Document{processedDoc("d1", testNow.Add(-10*24*time.Hour))}
		stale.BothConditionsMetAt = tptr(testNow.Add(-8 * 24 * time.Hour))
		stale.SevenDayReviewScheduled = true
		cases = append(cases, stale)
		ids = append(ids, id)
	}
	const dueID = "ffffffff-0000-0000-0000-000000000001"
	due := newCase(dueID, "AZ-999")
	due.CurrentStatus = workflow.StatusDocumentsCompleted
	due.FirstPaymentReceived = true
	due.Documents = []model.Document{processedDoc("d1", testNow.Add(-10*24*time.Hour))}
	due.BothConditionsMetAt = tptr(testNow.Add(-8 * 24 * time.Hour))
	due.SevenDayReviewScheduled = true
	cases = append(cases, due)
	ids = append(ids, dueID)

	f := newSchedulerFixture(cases...)
	f.sched.cfg.BatchSize = 2
	f.due(model.SweepSevenDayReview, ids...)

	res, err := f.sched.RunSweep(context.Background(), model.SweepSevenDayReview)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Selected != 6 || res.Triggered != 1 || res.Skipped != 5 {
		t.Errorf("итог %+v, хотели selected=6 triggered=1 skipped=5", res)
	}

	if got := f.store.get(dueID); got.CurrentStatus != workflow.StatusCreditorReview {
		t.Errorf("готовое дело не обработано: статус %q", got.CurrentStatus)
	}
	if len(f.hooks.reviews) != 1 {
		t.Errorf("hook проверки вызван %d раз, хотели 1", len(f.hooks.reviews))
	}
	// три полные страницы и пустая
	if len(f.store.queries) != 4 {
		t.Fatalf("запросов ListDue %d, хотели 4", len(f.store.queries))
	}
	if f.store.queries[0].After != "" || f.store.queries[1].After != ids[1] || f.store.queries[3].After != dueID {
		t.Errorf("курсоры выборки: %+v", f.store.queries[:4])
	}
}

func TestDelayedWebhookSweep(t *testing.T) {
	ready := newCase(caseA, "AZ-100")
	ready.FirstPaymentReceived = true
	ready.Documents = []model.Document{processedDoc("d1", testNow.Add(-2*time.Hour))}
	ready.ProcessingWebhookScheduled = true
	ready.ProcessingWebhookScheduledFor = tptr(testNow.Add(-time.Minute))

	recent := newCase(caseB, "AZ-200")
	recent.FirstPaymentReceived = true
	recent.Documents = []model.Document{processedDoc("d1", testNow.Add(-30*time.Minute))}
	recent.ProcessingWebhookScheduled = true
	recent.ProcessingWebhookScheduledFor = tptr(testNow.Add(-time.Minute))

	f := newSchedulerFixture(ready, recent)
	f.due(model.SweepDelayedWebhook, caseA, caseB)

	res, err := f.sched.RunSweep(context.Background(), model.SweepDelayedWebhook)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Triggered != 1 || res.Rescheduled != 1 {
		t.Errorf("итог %+v, хотели triggered=1 rescheduled=1", res)
	}

	if len(f.hooks.processing) != 1 {
		t.Fatalf("вызовов processing-complete %d, хотели 1", len(f.hooks.processing))
	}
	if p := f.hooks.processing[0]; p.ClientID != "AZ-100" || !p.DelayedTrigger ||
		p.TriggeredBy != hookclient.TriggeredByDelayedProcessing {
		t.Errorf("payload %+v", p)
	}
	if got := f.store.get(caseA); !got.ProcessingWebhookTriggered {
		t.Error("webhook не отмечен как отправленный")
	}

	got := f.store.get(caseB)
	if got.ProcessingWebhookTriggered {
		t.Error("webhook отправлен несмотря на недавнюю загрузку")
	}
	if want := testNow.Add(24 * time.Hour); !got.ProcessingWebhookScheduledFor.Equal(want) {
		t.Errorf("scheduled_for = %v, хотели %v", got.ProcessingWebhookScheduledFor, want)
	}
	last := got.StatusHistory[len(got.StatusHistory)-1]
	if last.Status != "processing_webhook_rescheduled" || last.Metadata["reason"] != "recent_upload" {
		t.Errorf("запись журнала %+v", last)
	}
}

func TestDelayedWebhookHookFailureKeepsSchedule(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.FirstPaymentReceived = true
	c.Documents = []model.Document{processedDoc("d1", testNow.Add(-2*time.Hour))}
	c.ProcessingWebhookScheduled = true
	c.ProcessingWebhookScheduledFor = tptr(testNow.Add(-time.Minute))

	f := newSchedulerFixture(c)
	f.hooks.err = errors.New("503")
	f.due(model.SweepDelayedWebhook, caseA)

	res, err := f.sched.RunSweep(context.Background(), model.SweepDelayedWebhook)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, хотели 1", res.Failed)
	}
	if got := f.store.get(caseA); got.ProcessingWebhookTriggered || !got.ProcessingWebhookScheduled {
		t.Error("неудачная отправка изменила расписание webhook")
	}
}

func TestReminderSweeps(t *testing.T) {
	docs := newCase(caseA, "AZ-100")
	docs.CurrentStatus = workflow.StatusPortalAccessSent
	docs.FirstPaymentReceived = true
	docs.FirstPaymentReceivedAt = tptr(testNow.Add(-72 * time.Hour))
	docs.LastLoginAt = tptr(testNow.Add(-60 * time.Hour))

	login := newCase(caseB, "AZ-200")
	login.CurrentStatus = workflow.StatusPortalAccessSent
	login.PortalLinkSentAt = tptr(testNow.Add(-8 * 24 * time.Hour))

	f := newSchedulerFixture(docs, login)
	f.due(model.SweepDocumentReminder, caseA)
	f.due(model.SweepLoginReminder, caseB)

	if _, err := f.sched.RunSweep(context.Background(), model.SweepDocumentReminder); err != nil {
		t.Fatalf("document_reminder: %v", err)
	}
	if _, err := f.sched.RunSweep(context.Background(), model.SweepLoginReminder); err != nil {
		t.Fatalf("login_reminder: %v", err)
	}

	if len(f.reminders.kinds) != 2 ||
		f.reminders.kinds[0] != TicketKindDocumentReminder ||
		f.reminders.kinds[1] != TicketKindLoginReminder {
		t.Errorf("напоминания %v", f.reminders.kinds)
	}

	gotDocs := f.store.get(caseA)
	if gotDocs.DocumentReminderCount != 1 || gotDocs.LastDocumentReminderAt == nil {
		t.Errorf("document_reminder_count=%d", gotDocs.DocumentReminderCount)
	}
	if gotLogin := f.store.get(caseB); !gotLogin.LoginReminderSent {
		t.Error("login_reminder_sent не установлен")
	}

	// Повторный проход: напоминание о документах ещё не просрочено
	if _, err := f.sched.RunSweep(context.Background(), model.SweepDocumentReminder); err != nil {
		t.Fatalf("повторный document_reminder: %v", err)
	}
	if len(f.reminders.kinds) != 2 {
		t.Error("повторное напоминание отправлено раньше срока")
	}
}

func TestAutoConfirmSweep(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.CurrentStatus = workflow.StatusAwaitingConfirmation
	c.AdminApproved = true
	c.AdminApprovedAt = tptr(testNow.Add(-8 * 24 * time.Hour))
	pending := creditor("c1", "Muster Bank", "REF-1", "100")
	pending.Status = model.CreditorPending
	c.FinalCreditorList = []model.Creditor{pending}

	f := newSchedulerFixture(c)
	f.due(model.SweepAutoConfirm, caseA)

	res, err := f.sched.RunSweep(context.Background(), model.SweepAutoConfirm)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Triggered != 1 {
		t.Errorf("triggered = %d, хотели 1", res.Triggered)
	}

	got := f.store.get(caseA)
	if got.CurrentStatus != workflow.StatusCreditorContactInitiated || !got.ClientConfirmed {
		t.Errorf("статус %q, client_confirmed=%v", got.CurrentStatus, got.ClientConfirmed)
	}
	if got.FinalCreditorList[0].Status != model.CreditorConfirmed {
		t.Error("кредитор не подтверждён")
	}
}

func TestAIRededupSweep(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.FinalCreditorList = []model.Creditor{
		creditor("c1", "Muster Bank", "REF-1", "100"),
		creditor("c2", "Muster Bank", "REF-1", "200"),
	}
	c.DedupRequestedAt = tptr(testNow.Add(-time.Hour))

	f := newSchedulerFixture(c)
	f.due(model.SweepAIRededup, caseA)

	res, err := f.sched.RunSweep(context.Background(), model.SweepAIRededup)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Triggered != 1 {
		t.Errorf("triggered = %d, хотели 1", res.Triggered)
	}
	got := f.store.get(caseA)
	if len(got.FinalCreditorList) != 1 || got.DedupRequestedAt != nil {
		t.Errorf("кредиторов %d, dedup_requested_at=%v", len(got.FinalCreditorList), got.DedupRequestedAt)
	}
}

func TestRunSweepErrors(t *testing.T) {
	f := newSchedulerFixture()

	if _, err := f.sched.RunSweep(context.Background(), "unknown"); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный проход: %v, хотели ErrValidation", err)
	}

	mu := f.sched.running[model.SweepAutoConfirm]
	mu.Lock()
	_, err := f.sched.RunSweep(context.Background(), model.SweepAutoConfirm)
	mu.Unlock()
	if !errors.Is(err, ErrSweepBusy) {
		t.Errorf("параллельный запуск: %v, хотели ErrSweepBusy", err)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newSchedulerFixture()
	f.sched.cfg.InitialDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sched.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		f.recorder.mu.Lock()
		n := len(f.recorder.results)
		f.recorder.mu.Unlock()
		if n == len(model.AllSweeps) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("за 2s выполнено %d первых проходов из %d", n, len(model.AllSweeps))
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.sched.Stop()
}

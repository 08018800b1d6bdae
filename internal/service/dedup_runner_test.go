package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/inference"
)

func newTestRunner(store *memStore, inf DedupInference) *DedupRunner {
	r := NewDedupRunner(store, NewCaseUpdater(store), inf, 5*time.Minute, 15*time.Minute, testLogger())
	r.now = fixedNow
	return r
}

// passThrough возвращает список без изменений.
func passThrough(cs []model.Creditor) (*inference.DedupResult, error) {
	return &inference.DedupResult{
		DeduplicatedCreditors: cs,
		Stats:                 &inference.Stats{OriginalCount: len(cs), UniqueCount: len(cs)},
	}, nil
}

func TestDedupRunnerGuardIsExclusive(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.FinalCreditorList = []model.Creditor{creditor("c1", "Muster Bank", "REF-1", "100")}
	store := newMemStore(c)

	inf := &fakeInference{
		fn:      passThrough,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	runner := newTestRunner(store, inf)

	type result struct {
		out *DedupOutcome
		err error
	}
	first := make(chan result, 1)
	go func() {
		out, err := runner.Run(context.Background(), caseA, DedupTriggerScheduler)
		first <- result{out, err}
	}()
	<-inf.started

	if !store.get(caseA).DedupInProgress {
		t.Fatal("флаг dedup_in_progress не установлен во время прогона")
	}
	updatesBefore := store.updateCount()

	second, err := runner.Run(context.Background(), caseA, DedupTriggerAdmin)
	if err != nil {
		t.Fatalf("второй прогон: неожиданная ошибка: %v", err)
	}
	if !second.Skipped {
		t.Error("второй прогон не пропущен при занятом флаге")
	}
	if store.updateCount() != updatesBefore {
		t.Error("пропущенный прогон изменил дело")
	}

	close(inf.block)
	r := <-first
	if r.err != nil {
		t.Fatalf("первый прогон: %v", r.err)
	}
	if r.out.Skipped || r.out.Source != DedupSourceInference {
		t.Errorf("первый прогон: %+v, хотели source=inference", r.out)
	}

	got := store.get(caseA)
	if got.DedupInProgress {
		t.Error("флаг не снят после прогона")
	}
	if got.DedupCompletedAt == nil {
		t.Error("dedup_completed_at не установлен")
	}
	if len(got.DeduplicationHistory) != 1 || got.DeduplicationHistory[0].Trigger != DedupTriggerScheduler {
		t.Errorf("история дедупликации: %+v", got.DeduplicationHistory)
	}
}

func TestDedupRunnerLocalFallback(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.FinalCreditorList = []model.Creditor{
		creditor("c1", "Muster Bank", "REF-1", "100"),
		creditor("c2", "muster  bank", "REF-1", "250,00"),
		creditor("c3", "Nord Inkasso", "REF-2", "80"),
	}
	c.DedupRequestedAt = tptr(testNow.Add(-time.Hour))
	store := newMemStore(c)
	runner := newTestRunner(store, failingInference())

	out, err := runner.Run(context.Background(), caseA, DedupTriggerScheduler)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Source != DedupSourceLocal {
		t.Errorf("source = %q, хотели local", out.Source)
	}
	if out.OriginalCount != 3 || out.UniqueCount != 2 || out.DuplicatesRemoved != 1 {
		t.Errorf("статистика %+v, хотели 3/2/1", out)
	}

	got := store.get(caseA)
	if len(got.FinalCreditorList) != 2 {
		t.Fatalf("кредиторов %d, хотели 2", len(got.FinalCreditorList))
	}
	if idx := got.FindCreditor("c2"); idx < 0 {
		t.Error("победитель highest_amount (c2) отсутствует")
	}
	if got.DedupRequestedAt != nil {
		t.Error("dedup_requested_at не сброшен")
	}
}

func TestDedupRunnerTakesOverStaleGuard(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.DedupInProgress = true
	c.DedupStartedAt = tptr(testNow.Add(-time.Hour))
	store := newMemStore(c)
	runner := newTestRunner(store, &fakeInference{fn: passThrough})

	out, err := runner.Run(context.Background(), caseA, DedupTriggerAdmin)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Skipped {
		t.Error("брошенный флаг не перехвачен")
	}
}

func TestDedupRunnerKeepsConcurrentEdits(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.FinalCreditorList = []model.Creditor{
		creditor("c1", "Muster Bank", "REF-1", "100"),
		creditor("c2", "Nord Inkasso", "REF-2", "80"),
	}
	store := newMemStore(c)
	updater := NewCaseUpdater(store)

	inf := &fakeInference{
		fn:      passThrough,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	runner := newTestRunner(store, inf)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), caseA, DedupTriggerScheduler)
		done <- err
	}()
	<-inf.started

	// Пока идёт вызов сервиса: новый кредитор, удаление c2 и запрос нового прогона
	_, err := updater.Update(context.Background(), caseA, func(c *model.Case) error {
		c.FinalCreditorList = []model.Creditor{
			c.FinalCreditorList[0],
			creditor("c3", "Süd Bank", "REF-3", "40"),
		}
		c.DedupRequestedAt = tptr(testNow.Add(time.Minute))
		return nil
	})
	if err != nil {
		t.Fatalf("параллельная правка: %v", err)
	}

	close(inf.block)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := store.get(caseA)
	if got.FindCreditor("c3") < 0 {
		t.Error("кредитор, добавленный во время прогона, потерян")
	}
	if got.FindCreditor("c2") >= 0 {
		t.Error("кредитор, удалённый во время прогона, восстановлен")
	}
	if got.DedupRequestedAt == nil {
		t.Error("запрос, пришедший во время прогона, сброшен")
	}
}

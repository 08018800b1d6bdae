package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
)

// memStore — CaseStore в памяти для тестов сервисного слоя.
// Update сериализован мьютексом, как SELECT … FOR UPDATE в PostgreSQL.
type memStore struct {
	mu    sync.Mutex
	cases map[string]*model.Case

	// due — id дел, которые вернёт ListDue для прохода
	due map[model.SweepName][]string
	// updates — число успешных Update
	updates int
	// queries — запросы ListDue в порядке вызова
	queries []model.DueQuery
}

func newMemStore(cases ...*model.Case) *memStore {
	s := &memStore{
		cases: make(map[string]*model.Case),
		due:   make(map[model.SweepName][]string),
	}
	for _, c := range cases {
		s.cases[c.ID] = c.Clone()
	}
	return s
}

func (s *memStore) Create(_ context.Context, c *model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return repository.ErrConflict
	}
	for _, existing := range s.cases {
		if existing.CaseNumber == c.CaseNumber {
			return repository.ErrConflict
		}
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *memStore) GetByCaseNumber(_ context.Context, caseNumber string) (*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cases {
		if c.CaseNumber == caseNumber {
			return c.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) Update(_ context.Context, id string, fn func(*model.Case) error) (*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	work := c.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	// Колонки охранника Update не пишет
	work.DedupInProgress = c.DedupInProgress
	work.DedupStartedAt = c.DedupStartedAt
	work.DedupCompletedAt = c.DedupCompletedAt
	s.cases[id] = work
	s.updates++
	return work.Clone(), nil
}

func (s *memStore) ListDue(_ context.Context, q model.DueQuery) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.due[q.Sweep]...)
	sort.Strings(ids)
	if q.After != "" {
		i := sort.SearchStrings(ids, q.After)
		for i < len(ids) && ids[i] <= q.After {
			i++
		}
		ids = ids[i:]
	}
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	s.queries = append(s.queries, q)
	return ids, nil
}

func (s *memStore) TryAcquireDedupGuard(_ context.Context, id string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if c.DedupInProgress && c.DedupStartedAt != nil && !c.DedupStartedAt.Before(staleBefore) {
		return false, nil
	}
	c.DedupInProgress = true
	c.DedupStartedAt = &now
	return true, nil
}

func (s *memStore) ReleaseDedupGuard(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.DedupInProgress = false
	c.DedupCompletedAt = &now
	return nil
}

// get возвращает копию дела без ошибки (для проверок в тестах).
func (s *memStore) get(id string) *model.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[id].Clone()
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func tptr(t time.Time) *time.Time { return &t }

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
	"github.com/bigkaa/caseflow/intake-module/internal/hookclient"
	"github.com/bigkaa/caseflow/intake-module/internal/inference"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
	"github.com/bigkaa/caseflow/intake-module/internal/ticketing"
)

const (
	caseA = "11111111-1111-4111-8111-111111111111"
	caseB = "22222222-2222-4222-8222-222222222222"
)

// newCase создаёт дело в статусе created.
func newCase(id, number string) *model.Case {
	return &model.Case{
		ID:            id,
		CaseNumber:    number,
		ClientEmail:   "mandant@example.de",
		CurrentStatus: workflow.StatusCreated,
		CreatedAt:     testNow.Add(-30 * 24 * time.Hour),
		UpdatedAt:     testNow.Add(-30 * 24 * time.Hour),
	}
}

func creditor(id, name, ref, amount string) model.Creditor {
	return model.Creditor{
		ID:              id,
		SenderName:      name,
		ReferenceNumber: ref,
		ClaimAmount:     model.NewAmount(amount),
		Email:           "info@" + id + ".de",
		Status:          model.CreditorConfirmed,
		CreatedAt:       tptr(testNow.Add(-time.Hour)),
	}
}

// --- справочник кредиторов ---

type fakeDirectory struct {
	mu      sync.Mutex
	byName  map[string]*model.CreditorContact
	lookups int
	err     error
}

func newFakeDirectory(contacts ...*model.CreditorContact) *fakeDirectory {
	d := &fakeDirectory{byName: make(map[string]*model.CreditorContact)}
	for _, c := range contacts {
		d.byName[c.NormalizedName] = c
	}
	return d
}

func (d *fakeDirectory) FindByNormalizedName(_ context.Context, normalized string) (*model.CreditorContact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.byName[normalized]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *fakeDirectory) Upsert(_ context.Context, c *model.CreditorContact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *c
	d.byName[c.NormalizedName] = &cp
	return nil
}

func (d *fakeDirectory) lookupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

// --- тикет-система ---

type fakeTickets struct {
	mu       sync.Mutex
	created  []ticketing.Ticket
	comments map[string][]ticketing.Comment
	err      error
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{comments: make(map[string][]ticketing.Comment)}
}

func (f *fakeTickets) CreateTicket(_ context.Context, t ticketing.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, t)
	return fmt.Sprintf("T-%d", len(f.created)), nil
}

func (f *fakeTickets) AddInternalComment(_ context.Context, ticketID string, cm ticketing.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.comments[ticketID] = append(f.comments[ticketID], cm)
	return nil
}

func (f *fakeTickets) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// --- диспетчер проверки ---

type fakeDispatcher struct {
	mu    sync.Mutex
	items []ReviewItem
	calls int
}

func (f *fakeDispatcher) DispatchReview(_ *model.Case, _ string, items []ReviewItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.items = append(f.items, items...)
}

// --- downstream-webhook ---

type fakeHooks struct {
	mu         sync.Mutex
	processing []hookclient.ProcessingComplete
	reviews    []hookclient.CreditorReview
	err        error
}

func (f *fakeHooks) ProcessingComplete(_ context.Context, p hookclient.ProcessingComplete) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.processing = append(f.processing, p)
	return nil
}

func (f *fakeHooks) CreditorReview(_ context.Context, p hookclient.CreditorReview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reviews = append(f.reviews, p)
	return nil
}

// --- напоминания ---

type fakeReminders struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (f *fakeReminders) CreateReminder(_ context.Context, _ *model.Case, kind, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.kinds = append(f.kinds, kind)
	return fmt.Sprintf("R-%d", len(f.kinds)), nil
}

// --- AI-дедупликация ---

// fakeInference возвращает результат fn. Если block задан, вызов ждёт
// закрытия block; started закрывается при первом вызове.
type fakeInference struct {
	fn      func([]model.Creditor) (*inference.DedupResult, error)
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeInference) DeduplicateAll(ctx context.Context, creditors []model.Creditor) (*inference.DedupResult, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.fn(creditors)
}

var errInferenceDown = errors.New("connection refused")

func failingInference() *fakeInference {
	return &fakeInference{fn: func([]model.Creditor) (*inference.DedupResult, error) {
		return nil, errInferenceDown
	}}
}

// --- состояние проходов ---

type fakeRecorder struct {
	mu      sync.Mutex
	results []model.SweepResult
}

func (f *fakeRecorder) Record(_ context.Context, r model.SweepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

func newTestEscalation(store *memStore, tickets *fakeTickets) *EscalationService {
	s := NewEscalationService(tickets, NewCaseUpdater(store), 100, 10, time.Second, testLogger())
	s.now = fixedNow
	return s
}

func TestDispatchReviewCreatesTicket(t *testing.T) {
	store := newMemStore(newCase(caseA, "AZ-100"))
	tickets := newFakeTickets()
	svc := newTestEscalation(store, tickets)

	svc.DispatchReview(store.get(caseA), "job-1", []ReviewItem{{
		DocumentID:   "d1",
		DocumentName: "mahnung.pdf",
		CreditorName: "Muster Bank",
		Reasons:      []string{model.ReasonMissingEmail},
	}})
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if tickets.createdCount() != 1 {
		t.Fatalf("тикетов %d, хотели 1", tickets.createdCount())
	}
	tk := tickets.created[0]
	if !strings.Contains(tk.Content, "mahnung.pdf") || !strings.Contains(tk.Content, model.ReasonMissingEmail) {
		t.Errorf("содержимое тикета:\n%s", tk.Content)
	}
	if tk.RequesterEmail != "mandant@example.de" {
		t.Errorf("requester_email = %q", tk.RequesterEmail)
	}

	got := store.get(caseA)
	if len(got.Tickets) != 1 || got.Tickets[0].Kind != TicketKindManualReview || got.Tickets[0].TicketID != "T-1" {
		t.Errorf("ссылки на тикеты: %+v", got.Tickets)
	}
}

func TestDispatchReviewCommentsExistingTicket(t *testing.T) {
	c := newCase(caseA, "AZ-100")
	c.Tickets = []model.TicketRef{{TicketID: "T-7", Kind: TicketKindManualReview, CreatedAt: testNow}}
	store := newMemStore(c)
	tickets := newFakeTickets()
	svc := newTestEscalation(store, tickets)

	svc.DispatchReview(store.get(caseA), "job-2", []ReviewItem{{DocumentID: "d2"}})
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if tickets.createdCount() != 0 {
		t.Error("создан новый тикет вместо комментария")
	}
	if len(tickets.comments["T-7"]) != 1 {
		t.Fatalf("комментариев к T-7: %d, хотели 1", len(tickets.comments["T-7"]))
	}
	if !strings.Contains(tickets.comments["T-7"][0].Content, "d2") {
		t.Errorf("комментарий: %s", tickets.comments["T-7"][0].Content)
	}
}

func TestDispatchReviewEmptyIsNoop(t *testing.T) {
	store := newMemStore(newCase(caseA, "AZ-100"))
	tickets := newFakeTickets()
	svc := newTestEscalation(store, tickets)

	svc.DispatchReview(store.get(caseA), "job-3", nil)
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if tickets.createdCount() != 0 || store.updateCount() != 0 {
		t.Error("пустой список документов вызвал эскалацию")
	}
}

func TestCreateReminder(t *testing.T) {
	store := newMemStore(newCase(caseA, "AZ-100"))
	tickets := newFakeTickets()
	svc := newTestEscalation(store, tickets)

	id, err := svc.CreateReminder(context.Background(), store.get(caseA), TicketKindLoginReminder, "Bitte anmelden")
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if id != "T-1" {
		t.Errorf("ticket_id = %q, хотели T-1", id)
	}
	if got := store.get(caseA); len(got.Tickets) != 1 || got.Tickets[0].Kind != TicketKindLoginReminder {
		t.Errorf("ссылки на тикеты: %+v", got.Tickets)
	}

	tickets.err = errors.New("502")
	if _, err := svc.CreateReminder(context.Background(), store.get(caseA), TicketKindLoginReminder, "x"); err == nil {
		t.Error("ошибка тикет-системы не возвращена")
	}
}

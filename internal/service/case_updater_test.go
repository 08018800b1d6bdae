package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

func TestCaseUpdaterRejectsBrokenInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate MutateFunc
	}{
		{
			name: "повторный id кредитора",
			mutate: func(c *model.Case) error {
				c.FinalCreditorList = append(c.FinalCreditorList, creditor("c1", "Kopie", "REF-1", "1"))
				return nil
			},
		},
		{
			name: "кредитор без id",
			mutate: func(c *model.Case) error {
				c.FinalCreditorList = append(c.FinalCreditorList, creditor("", "Ohne ID", "", "1"))
				return nil
			},
		},
		{
			name: "неизвестный статус",
			mutate: func(c *model.Case) error {
				c.CurrentStatus = workflow.Status("archived")
				return nil
			},
		},
		{
			name: "неизвестный document_status",
			mutate: func(c *model.Case) error {
				c.Documents = append(c.Documents, model.Document{ID: "d9", DocumentStatus: "weird"})
				return nil
			},
		},
		{
			name: "удаление записи журнала",
			mutate: func(c *model.Case) error {
				c.StatusHistory = c.StatusHistory[:0]
				return nil
			},
		},
		{
			name: "переписанный журнал",
			mutate: func(c *model.Case) error {
				c.StatusHistory[0].ID = "other"
				return nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCase(caseA, "AZ-100")
			c.FinalCreditorList = []model.Creditor{creditor("c1", "Muster Bank", "REF-1", "100")}
			c.AppendHistory(string(workflow.StatusCreated), "admin", nil, testNow)
			store := newMemStore(c)

			_, err := NewCaseUpdater(store).Update(context.Background(), caseA, tt.mutate)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ошибка %v, хотели ErrValidation", err)
			}
			if store.updateCount() != 0 {
				t.Error("дело сохранено несмотря на ошибку")
			}
		})
	}
}

func TestCaseUpdaterMutateErrorAbortsWrite(t *testing.T) {
	store := newMemStore(newCase(caseA, "AZ-100"))
	errBoom := errors.New("boom")

	_, err := NewCaseUpdater(store).Update(context.Background(), caseA, func(c *model.Case) error {
		c.ClientEmail = "changed@example.de"
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("ошибка %v, хотели исходную ошибку mutate", err)
	}
	if got := store.get(caseA); got.ClientEmail != "mandant@example.de" {
		t.Errorf("частичная запись: client_email = %q", got.ClientEmail)
	}
}

func TestCaseUpdaterResolve(t *testing.T) {
	store := newMemStore(newCase(caseA, "AZ-100"))
	u := NewCaseUpdater(store)

	id, err := u.Resolve(context.Background(), "AZ-100")
	if err != nil || id != caseA {
		t.Errorf("Resolve(номер) = %q, %v", id, err)
	}
	if id, _ := u.Resolve(context.Background(), caseB); id != caseB {
		t.Errorf("Resolve(UUID) = %q, хотели без обращения к хранилищу", id)
	}
	if _, err := u.Resolve(context.Background(), "AZ-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестный номер: %v, хотели ErrNotFound", err)
	}
	if _, err := u.Update(context.Background(), caseB, func(*model.Case) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update неизвестного дела: %v, хотели ErrNotFound", err)
	}
}

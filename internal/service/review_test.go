package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/workflow"
)

// reviewCase — дело на проверке: документ d1 требует проверки, кредитор c1 из него.
func reviewCase() *model.Case {
	c := newCase(caseA, "AZ-100")
	c.CurrentStatus = workflow.StatusCreditorReview
	c.Documents = []model.Document{{
		ID:                 "d1",
		Name:               "mahnung.pdf",
		ProcessingStatus:   model.ProcessingCompleted,
		DocumentStatus:     model.DocNeedsReview,
		IsCreditorDocument: true,
		Confidence:         0.6,
		ReviewReasons:      []string{model.ReasonLowConfidence},
		ExtractedData: &model.ExtractedData{
			SenderName:      "Muster Bank",
			SenderEmail:     "a@muster.de",
			ReferenceNumber: "REF-1",
			ClaimAmount:     model.NewAmount("100"),
		},
	}}
	cr := creditor("c1", "Muster Bank", "REF-1", "100")
	cr.Status = model.CreditorPending
	cr.NeedsManualReview = true
	cr.SourceDocumentID = "d1"
	c.FinalCreditorList = []model.Creditor{cr}
	return c
}

func newTestReview(store *memStore) *ReviewService {
	s := NewReviewService(NewCaseUpdater(store), testLogger())
	s.now = fixedNow
	return s
}

func TestReviewConfirm(t *testing.T) {
	store := newMemStore(reviewCase())
	svc := newTestReview(store)

	res, err := svc.Apply(context.Background(), "AZ-100", ReviewActionRequest{
		Action:     model.ReviewActionConfirm,
		DocumentID: "d1",
		ReviewedBy: "agent-1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.CreditorID != "c1" {
		t.Errorf("creditor_id = %q, хотели c1", res.CreditorID)
	}
	if !res.Progress.IsReviewComplete || res.Progress.TotalItems != 1 {
		t.Errorf("прогресс %+v, хотели 1 из 1", res.Progress)
	}

	got := store.get(caseA)
	cr := got.FinalCreditorList[got.FindCreditor("c1")]
	if cr.Status != model.CreditorConfirmed || !cr.ManuallyReviewed || cr.NeedsManualReview {
		t.Errorf("кредитор не подтверждён: %+v", cr)
	}
	if cr.Confidence != 1.0 || cr.ReviewedBy != "agent-1" {
		t.Errorf("confidence=%v reviewed_by=%q", cr.Confidence, cr.ReviewedBy)
	}
	d := got.Documents[0]
	if d.DocumentStatus != model.DocCreditorConfirmed || !d.ManuallyReviewed {
		t.Errorf("документ: статус %q, manually_reviewed=%v", d.DocumentStatus, d.ManuallyReviewed)
	}
}

func TestReviewCorrectCreatesCreditor(t *testing.T) {
	c := reviewCase()
	c.FinalCreditorList = nil
	store := newMemStore(c)
	svc := newTestReview(store)

	name := "Muster Bank AG"
	amount := "1.500,00"
	res, err := svc.Apply(context.Background(), caseA, ReviewActionRequest{
		Action:      model.ReviewActionCorrect,
		DocumentID:  "d1",
		Corrections: &CreditorCorrection{SenderName: &name, ClaimAmount: &amount},
		ReviewedBy:  "agent-1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := store.get(caseA)
	idx := got.FindCreditor(res.CreditorID)
	if idx < 0 {
		t.Fatalf("созданный кредитор %s не найден", res.CreditorID)
	}
	cr := got.FinalCreditorList[idx]
	if cr.SenderName != name || cr.ClaimAmount.String() != "1500" {
		t.Errorf("кредитор %q/%s, хотели %q/1500", cr.SenderName, cr.ClaimAmount.String(), name)
	}
	if cr.ContactSource != model.ContactSourceManual || cr.SourceDocumentID != "d1" {
		t.Errorf("contact_source=%q source_document_id=%q", cr.ContactSource, cr.SourceDocumentID)
	}
}

func TestReviewSkipIsNotResurrected(t *testing.T) {
	store := newMemStore(reviewCase())
	svc := newTestReview(store)

	if _, err := svc.Apply(context.Background(), caseA, ReviewActionRequest{
		Action:     model.ReviewActionSkip,
		DocumentID: "d1",
		ReviewedBy: "agent-1",
	}); err != nil {
		t.Fatalf("Apply skip: %v", err)
	}

	got := store.get(caseA)
	if len(got.FinalCreditorList) != 0 {
		t.Fatalf("кредитор не удалён: %+v", got.FinalCreditorList)
	}
	if d := got.Documents[0]; d.DocumentStatus != model.DocNotACreditor || d.IsCreditorDocument {
		t.Errorf("документ после skip: %q, is_creditor=%v", d.DocumentStatus, d.IsCreditorDocument)
	}

	// Повторная доставка результатов по тому же документу
	ingest := newTestIngestion(store, newFakeDirectory(), &fakeDispatcher{})
	if _, err := ingest.ProcessBatch(context.Background(), &model.ResultBatch{
		JobID:    "job-retry",
		ClientID: caseA,
		Results: []model.DocumentResult{
			creditorResult("d1", 0.99, "Muster Bank", "a@muster.de", "Weg 1", "REF-1", "100"),
		},
		DeduplicatedCreditors: []model.Creditor{{
			SenderName:       "Muster Bank",
			ReferenceNumber:  "REF-1",
			SourceDocumentID: "d1",
		}},
	}); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got = store.get(caseA)
	if len(got.FinalCreditorList) != 0 {
		t.Errorf("пропущенный кредитор восстановлен: %+v", got.FinalCreditorList)
	}
	if got.Documents[0].DocumentStatus != model.DocNotACreditor {
		t.Errorf("статус документа перезаписан: %q", got.Documents[0].DocumentStatus)
	}
}

func TestReviewRejects(t *testing.T) {
	tests := []struct {
		name    string
		status  workflow.Status
		req     ReviewActionRequest
		wantErr error
	}{
		{
			name:    "неизвестное действие",
			status:  workflow.StatusCreditorReview,
			req:     ReviewActionRequest{Action: "approve", DocumentID: "d1", ReviewedBy: "a"},
			wantErr: ErrValidation,
		},
		{
			name:    "correct без исправлений",
			status:  workflow.StatusCreditorReview,
			req:     ReviewActionRequest{Action: model.ReviewActionCorrect, DocumentID: "d1", ReviewedBy: "a"},
			wantErr: ErrValidation,
		},
		{
			name:    "неизвестный документ",
			status:  workflow.StatusCreditorReview,
			req:     ReviewActionRequest{Action: model.ReviewActionConfirm, DocumentID: "nope", ReviewedBy: "a"},
			wantErr: ErrNotFound,
		},
		{
			name:    "контакт с кредиторами уже начат",
			status:  workflow.StatusCreditorContactInitiated,
			req:     ReviewActionRequest{Action: model.ReviewActionConfirm, DocumentID: "d1", ReviewedBy: "a"},
			wantErr: ErrInvalidTransition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := reviewCase()
			c.CurrentStatus = tt.status
			svc := newTestReview(newMemStore(c))
			_, err := svc.Apply(context.Background(), caseA, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка %v, хотели %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompleteReview(t *testing.T) {
	store := newMemStore(reviewCase())
	svc := newTestReview(store)

	if _, err := svc.CompleteReview(context.Background(), caseA, "agent-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("завершение с непроверенными кредиторами: %v, хотели ErrValidation", err)
	}

	if _, err := svc.Apply(context.Background(), caseA, ReviewActionRequest{
		Action:     model.ReviewActionConfirm,
		CreditorID: "c1",
		DocumentID: "d1",
		ReviewedBy: "agent-1",
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := svc.CompleteReview(context.Background(), caseA, "agent-1")
	if err != nil {
		t.Fatalf("CompleteReview: %v", err)
	}
	if got.CurrentStatus != workflow.StatusManualReviewComplete {
		t.Errorf("статус %q, хотели manual_review_complete", got.CurrentStatus)
	}
	last := got.StatusHistory[len(got.StatusHistory)-1]
	if last.Status != string(workflow.StatusManualReviewComplete) || last.ChangedBy != "agent-1" {
		t.Errorf("последняя запись журнала: %+v", last)
	}
}

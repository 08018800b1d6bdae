package workflow

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		event   Event
		want    Status
		wantErr bool
	}{
		{"портал: created → portal_access_sent", StatusCreated, EventPortalAccessSent, StatusPortalAccessSent, false},
		{"портал повторно — без изменений", StatusDocumentsUploaded, EventPortalAccessSent, StatusDocumentsUploaded, false},
		{"загрузка из portal_access_sent", StatusPortalAccessSent, EventDocumentsUploaded, StatusDocumentsUploaded, false},
		{"загрузка после завершения обработки", StatusDocumentsCompleted, EventDocumentsUploaded, StatusDocumentsUploaded, false},
		{"поздняя загрузка не откатывает проверку", StatusCreditorReview, EventDocumentsUploaded, StatusCreditorReview, false},
		{"частичная обработка", StatusDocumentsUploaded, EventProcessingPartial, StatusDocumentsProcessing, false},
		{"частичная обработка после одобрения — без изменений", StatusAwaitingConfirmation, EventProcessingPartial, StatusAwaitingConfirmation, false},
		{"обработка завершена", StatusDocumentsProcessing, EventProcessingCompleted, StatusDocumentsCompleted, false},
		{"обработка завершена без кредиторов", StatusDocumentsUploaded, EventProcessingCompletedNoCreditor, StatusNoCreditorsFound, false},
		{"кредиторы найдены позднее", StatusNoCreditorsFound, EventProcessingCompleted, StatusDocumentsCompleted, false},
		{"7-дневная проверка", StatusDocumentsCompleted, EventSevenDayReviewDue, StatusCreditorReview, false},
		{"7-дневная проверка после одобрения запрещена", StatusAwaitingConfirmation, EventSevenDayReviewDue, StatusAwaitingConfirmation, true},
		{"повторная проверка после одобрения", StatusAwaitingConfirmation, EventReviewRequired, StatusCreditorReview, false},
		{"повторная проверка из created запрещена", StatusCreated, EventReviewRequired, StatusCreated, true},
		{"проверка завершена", StatusCreditorReview, EventReviewCompleted, StatusManualReviewComplete, false},
		{"одобрение", StatusManualReviewComplete, EventAdminApproved, StatusAwaitingConfirmation, false},
		{"одобрение из created запрещено", StatusCreated, EventAdminApproved, StatusCreated, true},
		{"подтверждение клиентом", StatusAwaitingConfirmation, EventClientConfirmed, StatusCreditorContactInitiated, false},
		{"автоподтверждение", StatusAwaitingConfirmation, EventAutoConfirmed, StatusCreditorContactInitiated, false},
		{"автоподтверждение вне ожидания запрещено", StatusCreditorReview, EventAutoConfirmed, StatusCreditorReview, true},
		{"завершение дела", StatusCreditorContactInitiated, EventCaseCompleted, StatusCompleted, false},
		{"неизвестное событие", StatusCreated, Event("unknown"), StatusCreated, true},
		{"неизвестный статус", Status("archived"), EventDocumentsUploaded, Status("archived"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.current, tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("ожидалась ErrInvalidTransition, получено %v", err)
				}
			} else if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("Next(%s, %s) = %s, хотели %s", tt.current, tt.event, got, tt.want)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	for s := range order {
		if !IsValid(s) {
			t.Errorf("IsValid(%q) = false", s)
		}
	}
	if IsValid("archived") {
		t.Error("IsValid(archived) = true, хотели false")
	}
}

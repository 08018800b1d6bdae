// Пакет workflow — единая функция переходов статуса дела (current_status).
//
// Все писатели (обработка результатов, ручная проверка, планировщик)
// меняют статус только через Next. Жизненный цикл:
//
//	created → portal_access_sent → documents_uploaded → documents_processing
//	  → documents_completed | no_creditors_found → creditor_review
//	  → manual_review_complete → awaiting_client_confirmation
//	  → creditor_contact_initiated → completed
//
// Поздние загрузки не откатывают дело назад, кроме явного события
// EventReviewRequired (повторная проверка после одобрения).
package workflow

import (
	"errors"
	"fmt"
)

// Status — статус дела.
type Status string

const (
	StatusCreated                  Status = "created"
	StatusPortalAccessSent         Status = "portal_access_sent"
	StatusDocumentsUploaded        Status = "documents_uploaded"
	StatusDocumentsProcessing      Status = "documents_processing"
	StatusDocumentsCompleted       Status = "documents_completed"
	StatusNoCreditorsFound         Status = "no_creditors_found"
	StatusCreditorReview           Status = "creditor_review"
	StatusManualReviewComplete     Status = "manual_review_complete"
	StatusAwaitingConfirmation     Status = "awaiting_client_confirmation"
	StatusCreditorContactInitiated Status = "creditor_contact_initiated"
	StatusCompleted                Status = "completed"
)

// Event — событие, вызывающее переход.
type Event string

const (
	EventPortalAccessSent              Event = "portal_access_sent"
	EventDocumentsUploaded             Event = "documents_uploaded"
	EventProcessingPartial             Event = "processing_partial"
	EventProcessingCompleted           Event = "processing_completed"
	EventProcessingCompletedNoCreditor Event = "processing_completed_no_creditors"
	EventSevenDayReviewDue             Event = "seven_day_review_due"
	EventReviewRequired                Event = "review_required"
	EventReviewCompleted               Event = "review_completed"
	EventAdminApproved                 Event = "admin_approved"
	EventClientConfirmed               Event = "client_confirmed"
	EventAutoConfirmed                 Event = "auto_confirmed"
	EventCaseCompleted                 Event = "case_completed"
)

// ErrInvalidTransition — событие недопустимо в текущем статусе.
var ErrInvalidTransition = errors.New("недопустимый переход статуса")

// order — порядок статусов в жизненном цикле.
// no_creditors_found стоит на одном уровне с documents_completed.
var order = map[Status]int{
	StatusCreated:                  0,
	StatusPortalAccessSent:         1,
	StatusDocumentsUploaded:        2,
	StatusDocumentsProcessing:      3,
	StatusDocumentsCompleted:       4,
	StatusNoCreditorsFound:         4,
	StatusCreditorReview:           5,
	StatusManualReviewComplete:     6,
	StatusAwaitingConfirmation:     7,
	StatusCreditorContactInitiated: 8,
	StatusCompleted:                9,
}

// IsValid проверяет, что статус входит в закрытый список.
func IsValid(s Status) bool {
	_, ok := order[s]
	return ok
}

// Next вычисляет следующий статус для события.
// Возвращает текущий статус, если событие не сдвигает дело
// (например, поздняя загрузка после начала проверки),
// и ErrInvalidTransition, если событие в этом статусе запрещено.
func Next(current Status, ev Event) (Status, error) {
	if !IsValid(current) {
		return current, fmt.Errorf("%w: неизвестный статус %q", ErrInvalidTransition, current)
	}

	switch ev {
	case EventPortalAccessSent:
		if current == StatusCreated {
			return StatusPortalAccessSent, nil
		}
		return current, nil

	case EventDocumentsUploaded:
		if before(current, StatusDocumentsProcessing) ||
			current == StatusDocumentsCompleted || current == StatusNoCreditorsFound {
			return StatusDocumentsUploaded, nil
		}
		return current, nil

	case EventProcessingPartial:
		if current == StatusDocumentsUploaded || current == StatusDocumentsProcessing {
			return StatusDocumentsProcessing, nil
		}
		return current, nil

	case EventProcessingCompleted:
		if between(current, StatusDocumentsUploaded, StatusNoCreditorsFound) {
			return StatusDocumentsCompleted, nil
		}
		return current, nil

	case EventProcessingCompletedNoCreditor:
		if between(current, StatusDocumentsUploaded, StatusNoCreditorsFound) {
			return StatusNoCreditorsFound, nil
		}
		return current, nil

	case EventSevenDayReviewDue:
		if before(current, StatusManualReviewComplete) {
			return StatusCreditorReview, nil
		}
		return current, transitionError(current, ev)

	case EventReviewRequired:
		switch current {
		case StatusCreditorReview, StatusManualReviewComplete, StatusAwaitingConfirmation:
			return StatusCreditorReview, nil
		}
		return current, transitionError(current, ev)

	case EventReviewCompleted:
		if between(current, StatusDocumentsProcessing, StatusCreditorReview) {
			return StatusManualReviewComplete, nil
		}
		return current, transitionError(current, ev)

	case EventAdminApproved:
		if between(current, StatusDocumentsCompleted, StatusManualReviewComplete) {
			return StatusAwaitingConfirmation, nil
		}
		return current, transitionError(current, ev)

	case EventClientConfirmed, EventAutoConfirmed:
		if current == StatusAwaitingConfirmation {
			return StatusCreditorContactInitiated, nil
		}
		return current, transitionError(current, ev)

	case EventCaseCompleted:
		if current == StatusCreditorContactInitiated {
			return StatusCompleted, nil
		}
		return current, transitionError(current, ev)

	default:
		return current, fmt.Errorf("%w: неизвестное событие %q", ErrInvalidTransition, ev)
	}
}

// before — статус строго раньше указанного в жизненном цикле.
func before(s, than Status) bool {
	return order[s] < order[than]
}

// between — статус в диапазоне [from, to] включительно.
func between(s, from, to Status) bool {
	return order[s] >= order[from] && order[s] <= order[to]
}

func transitionError(current Status, ev Event) error {
	return fmt.Errorf("%w: %s → событие %s", ErrInvalidTransition, current, ev)
}

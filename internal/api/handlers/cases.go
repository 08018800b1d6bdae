// cases.go — обработчики /api/v1/cases: создание, просмотр, оплата,
// события портала, одобрение и ручное управление отложенными действиями.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
	"github.com/bigkaa/caseflow/intake-module/internal/api/middleware"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
)

type createCaseRequest struct {
	CaseNumber  string `json:"case_number"`
	ClientEmail string `json:"client_email"`
}

type paymentRequest struct {
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

type portalEventRequest struct {
	Type         string     `json:"type"`
	DocumentID   string     `json:"document_id,omitempty"`
	DocumentName string     `json:"document_name,omitempty"`
	At           *time.Time `json:"at,omitempty"`
}

// CreateCase — POST /api/v1/cases.
// Доступ: admin или SA со scope cases:write.
func (h *APIHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.Cases.Create(r.Context(), service.CreateCaseInput{
		CaseNumber:  req.CaseNumber,
		ClientEmail: req.ClientEmail,
	}, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка создания дела")
		return
	}
	writeJSON(w, http.StatusCreated, toCaseResponse(c))
}

// ListCases — GET /api/v1/cases.
func (h *APIHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	status, err := bindStatus(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset, err := bindPagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	cases, total, err := h.Cases.List(r.Context(), status, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения списка дел")
		return
	}

	items := make([]caseSummary, 0, len(cases))
	for _, c := range cases {
		items = append(items, toCaseSummary(c))
	}
	writeJSON(w, http.StatusOK, caseListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetCase — GET /api/v1/cases/{id}.
func (h *APIHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	c, err := h.Cases.Get(r.Context(), ref)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения дела")
		return
	}
	writeJSON(w, http.StatusOK, toCaseResponse(c))
}

// RecordPayment — POST /api/v1/cases/{id}/payment.
func (h *APIHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.Cases.RecordPayment(r.Context(), ref, req.ReceivedAt, middleware.ActorFromContext(r.Context()))
	h.respondCase(w, r, c, err, "Ошибка отметки оплаты")
}

// RecordPortalEvent — POST /api/v1/cases/{id}/portal-events.
func (h *APIHandler) RecordPortalEvent(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	var req portalEventRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.Cases.RecordPortalEvent(r.Context(), ref, service.PortalEvent{
		Type:         req.Type,
		DocumentID:   req.DocumentID,
		DocumentName: req.DocumentName,
		At:           req.At,
	}, middleware.ActorFromContext(r.Context()))
	h.respondCase(w, r, c, err, "Ошибка обработки события портала")
}

// ApproveCase — POST /api/v1/cases/{id}/approve. Доступ: admin.
func (h *APIHandler) ApproveCase(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	c, err := h.Cases.Approve(r.Context(), ref, middleware.ActorFromContext(r.Context()))
	h.respondCase(w, r, c, err, "Ошибка одобрения дела")
}

// CancelProcessingWebhook — DELETE /api/v1/cases/{id}/processing-webhook. Доступ: admin.
func (h *APIHandler) CancelProcessingWebhook(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	c, err := h.Cases.CancelProcessingWebhook(r.Context(), ref, middleware.ActorFromContext(r.Context()))
	h.respondCase(w, r, c, err, "Ошибка отмены отложенного webhook")
}

// SkipSevenDayDelay — POST /api/v1/cases/{id}/seven-day-review/skip-delay. Доступ: admin.
func (h *APIHandler) SkipSevenDayDelay(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	c, err := h.Cases.SkipSevenDayDelay(r.Context(), ref, middleware.ActorFromContext(r.Context()))
	h.respondCase(w, r, c, err, "Ошибка запуска проверки кредиторов")
}

// RunDedup — POST /api/v1/cases/{id}/dedup. Доступ: admin.
// Занятый флаг дедупликации — 200 со skipped=true.
func (h *APIHandler) RunDedup(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	c, err := h.Cases.Get(r.Context(), ref)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения дела")
		return
	}

	out, err := h.Dedup.Run(r.Context(), c.ID, service.DedupTriggerAdmin)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка дедупликации кредиторов")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// caseRef извлекает {id} (UUID или номер дела).
func (h *APIHandler) caseRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref, err := pathParam(r, "id")
	if err != nil || ref == "" {
		apierrors.ValidationError(w, "Некорректный идентификатор дела")
		return "", false
	}
	return ref, true
}

func (h *APIHandler) respondCase(w http.ResponseWriter, r *http.Request, c *model.Case, err error, fallback string) {
	if err != nil {
		h.writeServiceError(w, r, err, fallback)
		return
	}
	writeJSON(w, http.StatusOK, toCaseResponse(c))
}

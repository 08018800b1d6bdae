// creditors.go — правка списка кредиторов дела и справочник контактов.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
	"github.com/bigkaa/caseflow/intake-module/internal/api/middleware"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
)

type creditorRequest struct {
	SenderName      string `json:"sender_name"`
	Email           string `json:"email,omitempty"`
	Address         string `json:"address,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	ClaimAmount     string `json:"claim_amount,omitempty"`
}

type directoryContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// AddCreditor — POST /api/v1/cases/{id}/creditors. Доступ: admin.
func (h *APIHandler) AddCreditor(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	var req creditorRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	cr, err := h.Creditors.Add(r.Context(), ref, service.CreditorInput{
		SenderName:      req.SenderName,
		Email:           req.Email,
		Address:         req.Address,
		ReferenceNumber: req.ReferenceNumber,
		ClaimAmount:     req.ClaimAmount,
	}, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка добавления кредитора")
		return
	}
	writeJSON(w, http.StatusCreated, cr)
}

// UpdateCreditor — PUT /api/v1/cases/{id}/creditors/{creditorId}. Доступ: admin.
func (h *APIHandler) UpdateCreditor(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	creditorID, err := pathParam(r, "creditorId")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var corr service.CreditorCorrection
	if err := decodeJSON(r, &corr, false); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	cr, err := h.Creditors.Update(r.Context(), ref, creditorID, corr, middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка изменения кредитора")
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

// DeleteCreditor — DELETE /api/v1/cases/{id}/creditors/{creditorId}. Доступ: admin.
func (h *APIHandler) DeleteCreditor(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	creditorID, err := pathParam(r, "creditorId")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if err := h.Creditors.Delete(r.Context(), ref, creditorID, middleware.ActorFromContext(r.Context())); err != nil {
		h.writeServiceError(w, r, err, "Ошибка удаления кредитора")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDirectory — GET /api/v1/creditor-directory.
func (h *APIHandler) ListDirectory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := bindPagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	contacts, err := h.DirList.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения справочника кредиторов")
		return
	}

	items := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, toContactResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

// UpsertDirectoryContact — PUT /api/v1/creditor-directory. Доступ: admin.
func (h *APIHandler) UpsertDirectoryContact(w http.ResponseWriter, r *http.Request) {
	var req directoryContactRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	c, err := h.Directory.UpsertContact(r.Context(), req.Name, req.Email, req.Address)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка сохранения записи справочника")
		return
	}
	writeJSON(w, http.StatusOK, toContactResponse(c))
}

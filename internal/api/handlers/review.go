// review.go — обработчики ручной проверки кредиторов.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
	"github.com/bigkaa/caseflow/intake-module/internal/api/middleware"
	"github.com/bigkaa/caseflow/intake-module/internal/service"
)

type reviewActionRequest struct {
	Action      string                      `json:"action"`
	DocumentID  string                      `json:"document_id,omitempty"`
	CreditorID  string                      `json:"creditor_id,omitempty"`
	Corrections *service.CreditorCorrection `json:"corrections,omitempty"`
}

// ApplyReviewAction — POST /api/v1/cases/{id}/review-actions.
// confirm, correct или skip для документа/кредитора. Доступ: agent.
func (h *APIHandler) ApplyReviewAction(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	var req reviewActionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	res, err := h.Review.Apply(r.Context(), ref, service.ReviewActionRequest{
		Action:      req.Action,
		DocumentID:  req.DocumentID,
		CreditorID:  req.CreditorID,
		Corrections: req.Corrections,
		ReviewedBy:  middleware.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка применения действия проверки")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CompleteReview — POST /api/v1/cases/{id}/review/complete. Доступ: agent.
func (h *APIHandler) CompleteReview(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.caseRef(w, r)
	if !ok {
		return
	}
	c, err := h.Review.CompleteReview(r.Context(), ref, middleware.ActorFromContext(r.Context()))
	h.respondCase(w, r, c, err, "Ошибка завершения проверки")
}

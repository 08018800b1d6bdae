// webhooks.go — приём пакетов результатов AI-обработки и просмотр очереди.
package handlers

import (
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
)

// ReceiveDocumentResults — POST /api/v1/webhooks/document-results.
// Подпись и схема проверены middleware. Пакет ставится в очередь,
// ответ 202 отдаётся до обработки.
func (h *APIHandler) ReceiveDocumentResults(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return
	}

	res, err := h.Jobs.Enqueue(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка постановки пакета в очередь")
		return
	}

	if !res.Queued {
		h.logger.Info("Повторный пакет, задача уже известна",
			slog.String("job_id", res.JobID),
			slog.String("status", res.Status),
		)
	}
	writeJSON(w, http.StatusAccepted, res)
}

// ListWebhookJobs — GET /api/v1/webhooks/jobs.
func (h *APIHandler) ListWebhookJobs(w http.ResponseWriter, r *http.Request) {
	status, err := bindStatus(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, _, err := bindPagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	jobs, err := h.Jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения списка задач")
		return
	}

	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetWebhookJob — GET /api/v1/webhooks/jobs/{jobId}.
func (h *APIHandler) GetWebhookJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathParam(r, "jobId")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	job, err := h.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения задачи")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, true))
}

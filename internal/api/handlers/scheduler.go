// scheduler.go — ручной запуск проходов планировщика и их состояние.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/caseflow/intake-module/internal/api/errors"
	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
)

// ListSweeps — GET /api/v1/scheduler/sweeps. Доступ: admin.
func (h *APIHandler) ListSweeps(w http.ResponseWriter, r *http.Request) {
	states, err := h.SweepStates.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения состояния планировщика")
		return
	}
	if states == nil {
		states = []model.SweepState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": states})
}

// RunSweep — POST /api/v1/scheduler/sweeps/{name}. Доступ: admin.
// Проход выполняется синхронно; параллельный запуск того же прохода — 409.
func (h *APIHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.Scheduler.RunSweep(r.Context(), model.SweepName(name))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка выполнения прохода планировщика")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

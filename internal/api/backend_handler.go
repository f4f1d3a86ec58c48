package api

import (
	"net/http"
)

// ListBackends возвращает backend'ы в порядке приоритета с текущей загрузкой.
// GET /api/v1/backends
func (h *Handler) ListBackends(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.Descriptors()

	result := make([]BackendResponse, len(descs))
	for i, d := range descs {
		resp := BackendResponse{Descriptor: d}
		if h.slots != nil {
			resp.InUse = h.slots.InUse(d.Name)
		}
		if h.stats != nil {
			rate, samples := h.stats.SuccessRate(d.Name)
			resp.Samples = samples
			if samples > 0 {
				resp.SuccessRate = &rate
			}
		}
		result[i] = resp
	}

	List(w, result, len(result))
}

// GetPool возвращает состояние пула ресурсов по scope.
// GET /api/v1/pool
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		List(w, []any{}, 0)
		return
	}

	stats := h.pool.Snapshot()
	List(w, stats, len(stats))
}

// ListSchedules возвращает состояние повторяющихся заказов.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		List(w, []any{}, 0)
		return
	}

	entries := h.schedules.Entries()
	List(w, entries, len(entries))
}

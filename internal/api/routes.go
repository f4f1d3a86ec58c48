package api

import (
	"net/http"
)

// RegisterRoutes регистрирует маршруты /api/v1 на mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Logging снаружи Recovery, чтобы 500 после паники попал в лог запроса
	chain := Chain(RequestID(h.logger), Logging(), Recovery())

	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /api/v1/orders", h.ListOrders},
		{"POST /api/v1/orders", h.CreateOrder},
		{"GET /api/v1/orders/{id}", h.GetOrder},
		{"GET /api/v1/orders/{id}/progress", h.GetOrderProgress},
		{"GET /api/v1/orders/{id}/events", h.ListOrderEvents},
		{"POST /api/v1/orders/{id}/cancel", h.CancelOrder},

		{"GET /api/v1/backends", h.ListBackends},
		{"GET /api/v1/pool", h.GetPool},
		{"GET /api/v1/schedules", h.ListSchedules},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, chain(rt.handler))
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

// CreateOrder принимает новый заказ.
// POST /api/v1/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	order, err := h.orders.Submit(r.Context(), req.ToOrderRequest())
	if HandleOrderError(w, r, err) {
		return
	}

	Created(w, h.orderResponse(order))
}

// ListOrders возвращает список заказов с фильтрацией.
// GET /api/v1/orders?status=...&limit=...&offset=...
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := repo.OrderFilter{
		Limit:  parseInt(r.URL.Query().Get("limit"), 50),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.OrderStatus(status)
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	orders, err := h.lister.List(r.Context(), filter)
	if HandleOrderError(w, r, err) {
		return
	}

	result := make([]OrderResponse, len(orders))
	for i := range orders {
		result[i] = h.orderResponse(&orders[i])
	}

	List(w, result, len(result))
}

// GetOrder возвращает заказ.
// GET /api/v1/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if HandleOrderError(w, r, err) {
		return
	}

	Success(w, h.orderResponse(order))
}

// GetOrderProgress возвращает прогресс заказа.
// GET /api/v1/orders/{id}/progress
func (h *Handler) GetOrderProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	progress, err := h.orders.GetProgress(r.Context(), id)
	if HandleOrderError(w, r, err) {
		return
	}

	Success(w, progress)
}

// ListOrderEvents возвращает последние события прогресса заказа.
// GET /api/v1/orders/{id}/events?limit=...
func (h *Handler) ListOrderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	events, err := h.orders.Events(r.Context(), id, parseInt(r.URL.Query().Get("limit"), 100))
	if HandleOrderError(w, r, err) {
		return
	}

	List(w, events, len(events))
}

// CancelOrder отменяет заказ.
// POST /api/v1/orders/{id}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(r.Context(), id)
	if HandleOrderError(w, r, err) {
		return
	}

	telemetry.FromContext(r.Context()).Info("order cancelled via api", "order_id", id)
	Success(w, h.orderResponse(order))
}

// orderResponse дополняет заказ статистикой, если он ещё в обработке.
func (h *Handler) orderResponse(order *domain.Order) OrderResponse {
	resp := OrderFromDomain(order)
	if stats, ok := h.orders.GetActiveOrderStats(order.ID); ok {
		inFlight := stats.InFlight
		resp.InFlight = &inFlight
		resp.CurrentBackend = stats.CurrentBackend
	}
	return resp
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

// parseInt разбирает неотрицательное число, при ошибке возвращает def.
func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

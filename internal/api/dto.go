package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/orchestrator"
)

// Order DTOs

// CreateOrderRequest — запрос на создание заказа.
type CreateOrderRequest struct {
	Target   string   `json:"target"`
	Quantity int      `json:"quantity"`
	Backends []string `json:"backends,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// ToOrderRequest конвертирует запрос в orchestrator.OrderRequest.
func (r CreateOrderRequest) ToOrderRequest() orchestrator.OrderRequest {
	return orchestrator.OrderRequest{
		Target:   r.Target,
		Quantity: r.Quantity,
		Backends: r.Backends,
		Priority: r.Priority,
	}
}

// OrderResponse — ответ с заказом.
type OrderResponse struct {
	ID         uuid.UUID               `json:"id"`
	Target     string                  `json:"target"`
	Quantity   int                     `json:"quantity"`
	Sent       int                     `json:"sent"`
	Confirmed  int                     `json:"confirmed"`
	Percent    float64                 `json:"percent"`
	Status     string                  `json:"status"`
	Backends   []string                `json:"backends"`
	Priority   string                  `json:"priority,omitempty"`
	Methods    []domain.BackendSummary `json:"methods,omitempty"`
	Error      string                  `json:"error,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`

	// Только для активных заказов.
	InFlight       *int   `json:"in_flight,omitempty"`
	CurrentBackend string `json:"current_backend,omitempty"`
}

// OrderFromDomain конвертирует domain.Order в OrderResponse.
func OrderFromDomain(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		Target:     o.Target,
		Quantity:   o.Quantity,
		Sent:       o.Sent,
		Confirmed:  o.Confirmed,
		Percent:    o.Percent(),
		Status:     string(o.Status),
		Backends:   o.Backends,
		Priority:   o.Priority,
		Methods:    o.Methods,
		Error:      o.Error,
		CreatedAt:  o.CreatedAt,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

// Backend DTOs

// BackendResponse — ответ с backend'ом.
type BackendResponse struct {
	backend.Descriptor

	InUse       int      `json:"in_use"`
	SuccessRate *float64 `json:"success_rate,omitempty"`
	Samples     int      `json:"samples"`
}

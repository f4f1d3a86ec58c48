package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order — заказ на доставку Quantity единиц вовлечённости на Target.
//
// Order принадлежит Orchestrator'у и изменяется только через его методы.
// За время жизни заказ порождает ноль или больше tasks.
//
// Инвариант: Confirmed ≤ Sent ≤ Quantity.
type Order struct {
	// ID — уникальный идентификатор заказа.
	ID uuid.UUID `json:"id"`

	// Target — ссылка на контент (URL или content id).
	Target string `json:"target"`

	// Quantity — запрошенное количество единиц.
	Quantity int `json:"quantity"`

	// Sent — подтверждённые единицы плюс единицы, отправленные в незавершённые tasks.
	// Сырые суммы попыток (с ретраями) хранятся в Methods.
	Sent int `json:"sent"`

	// Confirmed — подтверждённое количество. Монотонно не убывает.
	Confirmed int `json:"confirmed"`

	// Status — текущий статус заказа.
	Status OrderStatus `json:"status"`

	// Backends — имена допустимых backend'ов в порядке приоритета.
	Backends []string `json:"backends"`

	// Priority — "normal" или "high". High-заказы встают в начало очереди.
	Priority string `json:"priority,omitempty"`

	// Methods — разбивка по backend'ам.
	Methods []BackendSummary `json:"methods,omitempty"`

	// Error — причина FAILED (например, "fallback exhausted").
	Error string `json:"error,omitempty"`

	// CreatedAt — время приёма заказа.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время перехода в DISPATCHING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Remaining возвращает количество единиц, ещё не отправленных в работу.
func (o *Order) Remaining() int {
	return o.Quantity - o.Sent
}

// Percent возвращает процент подтверждённых единиц.
func (o *Order) Percent() float64 {
	if o.Quantity <= 0 {
		return 0
	}
	return float64(o.Confirmed) * 100 / float64(o.Quantity)
}

// IsFinished возвращает true, если заказ в финальном статусе.
func (o *Order) IsFinished() bool {
	return o.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (o *Order) Duration() time.Duration {
	if o.StartedAt == nil || o.FinishedAt == nil {
		return 0
	}
	return o.FinishedAt.Sub(*o.StartedAt)
}

// MarkDispatching переводит заказ в DISPATCHING.
func (o *Order) MarkDispatching() {
	now := time.Now()
	o.Status = OrderStatusDispatching
	if o.StartedAt == nil {
		o.StartedAt = &now
	}
}

// MarkCompleted переводит заказ в COMPLETED.
func (o *Order) MarkCompleted() {
	now := time.Now()
	o.Status = OrderStatusCompleted
	o.FinishedAt = &now
}

// MarkFailed переводит заказ в FAILED с причиной.
func (o *Order) MarkFailed(reason string) {
	now := time.Now()
	o.Status = OrderStatusFailed
	o.FinishedAt = &now
	o.Error = reason
}

// MarkCancelled переводит заказ в CANCELLED.
func (o *Order) MarkCancelled() {
	now := time.Now()
	o.Status = OrderStatusCancelled
	o.FinishedAt = &now
}

// Clone возвращает копию заказа, безопасную для передачи за пределы Orchestrator'а.
func (o *Order) Clone() *Order {
	c := *o
	c.Backends = append([]string(nil), o.Backends...)
	c.Methods = append([]BackendSummary(nil), o.Methods...)
	return &c
}

// Состояния backend'а в рамках одного заказа.
const (
	MethodActive    = "active"
	MethodExhausted = "exhausted"
	MethodExcluded  = "excluded"
)

// BackendSummary — сводка по одному backend'у в рамках заказа.
type BackendSummary struct {
	Backend   string     `json:"backend"`
	Tasks     int        `json:"tasks"`
	Attempted int        `json:"attempted"`
	Confirmed int        `json:"confirmed"`
	Retryable int        `json:"retryable_failures"`
	Fatal     int        `json:"fatal_failures"`
	State     string     `json:"state"`
	FirstUsed *time.Time `json:"first_used,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// SuccessRate возвращает долю подтверждённых единиц от попыток.
func (s BackendSummary) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Confirmed) / float64(s.Attempted)
}

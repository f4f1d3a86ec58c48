package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — ограниченная порция оставшегося количества заказа, назначенная backend'у.
//
// Task создаётся Orchestrator'ом при разбиении остатка заказа
// и выбрасывается после того, как его результат свёрнут в заказ.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// OrderID — ссылка на родительский заказ.
	OrderID uuid.UUID `json:"order_id"`

	// Backend — имя backend'а, назначенного task.
	Backend string `json:"backend"`

	// Quantity — запрошенное под-количество.
	Quantity int `json:"quantity"`

	// Target — копия Order.Target (backend не читает заказ).
	Target string `json:"target"`

	// Priority — копия Order.Priority.
	Priority string `json:"priority,omitempty"`

	// LeaseID — ID аренды ресурса; пусто, пока аренда не получена.
	LeaseID string `json:"lease_id,omitempty"`

	// Attempt — номер попытки на этом backend'е (начиная с 1).
	Attempt int `json:"attempt"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewTask создаёт task в статусе QUEUED.
func NewTask(order *Order, backend string, quantity, attempt int) *Task {
	return &Task{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Backend:   backend,
		Quantity:  quantity,
		Target:    order.Target,
		Priority:  order.Priority,
		Attempt:   attempt,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// MarkRunning переводит task в RUNNING.
func (t *Task) MarkRunning(leaseID string) {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.LeaseID = leaseID
}

// MarkFinished переводит task в SUCCEEDED или FAILED по результату.
func (t *Task) MarkFinished(outcome DeliveryOutcome) {
	now := time.Now()
	t.FinishedAt = &now
	if outcome.Confirmed > 0 {
		t.Status = TaskStatusSucceeded
	} else {
		t.Status = TaskStatusFailed
	}
}

// MarkAbandoned переводит task в ABANDONED.
func (t *Task) MarkAbandoned() {
	now := time.Now()
	t.Status = TaskStatusAbandoned
	t.FinishedAt = &now
}

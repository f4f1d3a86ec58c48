package domain

// OrderStatus — статус выполнения заказа.
//
// Жизненный цикл:
//
//	PENDING → DISPATCHING → COMPLETED
//	                      ↘ FAILED
//	          (или) → CANCELLED (из PENDING или DISPATCHING)
//
// DISPATCHING повторно входит сам в себя после каждой пачки результатов tasks,
// пока количество не набрано или fallback не исчерпан.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, но tasks ещё не созданы.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusDispatching — заказ в работе, tasks раздаются backend'ам.
	OrderStatusDispatching OrderStatus = "DISPATCHING"

	// OrderStatusCompleted — доставлено ровно запрошенное количество.
	OrderStatusCompleted OrderStatus = "COMPLETED"

	// OrderStatusFailed — все backend'ы исчерпаны, достигнутое количество сохранено.
	OrderStatusFailed OrderStatus = "FAILED"

	// OrderStatusCancelled — заказ отменён внешним запросом.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid возвращает true для известного статуса.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusDispatching:
		return true
	default:
		return s.IsTerminal()
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED
//	       ↘ ABANDONED (заказ отменён до запуска)
type TaskStatus string

const (
	// TaskStatusQueued — task в очереди, ожидает воркера.
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusRunning — task выполняется backend'ом.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — backend подтвердил хотя бы часть единиц.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — попытка завершилась ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusAbandoned — task снят с очереди без запуска.
	TaskStatusAbandoned TaskStatus = "ABANDONED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusAbandoned:
		return true
	default:
		return false
	}
}

// Приоритеты заказа.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

package worker

import (
	"context"
	"sync"

	"github.com/shaiso/Courier/internal/domain"
)

const defaultQueueCapacity = 1024

// Queue — ограниченная FIFO-очередь tasks (много производителей, много потребителей).
//
// Tasks заказов с приоритетом "high" встают в начало очереди.
type Queue struct {
	mu       sync.Mutex
	items    []*domain.Task
	capacity int
	notify   chan struct{}
}

// NewQueue создаёт очередь заданной ёмкости (default: 1024).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{
		items:    make([]*domain.Task, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push добавляет новый task. При заполненной очереди возвращает ErrQueueFull.
func (q *Queue) Push(task *domain.Task) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}

	if task.Priority == domain.PriorityHigh {
		q.items = append(q.items, nil)
		copy(q.items[1:], q.items)
		q.items[0] = task
	} else {
		q.items = append(q.items, task)
	}
	q.mu.Unlock()

	q.signal()
	return nil
}

// Requeue возвращает уже принятый task в конец очереди, не проверяя ёмкость.
func (q *Queue) Requeue(task *domain.Task) {
	q.mu.Lock()
	q.items = append(q.items, task)
	q.mu.Unlock()

	q.signal()
}

// Pop извлекает task из начала очереди, блокируясь до появления task или отмены ctx.
func (q *Queue) Pop(ctx context.Context) (*domain.Task, error) {
	for {
		if task, ok := q.TryPop(); ok {
			return task, nil
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryPop извлекает task без ожидания.
func (q *Queue) TryPop() (*domain.Task, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}

	task := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	// Передаём сигнал следующему потребителю, если в очереди ещё что-то есть
	if remaining > 0 {
		q.signal()
	}
	return task, true
}

// Len возвращает количество tasks в очереди.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity возвращает ёмкость очереди.
func (q *Queue) Capacity() int {
	return q.capacity
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

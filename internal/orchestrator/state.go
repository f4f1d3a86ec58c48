package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/domain"
)

// OrderState — состояние выполнения одного заказа в памяти.
//
// OrderState создаётся при приёме (или восстановлении) заказа
// и удаляется при переходе в финальный статус.
// Все изменения заказа выполняются под mu: один писатель на заказ.
type OrderState struct {
	mu sync.Mutex

	// order — сам заказ. Наружу отдаётся только копия.
	order *domain.Order

	// cursor — индекс текущего backend'а в order.Backends.
	cursor int

	// exhausted — backend'ы, с которых заказ эскалирован.
	exhausted map[string]bool

	// consecutive — retryable-сбоев подряд по backend'у.
	consecutive map[string]int

	// inflight — tasks в очереди или в работе (taskID → Task).
	inflight map[uuid.UUID]*domain.Task

	// folded — tasks, чьи результаты уже свёрнуты (защита от повторной доставки).
	folded map[uuid.UUID]bool

	// summaries — разбивка по backend'ам.
	summaries map[string]*domain.BackendSummary

	// backoff — до какого момента не создавать tasks на backend'е; retries — их таймеры.
	backoff map[string]time.Time
	retries map[string]*time.Timer

	// stalled — последняя диспетчеризация упёрлась в заполненную очередь.
	stalled bool
}

// newOrderState создаёт состояние для заказа.
func newOrderState(order *domain.Order) *OrderState {
	st := &OrderState{
		order:       order,
		exhausted:   make(map[string]bool),
		consecutive: make(map[string]int),
		inflight:    make(map[uuid.UUID]*domain.Task),
		folded:      make(map[uuid.UUID]bool),
		summaries:   make(map[string]*domain.BackendSummary),
		backoff:     make(map[string]time.Time),
		retries:     make(map[string]*time.Timer),
	}

	for _, name := range order.Backends {
		st.summaries[name] = &domain.BackendSummary{Backend: name, State: domain.MethodActive}
	}

	// После рестарта продолжаем с сохранённой разбивкой
	for _, m := range order.Methods {
		s := m
		st.summaries[m.Backend] = &s
		if m.State != domain.MethodActive {
			st.exhausted[m.Backend] = true
		}
	}

	return st
}

// OrderID возвращает ID заказа.
func (s *OrderState) OrderID() uuid.UUID {
	return s.order.ID
}

// summary возвращает сводку backend'а, создавая её при необходимости.
func (s *OrderState) summary(name string) *domain.BackendSummary {
	sum, ok := s.summaries[name]
	if !ok {
		sum = &domain.BackendSummary{Backend: name, State: domain.MethodActive}
		s.summaries[name] = sum
	}
	return sum
}

// outstanding возвращает количество tasks заказа на backend'е.
func (s *OrderState) outstanding(name string) int {
	n := 0
	for _, t := range s.inflight {
		if t.Backend == name {
			n++
		}
	}
	return n
}

// methods возвращает разбивку по backend'ам в порядке списка заказа.
func (s *OrderState) methods() []domain.BackendSummary {
	out := make([]domain.BackendSummary, 0, len(s.summaries))
	for _, name := range s.order.Backends {
		if sum, ok := s.summaries[name]; ok {
			out = append(out, *sum)
		}
	}
	return out
}

// snapshot возвращает копию заказа с актуальной разбивкой.
func (s *OrderState) snapshot() *domain.Order {
	s.order.Methods = s.methods()
	return s.order.Clone()
}

// markExhausted помечает backend исчерпанным и сдвигает курсор, если он текущий.
func (s *OrderState) markExhausted(name, state string) {
	s.exhausted[name] = true
	s.summary(name).State = state

	for s.cursor < len(s.order.Backends) && s.exhausted[s.order.Backends[s.cursor]] {
		s.cursor++
	}
}

// stopRetries останавливает все отложенные retry.
func (s *OrderState) stopRetries() {
	for name, t := range s.retries {
		t.Stop()
		delete(s.retries, name)
	}
}

// Stats возвращает статистику выполнения заказа.
func (s *OrderState) Stats() OrderStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	if s.cursor < len(s.order.Backends) {
		current = s.order.Backends[s.cursor]
	}

	return OrderStats{
		InFlight:       len(s.inflight),
		CurrentBackend: current,
		Exhausted:      len(s.exhausted),
		PendingRetries: len(s.retries),
	}
}

// OrderStats — статистика активного заказа.
type OrderStats struct {
	InFlight       int
	CurrentBackend string
	Exhausted      int
	PendingRetries int
}

package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/domain"
)

// MemoryStore — хранилище заказов в памяти.
//
// Хранит копии: изменения переданного заказа после Save на хранилище не влияют.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	events map[uuid.UUID][]domain.ProgressEvent
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[uuid.UUID]*domain.Order),
		events: make(map[uuid.UUID][]domain.ProgressEvent),
	}
}

// Save создаёт или перезаписывает заказ.
// Статус завершённого заказа изменить нельзя: ErrInvalidState.
func (s *MemoryStore) Save(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.orders[order.ID]; ok && prev.IsFinished() && prev.Status != order.Status {
		return fmt.Errorf("save order %s as %s: %w", order.ID, order.Status, ErrInvalidState)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

// Load возвращает заказ по ID.
func (s *MemoryStore) Load(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

// List возвращает заказы с фильтрацией, новые первыми.
func (s *MemoryStore) List(_ context.Context, filter OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if lim := filter.limit(); len(out) > lim {
		out = out[:lim]
	}
	return out, nil
}

// ListActive возвращает заказы в PENDING и DISPATCHING, старые первыми.
func (s *MemoryStore) ListActive(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.IsFinished() {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEvent добавляет событие прогресса.
func (s *MemoryStore) AppendEvent(_ context.Context, event *domain.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[event.OrderID]
	for i := range events {
		if events[i].Seq == event.Seq {
			return fmt.Errorf("order %s event %d: %w", event.OrderID, event.Seq, ErrAlreadyExists)
		}
	}
	s.events[event.OrderID] = append(events, *event)
	return nil
}

// ListEvents возвращает последние limit событий заказа в порядке seq.
func (s *MemoryStore) ListEvents(_ context.Context, orderID uuid.UUID, limit int) ([]domain.ProgressEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[orderID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]domain.ProgressEvent(nil), events...), nil
}

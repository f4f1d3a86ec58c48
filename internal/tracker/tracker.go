package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/domain"
)

const defaultWindow = 50

// EventStore — куда сохраняются события прогресса.
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.ProgressEvent) error
}

// Sink принимает уведомления. Notify не должен блокировать.
type Sink interface {
	Notify(n Notification)
}

// Типы уведомлений.
const (
	NotificationProgress = "order.progress"
	NotificationStatus   = "order.status"
)

// Notification — сообщение для внешних слушателей.
type Notification struct {
	Type    string               `json:"type"`
	OrderID uuid.UUID            `json:"order_id"`
	Status  domain.OrderStatus   `json:"status"`
	Event   domain.ProgressEvent `json:"event"`
	At      time.Time            `json:"at"`
}

// Config — конфигурация Tracker.
type Config struct {
	// Window — сколько последних результатов учитывать в успешности backend'а (default: 50).
	Window int

	Store  EventStore
	Sink   Sink
	Logger *slog.Logger
}

// Tracker накапливает прогресс заказов и статистику backend'ов.
type Tracker struct {
	window int
	store  EventStore
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	seq     map[uuid.UUID]int
	latest  map[uuid.UUID]domain.ProgressEvent
	results map[string]*ring
}

// New создаёт Tracker.
func New(cfg Config) *Tracker {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		window:  window,
		store:   cfg.Store,
		sink:    cfg.Sink,
		logger:  logger,
		seq:     make(map[uuid.UUID]int),
		latest:  make(map[uuid.UUID]domain.ProgressEvent),
		results: make(map[string]*ring),
	}
}

// Record учитывает результат попытки в статистике backend'а.
func (t *Tracker) Record(backend string, outcome domain.DeliveryOutcome) {
	if backend == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.results[backend]
	if !ok {
		r = newRing(t.window)
		t.results[backend] = r
	}
	r.push(!outcome.Class.IsFailure() && outcome.Confirmed > 0)
}

// SuccessRate возвращает сглаженную долю успешных попыток и число наблюдений.
//
// Сглаживание по Лапласу: (успехи + 1) / (наблюдения + 2),
// поэтому backend без истории получает 0.5.
func (t *Tracker) SuccessRate(backend string) (float64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.results[backend]
	if !ok {
		return 0.5, 0
	}
	succ, n := r.count()
	return float64(succ+1) / float64(n+2), n
}

// Emit формирует очередное событие прогресса, сохраняет его и уведомляет Sink.
//
// Вызывающий должен держать блокировку заказа: события одного заказа
// выпускаются последовательно.
func (t *Tracker) Emit(ctx context.Context, order *domain.Order, detail map[string]any) domain.ProgressEvent {
	t.mu.Lock()
	t.seq[order.ID]++
	event := domain.ProgressEvent{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Seq:       t.seq[order.ID],
		Percent:   order.Percent(),
		Sent:      order.Sent,
		Confirmed: order.Confirmed,
		Status:    order.Status,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	prev, hadPrev := t.latest[order.ID]
	t.latest[order.ID] = event
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.AppendEvent(ctx, &event); err != nil {
			t.logger.Warn("failed to append progress event",
				"order_id", order.ID,
				"seq", event.Seq,
				"error", err,
			)
		}
	}

	if t.sink != nil {
		typ := NotificationProgress
		if !hadPrev || prev.Status != event.Status {
			typ = NotificationStatus
		}
		t.sink.Notify(Notification{
			Type:    typ,
			OrderID: order.ID,
			Status:  order.Status,
			Event:   event,
			At:      event.CreatedAt,
		})
	}

	return event
}

// SetSeq продолжает нумерацию событий после восстановления заказа.
func (t *Tracker) SetSeq(orderID uuid.UUID, seq int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq > t.seq[orderID] {
		t.seq[orderID] = seq
	}
}

// Latest возвращает последнее событие заказа.
func (t *Tracker) Latest(orderID uuid.UUID) (domain.ProgressEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.latest[orderID]
	return e, ok
}

// Forget удаляет состояние завершённого заказа.
func (t *Tracker) Forget(orderID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seq, orderID)
	delete(t.latest, orderID)
}

// ring — кольцевой буфер последних результатов.
type ring struct {
	buf  []bool
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]bool, size)}
}

func (r *ring) push(ok bool) {
	r.buf[r.next] = ok
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) count() (ok, n int) {
	n = r.next
	if r.full {
		n = len(r.buf)
	}
	for i := 0; i < n; i++ {
		if r.buf[i] {
			ok++
		}
	}
	return ok, n
}

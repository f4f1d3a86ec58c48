package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/policy"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
	"github.com/shaiso/Courier/internal/tracker"
	"github.com/shaiso/Courier/internal/worker"
)

// Default configuration values.
const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 100
)

// Store — хранилище заказов и событий прогресса.
type Store interface {
	// Load возвращает заказ; repo.ErrNotFound, если его нет.
	Load(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	// Save создаёт или перезаписывает заказ.
	Save(ctx context.Context, order *domain.Order) error

	// AppendEvent добавляет событие прогресса.
	AppendEvent(ctx context.Context, event *domain.ProgressEvent) error

	// ListEvents возвращает последние limit событий заказа в порядке Seq (limit <= 0 — все).
	ListEvents(ctx context.Context, orderID uuid.UUID, limit int) ([]domain.ProgressEvent, error)

	// ListActive возвращает заказы в PENDING и DISPATCHING.
	ListActive(ctx context.Context, limit int) ([]domain.Order, error)
}

// Enqueuer — очередь tasks.
type Enqueuer interface {
	Push(task *domain.Task) error
}

var (
	_ Store          = (*repo.OrderRepo)(nil)
	_ Store          = (*repo.MemoryStore)(nil)
	_ Enqueuer       = (*worker.Queue)(nil)
	_ worker.Handler = (*Orchestrator)(nil)
)

// Orchestrator управляет жизненным циклом заказов.
//
// Orchestrator — центральный компонент движка, который:
//   - Принимает и валидирует заказы
//   - Разбивает остаток заказа на tasks текущего backend'а
//   - Сворачивает результаты tasks в счётчики заказа
//   - Применяет решения Policy (продолжить, повторить, эскалировать)
//   - Финализирует заказы (COMPLETED/FAILED/CANCELLED)
type Orchestrator struct {
	store    Store
	registry *backend.Registry
	queue    Enqueuer
	policy   *policy.Policy
	tracker  *tracker.Tracker
	metrics  *telemetry.Metrics

	// Активные заказы (orderID → state)
	active map[uuid.UUID]*OrderState
	mu     sync.RWMutex

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store    Store
	Registry *backend.Registry
	Queue    Enqueuer

	// Policy и Tracker создаются с настройками по умолчанию, если не заданы.
	Policy  *policy.Policy
	Tracker *tracker.Tracker

	// Polling configuration
	PollInterval time.Duration // интервал переразбиения застрявших заказов (default: 5s)
	BatchSize    int           // заказов за одно восстановление (default: 100)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pol := cfg.Policy
	if pol == nil {
		pol = policy.New(policy.Config{})
	}

	tr := cfg.Tracker
	if tr == nil {
		tr = tracker.New(tracker.Config{Store: cfg.Store, Logger: logger})
	}

	return &Orchestrator{
		store:        cfg.Store,
		registry:     cfg.Registry,
		queue:        cfg.Queue,
		policy:       pol,
		tracker:      tr,
		metrics:      cfg.Metrics,
		active:       make(map[uuid.UUID]*OrderState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Восстанавливает незавершённые заказы из Store и запускает
// polling, который переразбивает заказы, упёршиеся в заполненную очередь.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	if err := o.restore(ctx); err != nil {
		cancel()
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started", "active_orders", o.ActiveOrdersCount())
	return nil
}

// Stop останавливает Orchestrator.
//
// Активные заказы остаются в DISPATCHING и восстанавливаются при следующем Start.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	o.wg.Wait()

	for _, st := range o.activeStates() {
		st.mu.Lock()
		st.stopRetries()
		st.mu.Unlock()
	}

	o.logger.Info("orchestrator stopped",
		"active_orders", o.ActiveOrdersCount(),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll повторно разбивает остаток активных заказов.
func (o *Orchestrator) poll(ctx context.Context) {
	for _, st := range o.activeStates() {
		st.mu.Lock()
		if !st.order.IsFinished() {
			stalled := st.stalled
			o.dispatch(ctx, st)
			if stalled {
				o.logger.Debug("stalled order redispatched",
					"order_id", st.order.ID,
					"in_flight", len(st.inflight),
				)
			}
		}
		st.mu.Unlock()
	}
}

// restore подхватывает заказы, оставшиеся незавершёнными после рестарта.
//
// Tasks прошлого процесса потеряны: Sent сбрасывается до Confirmed,
// остаток разбивается заново.
func (o *Orchestrator) restore(ctx context.Context) error {
	orders, err := o.store.ListActive(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list active orders", "error", err)
		return err
	}

	for i := range orders {
		order := orders[i]
		if o.isOrderActive(order.ID) {
			continue
		}

		order.Sent = order.Confirmed
		st := newOrderState(&order)
		for st.cursor < len(order.Backends) && st.exhausted[order.Backends[st.cursor]] {
			st.cursor++
		}

		if events, err := o.store.ListEvents(ctx, order.ID, 1); err == nil && len(events) > 0 {
			o.tracker.SetSeq(order.ID, events[len(events)-1].Seq)
		}

		if err := o.addActiveOrder(st); err != nil {
			continue
		}

		st.mu.Lock()
		order.MarkDispatching()
		o.emit(ctx, st, map[string]any{"event": "restored"})
		o.dispatch(ctx, st)
		st.mu.Unlock()

		o.logger.Info("order restored",
			"order_id", order.ID,
			"confirmed", order.Confirmed,
			"quantity", order.Quantity,
		)
	}

	return nil
}

// isOrderActive проверяет, находится ли заказ в обработке.
func (o *Orchestrator) isOrderActive(orderID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.active[orderID]
	return exists
}

// getActiveOrder возвращает активный OrderState.
func (o *Orchestrator) getActiveOrder(orderID uuid.UUID) *OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active[orderID]
}

// addActiveOrder добавляет заказ в активные.
func (o *Orchestrator) addActiveOrder(st *OrderState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.active[st.OrderID()]; exists {
		return ErrOrderAlreadyActive
	}

	o.active[st.OrderID()] = st
	return nil
}

// removeActiveOrder удаляет заказ из активных.
func (o *Orchestrator) removeActiveOrder(orderID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, orderID)
}

// activeStates возвращает снимок активных заказов.
func (o *Orchestrator) activeStates() []*OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*OrderState, 0, len(o.active))
	for _, st := range o.active {
		out = append(out, st)
	}
	return out
}

// ActiveOrdersCount возвращает количество активных заказов.
func (o *Orchestrator) ActiveOrdersCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// GetActiveOrderStats возвращает статистику по активному заказу.
func (o *Orchestrator) GetActiveOrderStats(orderID uuid.UUID) (OrderStats, bool) {
	st := o.getActiveOrder(orderID)
	if st == nil {
		return OrderStats{}, false
	}
	return st.Stats(), true
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/policy"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
	"github.com/shaiso/Courier/internal/worker"
)

// OrderRequest — входные данные нового заказа.
type OrderRequest struct {
	Target   string
	Quantity int

	// Backends — допустимые backend'ы в порядке приоритета. Пусто — все зарегистрированные.
	Backends []string

	// Priority — "normal" (по умолчанию) или "high".
	Priority string
}

// Progress — снимок прогресса заказа.
type Progress struct {
	OrderID   uuid.UUID               `json:"order_id"`
	Status    domain.OrderStatus      `json:"status"`
	Quantity  int                     `json:"quantity"`
	Sent      int                     `json:"sent"`
	Confirmed int                     `json:"confirmed"`
	Percent   float64                 `json:"percent"`
	Error     string                  `json:"error,omitempty"`
	Methods   []domain.BackendSummary `json:"methods"`
	Latest    *domain.ProgressEvent   `json:"latest,omitempty"`
}

// Submit принимает новый заказ и запускает его разбиение.
//
// Неизвестные backend'ы из списка отбрасываются; если не осталось ни одного,
// заказ отклоняется с ErrInvalidOrder.
func (o *Orchestrator) Submit(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}

	order, err := o.newOrder(req)
	if err != nil {
		return nil, err
	}

	if err := o.store.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	st := newOrderState(order)
	if err := o.addActiveOrder(st); err != nil {
		return nil, err
	}
	o.metrics.OrderSubmitted()

	st.mu.Lock()
	defer st.mu.Unlock()

	o.emit(ctx, st, map[string]any{
		"event":    "submitted",
		"backends": order.Backends,
	})

	order.MarkDispatching()
	o.dispatch(ctx, st)

	telemetry.ForOrder(o.logger, order.ID).Info("order submitted",
		"target", order.Target,
		"quantity", order.Quantity,
		"backends", order.Backends,
		"priority", order.Priority,
	)

	return st.snapshot(), nil
}

// newOrder валидирует запрос и строит заказ в статусе PENDING.
func (o *Orchestrator) newOrder(req OrderRequest) (*domain.Order, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidOrder)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, req.Quantity)
	}

	priority := req.Priority
	switch priority {
	case "":
		priority = domain.PriorityNormal
	case domain.PriorityNormal, domain.PriorityHigh:
	default:
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidOrder, priority)
	}

	requested := req.Backends
	if len(requested) == 0 {
		requested = o.registry.Names()
	}

	seen := make(map[string]bool, len(requested))
	backends := make([]string, 0, len(requested))
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if !o.registry.Has(name) {
			o.logger.Warn("dropping unknown backend from order", "backend", name)
			continue
		}
		backends = append(backends, name)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no eligible backend", ErrInvalidOrder)
	}

	return &domain.Order{
		ID:        uuid.New(),
		Target:    target,
		Quantity:  req.Quantity,
		Status:    domain.OrderStatusPending,
		Backends:  backends,
		Priority:  priority,
		CreatedAt: time.Now(),
	}, nil
}

// Cancel отменяет заказ.
//
// Tasks в очереди снимаются воркерами без запуска, результаты
// уже выполняющихся tasks отбрасываются.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	st := o.getActiveOrder(id)
	if st == nil {
		order, err := o.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.IsFinished() {
			return order, fmt.Errorf("%w: %s", ErrOrderFinished, order.Status)
		}
		// PENDING в хранилище без состояния в памяти
		st = newOrderState(order)
		if err := o.addActiveOrder(st); err != nil {
			st = o.getActiveOrder(id)
			if st == nil {
				return nil, ErrOrderNotFound
			}
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.order.IsFinished() {
		return st.snapshot(), fmt.Errorf("%w: %s", ErrOrderFinished, st.order.Status)
	}

	st.order.MarkCancelled()
	o.finalize(ctx, st, map[string]any{
		"event":     "cancelled",
		"in_flight": len(st.inflight),
	})

	return st.snapshot(), nil
}

// Get возвращает заказ.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if st := o.getActiveOrder(id); st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.snapshot(), nil
	}
	return o.load(ctx, id)
}

// GetProgress возвращает прогресс заказа с последним событием.
func (o *Orchestrator) GetProgress(ctx context.Context, id uuid.UUID) (Progress, error) {
	if st := o.getActiveOrder(id); st != nil {
		st.mu.Lock()
		order := st.snapshot()
		st.mu.Unlock()

		p := progressOf(order)
		if ev, ok := o.tracker.Latest(id); ok {
			p.Latest = &ev
		}
		return p, nil
	}

	order, err := o.load(ctx, id)
	if err != nil {
		return Progress{}, err
	}

	p := progressOf(order)
	events, err := o.store.ListEvents(ctx, id, 1)
	if err != nil {
		return Progress{}, fmt.Errorf("list events: %w", err)
	}
	if len(events) > 0 {
		p.Latest = &events[len(events)-1]
	}
	return p, nil
}

// Events возвращает последние limit событий заказа.
func (o *Orchestrator) Events(ctx context.Context, id uuid.UUID, limit int) ([]domain.ProgressEvent, error) {
	if !o.isOrderActive(id) {
		if _, err := o.load(ctx, id); err != nil {
			return nil, err
		}
	}
	return o.store.ListEvents(ctx, id, limit)
}

func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := o.store.Load(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return order, nil
}

func progressOf(order *domain.Order) Progress {
	return Progress{
		OrderID:   order.ID,
		Status:    order.Status,
		Quantity:  order.Quantity,
		Sent:      order.Sent,
		Confirmed: order.Confirmed,
		Percent:   order.Percent(),
		Error:     order.Error,
		Methods:   order.Methods,
	}
}

// Admit сообщает воркеру, нужно ли ещё выполнять task.
func (o *Orchestrator) Admit(task *domain.Task) bool {
	return o.isOrderActive(task.OrderID)
}

// OnTaskOutcome сворачивает результат task в заказ и применяет решение Policy.
//
// Повторная доставка результата того же task игнорируется.
func (o *Orchestrator) OnTaskOutcome(ctx context.Context, task *domain.Task, out domain.DeliveryOutcome) {
	st := o.getActiveOrder(task.OrderID)
	if st == nil {
		o.logger.Debug("outcome for inactive order discarded",
			"order_id", task.OrderID,
			"task_id", task.ID,
		)
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.folded[task.ID] {
		o.logger.Debug("duplicate task outcome ignored", "task_id", task.ID)
		return
	}
	if _, ok := st.inflight[task.ID]; !ok || st.order.IsFinished() {
		o.logger.Debug("outcome for unknown task discarded",
			"order_id", task.OrderID,
			"task_id", task.ID,
		)
		return
	}

	st.folded[task.ID] = true
	delete(st.inflight, task.ID)

	name := task.Backend
	if out.Backend == "" {
		out.Backend = name
	}

	o.fold(st, task, out)

	o.tracker.Record(out.Backend, out)
	if out.Backend != name {
		o.tracker.Record(name, out)
	}
	o.policy.Observe(st.order.ID, name, out)

	decision := o.policy.Decide(policy.Input{
		OrderID:              st.order.ID,
		Backend:              name,
		Outcome:              out,
		Attempt:              task.Attempt,
		ConsecutiveRetryable: st.consecutive[name],
	})

	detail := map[string]any{
		"event":     "task_outcome",
		"task_id":   task.ID.String(),
		"backend":   name,
		"class":     string(out.Class),
		"attempted": out.Attempted,
		"confirmed": out.Confirmed,
		"attempt":   task.Attempt,
		"action":    decision.Action.String(),
		"reason":    decision.Reason,
	}
	if out.Code != "" {
		detail["code"] = out.Code
	}
	if out.Backend != name {
		detail["via"] = out.Backend
	}
	o.emit(ctx, st, detail)

	telemetry.ForTask(o.logger, task.ID, st.order.ID, name).Debug("task outcome folded",
		"class", out.Class,
		"action", decision.Action.String(),
		"confirmed", st.order.Confirmed,
		"quantity", st.order.Quantity,
	)

	switch decision.Action {
	case policy.Retry:
		if o.isCurrent(st, name) {
			o.scheduleRetry(st, name, decision.Delay)
		}
	case policy.Escalate:
		o.escalate(st, name, out, decision.Reason)
	}

	o.dispatch(ctx, st)
}

// fold применяет результат к счётчикам заказа и сводке backend'а.
func (o *Orchestrator) fold(st *OrderState, task *domain.Task, out domain.DeliveryOutcome) {
	order := st.order

	// Подтверждённые единицы учитываются при любом классе результата
	order.Sent -= task.Quantity
	order.Sent += out.Confirmed
	order.Confirmed += out.Confirmed

	now := time.Now()
	sum := st.summary(task.Backend)
	sum.Attempted += out.Attempted
	sum.Confirmed += out.Confirmed
	sum.LastUsed = &now

	switch {
	case out.Class == domain.OutcomeFatal:
		sum.Fatal++
	case out.Class == domain.OutcomeRetryable || out.Confirmed == 0:
		sum.Retryable++
		st.consecutive[task.Backend]++
	default:
		st.consecutive[task.Backend] = 0
	}
}

func (o *Orchestrator) isCurrent(st *OrderState, name string) bool {
	return st.cursor < len(st.order.Backends) && st.order.Backends[st.cursor] == name
}

// scheduleRetry откладывает новые tasks на backend'е на delay.
func (o *Orchestrator) scheduleRetry(st *OrderState, name string, delay time.Duration) {
	if delay <= 0 {
		return
	}

	st.backoff[name] = time.Now().Add(delay)
	if t, ok := st.retries[name]; ok {
		t.Reset(delay)
		return
	}

	orderID := st.order.ID
	st.retries[name] = time.AfterFunc(delay, func() {
		o.resume(orderID, name)
	})
}

// resume срабатывает по таймеру retry.
func (o *Orchestrator) resume(orderID uuid.UUID, name string) {
	st := o.getActiveOrder(orderID)
	if st == nil || o.IsStopped() {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.retries, name)
	delete(st.backoff, name)
	if st.order.IsFinished() {
		return
	}
	o.dispatch(context.Background(), st)
}

// escalate снимает backend с заказа.
func (o *Orchestrator) escalate(st *OrderState, name string, out domain.DeliveryOutcome, reason string) {
	if st.exhausted[name] {
		return
	}

	state := domain.MethodExhausted
	if o.policy.Excluded(st.order.ID, name) {
		state = domain.MethodExcluded
	}

	if t, ok := st.retries[name]; ok {
		t.Stop()
		delete(st.retries, name)
		delete(st.backoff, name)
	}
	st.markExhausted(name, state)

	o.logger.Warn("order escalated from backend",
		"order_id", st.order.ID,
		"backend", name,
		"state", state,
		"code", out.Code,
		"reason", reason,
	)
}

// dispatch разбивает остаток заказа на tasks текущего backend'а,
// финализирует заказ, если делать больше нечего, и сохраняет его.
//
// Вызывается под st.mu.
func (o *Orchestrator) dispatch(ctx context.Context, st *OrderState) {
	order := st.order
	if order.IsFinished() {
		return
	}

	st.stalled = false
	name, ok := o.current(st)

	if ok && order.Remaining() > 0 && time.Now().After(st.backoff[name]) {
		o.fill(st, name)
	}

	if len(st.inflight) == 0 && (order.Remaining() == 0 || !ok) {
		if order.Confirmed >= order.Quantity {
			order.MarkCompleted()
		} else {
			order.MarkFailed(ErrFallbackExhausted.Error())
		}
		o.finalize(ctx, st, map[string]any{"event": "finished"})
		return
	}

	o.save(ctx, st)
}

// current возвращает текущий backend, пропуская исключённые политикой.
func (o *Orchestrator) current(st *OrderState) (string, bool) {
	for st.cursor < len(st.order.Backends) {
		name := st.order.Backends[st.cursor]
		switch {
		case st.exhausted[name]:
			st.cursor++
		case o.policy.Excluded(st.order.ID, name):
			st.markExhausted(name, domain.MethodExcluded)
		case !o.registry.Has(name):
			st.markExhausted(name, domain.MethodExhausted)
		default:
			return name, true
		}
	}
	return "", false
}

// fill ставит tasks на backend, пока не достигнут MaxConcurrency на заказ.
func (o *Orchestrator) fill(st *OrderState, name string) {
	b, err := o.registry.Get(name)
	if err != nil {
		return
	}
	desc := b.Descriptor()
	order := st.order

	for st.outstanding(name) < desc.MaxConcurrency && order.Remaining() > 0 {
		qty := min(order.Remaining(), desc.MaxBatchSize)
		task := domain.NewTask(order, name, qty, st.consecutive[name]+1)

		if err := o.queue.Push(task); err != nil {
			if errors.Is(err, worker.ErrQueueFull) {
				st.stalled = true
				o.logger.Warn("task queue full, order stalled",
					"order_id", order.ID,
					"backend", name,
				)
			} else {
				o.logger.Error("failed to enqueue task",
					"order_id", order.ID,
					"error", err,
				)
			}
			return
		}

		st.inflight[task.ID] = task
		order.Sent += qty

		now := time.Now()
		sum := st.summary(name)
		sum.Tasks++
		if sum.FirstUsed == nil {
			sum.FirstUsed = &now
		}
	}
}

// finalize фиксирует финальный статус заказа. Статус уже выставлен вызывающим.
func (o *Orchestrator) finalize(ctx context.Context, st *OrderState, detail map[string]any) {
	order := st.order

	st.stopRetries()
	if order.Error != "" {
		detail["error"] = order.Error
	}
	o.emit(ctx, st, detail)
	o.save(ctx, st)

	o.removeActiveOrder(order.ID)
	o.tracker.Forget(order.ID)
	o.policy.Forget(order.ID)
	o.metrics.OrderFinished(string(order.Status))

	telemetry.ForOrder(o.logger, order.ID).Info("order finished",
		"status", order.Status,
		"confirmed", order.Confirmed,
		"quantity", order.Quantity,
		"duration", order.Duration(),
		"error", order.Error,
	)
}

// emit записывает событие прогресса.
func (o *Orchestrator) emit(ctx context.Context, st *OrderState, detail map[string]any) {
	o.tracker.Emit(ctx, st.snapshot(), detail)
}

// save сохраняет заказ. Ошибка хранилища не останавливает обработку.
func (o *Orchestrator) save(ctx context.Context, st *OrderState) {
	if err := o.store.Save(ctx, st.snapshot()); err != nil {
		o.logger.Error("failed to save order",
			"order_id", st.order.ID,
			"error", err,
		)
	}
}

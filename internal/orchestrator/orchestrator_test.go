package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/policy"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/worker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scripted — backend, отвечающий функцией attempt.
type scripted struct {
	desc    backend.Descriptor
	attempt func(ctx context.Context, task *domain.Task, call int) domain.DeliveryOutcome

	mu    sync.Mutex
	calls int
}

func (s *scripted) Descriptor() backend.Descriptor { return s.desc }

func (s *scripted) Attempt(ctx context.Context, task *domain.Task, _ *pool.Lease) domain.DeliveryOutcome {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.attempt == nil {
		return domain.DeliveryOutcome{Attempted: task.Quantity, Confirmed: task.Quantity, Class: domain.OutcomeSuccess}
	}
	return s.attempt(ctx, task, call)
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newScripted(name string, concurrency, batch int) *scripted {
	return &scripted{desc: backend.Descriptor{
		Name:           name,
		Kind:           backend.KindAPI,
		MaxConcurrency: concurrency,
		MaxBatchSize:   batch,
		CostWeight:     1,
	}}
}

func success(task *domain.Task) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{Attempted: task.Quantity, Confirmed: task.Quantity, Class: domain.OutcomeSuccess}
}

func fastPolicy(maxRetries int) *policy.Policy {
	return policy.New(policy.Config{
		MaxRetriesPerBackend: maxRetries,
		BaseDelay:            time.Millisecond,
		MaxDelay:             5 * time.Millisecond,
	})
}

// captureQueue — Enqueuer, который запоминает tasks вместо выполнения.
type captureQueue struct {
	mu    sync.Mutex
	tasks []*domain.Task
	taken int
	full  bool
}

func (q *captureQueue) Push(task *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return worker.ErrQueueFull
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) setFull(full bool) {
	q.mu.Lock()
	q.full = full
	q.mu.Unlock()
}

func (q *captureQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) - q.taken
}

// next возвращает следующий ещё не взятый task.
func (q *captureQueue) next(t *testing.T) *domain.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		if q.taken < len(q.tasks) {
			task := q.tasks[q.taken]
			q.taken++
			q.mu.Unlock()
			return task
		}
		q.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timeout waiting for task")
	return nil
}

func newRegistry(t *testing.T, backends ...backend.Backend) *backend.Registry {
	t.Helper()
	reg := backend.NewRegistry()
	for _, b := range backends {
		if err := reg.Register(b); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

// newUnit создаёт Orchestrator без воркеров: tasks попадают в captureQueue.
func newUnit(t *testing.T, pol *policy.Policy, backends ...backend.Backend) (*Orchestrator, *captureQueue, *repo.MemoryStore) {
	t.Helper()
	q := &captureQueue{}
	store := repo.NewMemoryStore()
	o := New(Config{
		Store:    store,
		Registry: newRegistry(t, backends...),
		Queue:    q,
		Policy:   pol,
		Logger:   discard,
	})
	t.Cleanup(o.Stop)
	return o, q, store
}

// engine — Orchestrator вместе с настоящим worker.Pool и пулом ресурсов.
type engine struct {
	orch   *Orchestrator
	pool   *worker.Pool
	leases *pool.Manager
	store  *repo.MemoryStore
}

func newEngine(t *testing.T, pol *policy.Policy, resources []pool.Resource, backends ...backend.Backend) *engine {
	t.Helper()

	leases, err := pool.New(pool.Config{Resources: resources, CheckoutWait: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	reg := newRegistry(t, backends...)
	queue := worker.NewQueue(64)
	store := repo.NewMemoryStore()

	orch := New(Config{
		Store:        store,
		Registry:     reg,
		Queue:        queue,
		Policy:       pol,
		PollInterval: 20 * time.Millisecond,
		Logger:       discard,
	})

	wp := worker.New(worker.Config{
		Queue:         queue,
		Registry:      reg,
		Slots:         worker.NewSlotsFor(reg),
		Leaser:        leases,
		Handler:       orch,
		Workers:       4,
		TaskTimeout:   2 * time.Second,
		RetryInterval: 2 * time.Millisecond,
		Logger:        discard,
	})

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := wp.Start(ctx); err != nil {
		t.Fatal(err)
	}

	e := &engine{orch: orch, pool: wp, leases: leases, store: store}
	t.Cleanup(func() { e.stop(t) })
	return e
}

func (e *engine) stop(t *testing.T) {
	t.Helper()
	if e.pool.IsStopped() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.pool.Stop(ctx); err != nil {
		t.Errorf("stop pool: %v", err)
	}
	e.orch.Stop()
}

func waitFinished(t *testing.T, o *Orchestrator, id uuid.UUID) *domain.Order {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		order, err := o.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if order.IsFinished() {
			return order
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for order to finish")
	return nil
}

func outcomeEvents(t *testing.T, o *Orchestrator, id uuid.UUID) []domain.ProgressEvent {
	t.Helper()
	events, err := o.Events(context.Background(), id, 0)
	if err != nil {
		t.Fatal(err)
	}
	var out []domain.ProgressEvent
	for _, ev := range events {
		if ev.Detail["event"] == "task_outcome" {
			out = append(out, ev)
		}
	}
	return out
}

func findMethod(order *domain.Order, name string) (domain.BackendSummary, bool) {
	for _, m := range order.Methods {
		if m.Backend == name {
			return m, true
		}
	}
	return domain.BackendSummary{}, false
}

// --- Submit Tests ---

func TestSubmit_Validation(t *testing.T) {
	o, _, _ := newUnit(t, nil, newScripted("api", 1, 100))

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"empty target", OrderRequest{Target: "  ", Quantity: 10}},
		{"zero quantity", OrderRequest{Target: "t", Quantity: 0}},
		{"negative quantity", OrderRequest{Target: "t", Quantity: -5}},
		{"only unknown backends", OrderRequest{Target: "t", Quantity: 10, Backends: []string{"nope"}}},
		{"unknown priority", OrderRequest{Target: "t", Quantity: 10, Priority: "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}

	if o.ActiveOrdersCount() != 0 {
		t.Errorf("rejected orders should not become active, got %d", o.ActiveOrdersCount())
	}
}

func TestSubmit_BackendSelection(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 100), newScripted("cloud", 1, 100))

	order, err := o.Submit(context.Background(), OrderRequest{
		Target:   "t",
		Quantity: 10,
		Backends: []string{"cloud", "ghost", "cloud", "api"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order.Backends) != 2 || order.Backends[0] != "cloud" || order.Backends[1] != "api" {
		t.Errorf("Backends = %v, want [cloud api]", order.Backends)
	}
	if order.Status != domain.OrderStatusDispatching {
		t.Errorf("Status = %s, want DISPATCHING", order.Status)
	}
	if order.Priority != domain.PriorityNormal {
		t.Errorf("Priority = %q, want normal", order.Priority)
	}

	task := q.next(t)
	if task.Backend != "cloud" || task.Quantity != 10 || task.Attempt != 1 {
		t.Errorf("unexpected first task: %+v", task)
	}

	// пустой список — все зарегистрированные
	all, err := o.Submit(context.Background(), OrderRequest{Target: "t", Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Backends) != 2 {
		t.Errorf("expected all registered backends, got %v", all.Backends)
	}
}

func TestSubmit_SplitsByBatchAndConcurrency(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 3, 40))

	order, err := o.Submit(context.Background(), OrderRequest{Target: "t", Quantity: 100})
	if err != nil {
		t.Fatal(err)
	}

	if q.pending() != 3 {
		t.Fatalf("expected 3 tasks, got %d", q.pending())
	}
	got := []int{q.next(t).Quantity, q.next(t).Quantity, q.next(t).Quantity}
	want := []int{40, 40, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("task %d quantity = %d, want %d", i, got[i], want[i])
		}
	}
	if order.Sent != 100 || order.Confirmed != 0 {
		t.Errorf("Sent=%d Confirmed=%d, want 100/0", order.Sent, order.Confirmed)
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	o, _, _ := newUnit(t, nil, newScripted("api", 1, 100))
	o.Stop()

	_, err := o.Submit(context.Background(), OrderRequest{Target: "t", Quantity: 1})
	if !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("expected ErrOrchestratorStopped, got %v", err)
	}
}

// --- Outcome Tests ---

func TestOnTaskOutcome_DuplicateIgnored(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 100))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10})
	task := q.next(t)

	out := success(task)
	o.OnTaskOutcome(ctx, task, out)
	o.OnTaskOutcome(ctx, task, out)

	got, err := o.Get(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Confirmed != 10 {
		t.Errorf("Confirmed = %d, want 10", got.Confirmed)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if len(outcomeEvents(t, o, order.ID)) != 1 {
		t.Error("duplicate outcome should not emit an event")
	}
}

func TestOnTaskOutcome_PartialResplits(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 100))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10})
	task := q.next(t)

	o.OnTaskOutcome(ctx, task, domain.DeliveryOutcome{Attempted: 10, Confirmed: 4, Class: domain.OutcomePartial})

	next := q.next(t)
	if next.Quantity != 6 || next.Backend != "api" {
		t.Errorf("expected resplit task of 6 on api, got %d on %s", next.Quantity, next.Backend)
	}

	got, _ := o.Get(ctx, order.ID)
	if got.Confirmed != 4 || got.Sent != 10 {
		t.Errorf("Confirmed=%d Sent=%d, want 4/10", got.Confirmed, got.Sent)
	}
	if got.Status != domain.OrderStatusDispatching {
		t.Errorf("Status = %s, want DISPATCHING", got.Status)
	}
}

func TestOnTaskOutcome_FatalKeepsConfirmedAndEscalates(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("a", 1, 100), newScripted("b", 1, 100))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10, Backends: []string{"a", "b"}})
	task := q.next(t)

	o.OnTaskOutcome(ctx, task, domain.DeliveryOutcome{
		Attempted: 10,
		Confirmed: 3,
		Class:     domain.OutcomeFatal,
		Code:      domain.CodeRejected,
	})

	next := q.next(t)
	if next.Backend != "b" || next.Quantity != 7 {
		t.Errorf("expected task of 7 on b, got %d on %s", next.Quantity, next.Backend)
	}

	got, _ := o.Get(ctx, order.ID)
	if got.Confirmed != 3 {
		t.Errorf("Confirmed = %d, want 3", got.Confirmed)
	}
	a, _ := findMethod(got, "a")
	if a.State != domain.MethodExhausted || a.Fatal != 1 {
		t.Errorf("unexpected summary for a: %+v", a)
	}

	events := outcomeEvents(t, o, order.ID)
	if len(events) != 1 || events[0].Detail["code"] != domain.CodeRejected || events[0].Detail["action"] != "escalate" {
		t.Errorf("unexpected outcome events: %+v", events)
	}
}

func TestOnTaskOutcome_ShortfallFails(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 100))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10})
	task := q.next(t)

	o.OnTaskOutcome(ctx, task, domain.DeliveryOutcome{Attempted: 10, Confirmed: 6, Class: domain.OutcomeFatal, Code: "quota"})

	got, _ := o.Get(ctx, order.ID)
	if got.Status != domain.OrderStatusFailed {
		t.Fatalf("Status = %s, want FAILED", got.Status)
	}
	if got.Confirmed != 6 {
		t.Errorf("achieved quantity should be kept, got %d", got.Confirmed)
	}
	if got.Error != ErrFallbackExhausted.Error() {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestOnTaskOutcome_Invariants(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 2, 5))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 23})

	for i := 0; i < 100; i++ {
		got, _ := o.Get(ctx, order.ID)
		if got.Confirmed > got.Sent || got.Sent > got.Quantity {
			t.Fatalf("counters out of order: confirmed=%d sent=%d quantity=%d", got.Confirmed, got.Sent, got.Quantity)
		}
		if got.IsFinished() {
			break
		}

		task := q.next(t)
		confirmed := max(1, task.Quantity/2)
		class := domain.OutcomePartial
		if confirmed == task.Quantity {
			class = domain.OutcomeSuccess
		}
		o.OnTaskOutcome(ctx, task, domain.DeliveryOutcome{Attempted: task.Quantity, Confirmed: confirmed, Class: class})
	}

	got, _ := o.Get(ctx, order.ID)
	if got.Status != domain.OrderStatusCompleted || got.Confirmed != 23 {
		t.Fatalf("expected COMPLETED with 23, got %s with %d", got.Status, got.Confirmed)
	}

	events, _ := o.Events(ctx, order.ID, 0)
	last := 0
	for i, ev := range events {
		if ev.Confirmed < last {
			t.Fatalf("event %d: confirmed decreased %d → %d", i, last, ev.Confirmed)
		}
		if ev.Seq != i+1 {
			t.Errorf("event %d: seq = %d", i, ev.Seq)
		}
		last = ev.Confirmed
	}
}

func TestOnTaskOutcome_ExcludedByFailureRate(t *testing.T) {
	pol := policy.New(policy.Config{
		MaxRetriesPerBackend: 10,
		BaseDelay:            time.Millisecond,
		MaxDelay:             2 * time.Millisecond,
		Window:               4,
		MinSamples:           2,
		FailureThreshold:     0.5,
	})
	o, q, _ := newUnit(t, pol, newScripted("a", 1, 100), newScripted("b", 1, 100))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10, Backends: []string{"a", "b"}})

	o.OnTaskOutcome(ctx, q.next(t), domain.Retryable(domain.CodeTransport))
	retry := q.next(t)
	if retry.Backend != "a" || retry.Attempt != 2 {
		t.Fatalf("expected retry on a with attempt 2, got %s/%d", retry.Backend, retry.Attempt)
	}

	o.OnTaskOutcome(ctx, retry, domain.Retryable(domain.CodeTransport))
	next := q.next(t)
	if next.Backend != "b" {
		t.Fatalf("expected escalation to b, got %s", next.Backend)
	}

	got, _ := o.Get(ctx, order.ID)
	a, _ := findMethod(got, "a")
	if a.State != domain.MethodExcluded {
		t.Errorf("a state = %s, want excluded", a.State)
	}
	if a.Retryable != 2 {
		t.Errorf("a retryable failures = %d, want 2", a.Retryable)
	}
}

func TestOnTaskOutcome_UnknownOrder(t *testing.T) {
	o, _, _ := newUnit(t, nil, newScripted("api", 1, 100))

	task := &domain.Task{ID: uuid.New(), OrderID: uuid.New(), Backend: "api", Quantity: 1}
	o.OnTaskOutcome(context.Background(), task, domain.DeliveryOutcome{Confirmed: 1, Class: domain.OutcomeSuccess})

	if o.ActiveOrdersCount() != 0 {
		t.Error("outcome for unknown order should be dropped")
	}
}

// --- Cancel Tests ---

func TestCancel(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 5))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10})
	first := q.next(t)
	o.OnTaskOutcome(ctx, first, success(first))
	pending := q.next(t)

	cancelled, err := o.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.Confirmed != 5 {
		t.Errorf("expected CANCELLED with 5, got %s with %d", cancelled.Status, cancelled.Confirmed)
	}
	if o.Admit(pending) {
		t.Error("tasks of cancelled order should not be admitted")
	}

	// поздний результат отбрасывается
	o.OnTaskOutcome(ctx, pending, success(pending))
	got, _ := o.Get(ctx, order.ID)
	if got.Confirmed != 5 || got.Status != domain.OrderStatusCancelled {
		t.Errorf("late outcome changed order: %s with %d", got.Status, got.Confirmed)
	}

	if _, err := o.Cancel(ctx, order.ID); !errors.Is(err, ErrOrderFinished) {
		t.Errorf("expected ErrOrderFinished, got %v", err)
	}
	if _, err := o.Cancel(ctx, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

// --- Queue Full Tests ---

func TestDispatch_QueueFullStallsUntilPoll(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 100))
	ctx := context.Background()
	q.setFull(true)

	order, err := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 10})
	if err != nil {
		t.Fatal(err)
	}
	if order.Sent != 0 || order.Status != domain.OrderStatusDispatching {
		t.Fatalf("stalled order: sent=%d status=%s", order.Sent, order.Status)
	}

	q.setFull(false)
	o.poll(ctx)

	task := q.next(t)
	if task.Quantity != 10 {
		t.Errorf("expected redispatched task of 10, got %d", task.Quantity)
	}
}

// --- Progress Tests ---

func TestGetProgress(t *testing.T) {
	o, q, _ := newUnit(t, nil, newScripted("api", 1, 100))
	ctx := context.Background()

	order, _ := o.Submit(ctx, OrderRequest{Target: "t", Quantity: 4})

	p, err := o.GetProgress(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.OrderStatusDispatching || p.Latest == nil {
		t.Errorf("unexpected active progress: %+v", p)
	}

	task := q.next(t)
	o.OnTaskOutcome(ctx, task, success(task))

	// заказ завершён — прогресс читается из хранилища
	p, err = o.GetProgress(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Percent != 100 || p.Status != domain.OrderStatusCompleted {
		t.Errorf("unexpected final progress: %+v", p)
	}
	if p.Latest == nil || p.Latest.Status != domain.OrderStatusCompleted {
		t.Errorf("latest event should be terminal, got %+v", p.Latest)
	}
	if len(p.Methods) != 1 || p.Methods[0].Confirmed != 4 {
		t.Errorf("unexpected methods: %+v", p.Methods)
	}

	if _, err := o.GetProgress(ctx, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

// --- Restore Tests ---

func TestStart_RestoresActiveOrders(t *testing.T) {
	o, q, store := newUnit(t, nil, newScripted("api", 1, 100), newScripted("cloud", 1, 100))
	ctx := context.Background()

	order := &domain.Order{
		ID:        uuid.New(),
		Target:    "t",
		Quantity:  10,
		Sent:      8,
		Confirmed: 4,
		Status:    domain.OrderStatusDispatching,
		Backends:  []string{"api", "cloud"},
		Methods: []domain.BackendSummary{
			{Backend: "api", Confirmed: 4, State: domain.MethodExhausted},
			{Backend: "cloud", State: domain.MethodActive},
		},
		CreatedAt: time.Now(),
	}
	_ = store.Save(ctx, order)
	_ = store.AppendEvent(ctx, &domain.ProgressEvent{ID: uuid.New(), OrderID: order.ID, Seq: 7})

	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}

	task := q.next(t)
	if task.Backend != "cloud" || task.Quantity != 6 {
		t.Errorf("expected task of 6 on cloud, got %d on %s", task.Quantity, task.Backend)
	}

	events, _ := o.Events(ctx, order.ID, 1)
	if len(events) != 1 || events[0].Seq != 8 {
		t.Errorf("restored order should continue seq, got %+v", events)
	}
}

// --- Scenario Tests ---

func TestScenario_EscalatesAfterFatal(t *testing.T) {
	browser := newScripted("browser", 1, 600)
	browser.desc.Kind = backend.KindBrowser
	browser.desc.ResourceScope = "accounts"
	browser.attempt = func(_ context.Context, task *domain.Task, call int) domain.DeliveryOutcome {
		if call == 1 {
			return success(task)
		}
		return domain.Fatal(domain.CodeCredential)
	}
	api := newScripted("api", 1, 1000)

	e := newEngine(t, fastPolicy(3), []pool.Resource{
		{ID: "acc-1", Scope: "accounts"},
		{ID: "acc-2", Scope: "accounts"},
	}, browser, api)

	order, err := e.orch.Submit(context.Background(), OrderRequest{
		Target:   "content-1",
		Quantity: 1000,
		Backends: []string{"browser", "api"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := waitFinished(t, e.orch, order.ID)
	if got.Status != domain.OrderStatusCompleted {
		t.Fatalf("Status = %s (%s), want COMPLETED", got.Status, got.Error)
	}
	if got.Confirmed != 1000 {
		t.Errorf("Confirmed = %d, want 1000", got.Confirmed)
	}
	if len(got.Methods) != 2 {
		t.Fatalf("expected 2 backend summaries, got %d", len(got.Methods))
	}

	b, _ := findMethod(got, "browser")
	a, _ := findMethod(got, "api")
	if b.Confirmed != 600 || b.State != domain.MethodExhausted {
		t.Errorf("unexpected browser summary: %+v", b)
	}
	if a.Confirmed != 400 {
		t.Errorf("api confirmed = %d, want 400", a.Confirmed)
	}
	if e.leases.Leased("accounts") != 0 {
		t.Error("all leases should be returned")
	}
}

// Лимит 3 — число подряд идущих retryable-отказов, а не повторов сверх
// первой попытки: третий отказ уже эскалирует задачу.
func TestScenario_FailsAfterThreeConsecutiveRetryableFailures(t *testing.T) {
	api := newScripted("api", 1, 1000)
	api.attempt = func(context.Context, *domain.Task, int) domain.DeliveryOutcome {
		return domain.Retryable(domain.CodeProviderFail)
	}

	e := newEngine(t, fastPolicy(3), nil, api)

	order, err := e.orch.Submit(context.Background(), OrderRequest{Target: "content-2", Quantity: 500})
	if err != nil {
		t.Fatal(err)
	}

	got := waitFinished(t, e.orch, order.ID)
	if got.Status != domain.OrderStatusFailed {
		t.Fatalf("Status = %s, want FAILED", got.Status)
	}
	if got.Confirmed != 0 {
		t.Errorf("Confirmed = %d, want 0", got.Confirmed)
	}
	if got.Error != ErrFallbackExhausted.Error() {
		t.Errorf("Error = %q", got.Error)
	}
	if api.Calls() != 3 {
		t.Errorf("backend attempts = %d, want 3", api.Calls())
	}

	events := outcomeEvents(t, e.orch, order.ID)
	if len(events) != 3 {
		t.Fatalf("expected 3 retry diagnostics, got %d", len(events))
	}
	wantActions := []string{"retry", "retry", "escalate"}
	for i, ev := range events {
		if ev.Detail["class"] != string(domain.OutcomeRetryable) {
			t.Errorf("event %d class = %v", i, ev.Detail["class"])
		}
		if ev.Detail["action"] != wantActions[i] {
			t.Errorf("event %d action = %v, want %s", i, ev.Detail["action"], wantActions[i])
		}
	}
}

func TestScenario_CancelMidFlight(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	browser := newScripted("browser", 2, 10)
	browser.desc.ResourceScope = "proxies"
	browser.attempt = func(ctx context.Context, task *domain.Task, _ int) domain.DeliveryOutcome {
		started.Done()
		select {
		case <-release:
		case <-ctx.Done():
		}
		return success(task)
	}

	e := newEngine(t, fastPolicy(3), []pool.Resource{
		{ID: "p-1", Scope: "proxies"},
		{ID: "p-2", Scope: "proxies"},
	}, browser)

	order, err := e.orch.Submit(context.Background(), OrderRequest{Target: "content-3", Quantity: 100})
	if err != nil {
		t.Fatal(err)
	}
	started.Wait()

	cancelled, err := e.orch.Cancel(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("Status = %s, want CANCELLED", cancelled.Status)
	}

	close(release)
	// Stop дожидается выполняющихся tasks и доставки их результатов
	e.stop(t)

	got, err := e.orch.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusCancelled || got.Confirmed != cancelled.Confirmed {
		t.Errorf("outcomes after cancel should be discarded, got %s with %d", got.Status, got.Confirmed)
	}
	if e.leases.Leased("proxies") != 0 {
		t.Errorf("leases in use = %d, want 0", e.leases.Leased("proxies"))
	}
	if browser.Calls() != 2 {
		t.Errorf("backend attempts = %d, want 2", browser.Calls())
	}
}

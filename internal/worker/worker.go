package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/telemetry"
)

// Default configuration values.
const (
	defaultWorkers       = 8
	defaultTaskTimeout   = 2 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
)

// Handler получает решения и результаты пула.
type Handler interface {
	// Admit вызывается перед выполнением task. false — task брошен (ABANDONED).
	Admit(task *domain.Task) bool

	// OnTaskOutcome получает результат выполненного task.
	// Ресурсы task к этому моменту уже возвращены.
	OnTaskOutcome(ctx context.Context, task *domain.Task, outcome domain.DeliveryOutcome)
}

// Pool выполняет tasks из очереди на backend'ах.
//
// Pool — единственный цикл диспетчеризации плюс Workers слотов выполнения.
// Перед запуском task цикл занимает:
//   - глобальный слот воркера
//   - слот конкурентности backend'а (Slots)
//   - аренду ресурса для ResourceScope backend'а (если scope задан)
//
// Если что-то недоступно, уже занятое возвращается в обратном порядке,
// а task уходит в конец очереди. Цикл никогда не ждёт один task,
// поэтому tasks других backend'ов не голодают.
type Pool struct {
	queue    *Queue
	registry *backend.Registry
	slots    *Slots
	leaser   backend.Leaser
	handler  Handler

	workers       int
	taskTimeout   time.Duration
	retryInterval time.Duration

	sem      chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
	attempts sync.WaitGroup

	metrics *telemetry.Metrics

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	loopDone   chan struct{}
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Pool.
type Config struct {
	Queue    *Queue
	Registry *backend.Registry
	Slots    *Slots
	Leaser   backend.Leaser
	Handler  Handler

	Workers       int           // глобальный лимит одновременных tasks (default: 8)
	TaskTimeout   time.Duration // жёсткий таймаут попытки (default: 2m)
	RetryInterval time.Duration // пауза после прохода без прогресса (default: 50ms)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт Pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queue := cfg.Queue
	if queue == nil {
		queue = NewQueue(0)
	}

	slots := cfg.Slots
	if slots == nil {
		slots = NewSlots()
	}

	return &Pool{
		queue:         queue,
		registry:      cfg.Registry,
		slots:         slots,
		leaser:        cfg.Leaser,
		handler:       cfg.Handler,
		workers:       workers,
		taskTimeout:   taskTimeout,
		retryInterval: retryInterval,
		sem:           make(chan struct{}, workers),
		wake:          make(chan struct{}, 1),
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

// Queue возвращает очередь пула.
func (p *Pool) Queue() *Queue {
	return p.queue
}

// Slots возвращает слоты backend'ов.
func (p *Pool) Slots() *Slots {
	return p.slots
}

// Start запускает цикл диспетчеризации.
func (p *Pool) Start(ctx context.Context) error {
	if p.loopDone != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel
	p.loopDone = make(chan struct{})

	p.logger.Info("starting worker pool",
		"workers", p.workers,
		"task_timeout", p.taskTimeout,
		"queue_capacity", p.queue.Capacity(),
	)

	go func() {
		defer close(p.loopDone)
		p.dispatchLoop(ctx)
	}()

	return nil
}

// Stop останавливает цикл и ждёт завершения выполняющихся tasks (не дольше ctx).
func (p *Pool) Stop(ctx context.Context) error {
	p.stoppedMu.Lock()
	p.stopped = true
	p.stoppedMu.Unlock()

	p.logger.Info("stopping worker pool...")

	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	if p.loopDone != nil {
		<-p.loopDone
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.attempts.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// IsStopped проверяет, остановлен ли Pool.
func (p *Pool) IsStopped() bool {
	p.stoppedMu.RLock()
	defer p.stoppedMu.RUnlock()
	return p.stopped
}

// dispatchLoop — единственный цикл, который занимает ресурсы и запускает tasks.
func (p *Pool) dispatchLoop(ctx context.Context) {
	misses := 0

	for {
		task, err := p.queue.Pop(ctx)
		if err != nil {
			return
		}
		p.metrics.SetQueueDepth(p.queue.Len())

		if p.dispatch(ctx, task) {
			misses = 0
			continue
		}

		// Полный проход по очереди без прогресса — ждём освобождения ресурса
		misses++
		if misses > p.queue.Len() {
			misses = 0
			p.idle(ctx)
		}
	}
}

// idle ждёт сигнала об освобождении или RetryInterval.
func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.retryInterval)
	defer timer.Stop()

	select {
	case <-p.wake:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// signal будит цикл диспетчеризации.
func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/telemetry"
)

// Причины возврата task в очередь (метка метрики courier_requeues_total).
const (
	requeueWorkerSlot  = "worker_slot"
	requeueBackendSlot = "backend_slot"
	requeueResource    = "resource"
)

// dispatch пытается запустить task. Возвращает false, если task вернулся в очередь.
func (p *Pool) dispatch(ctx context.Context, task *domain.Task) bool {
	if p.handler != nil && !p.handler.Admit(task) {
		task.MarkAbandoned()
		p.logger.Debug("task abandoned",
			"task_id", task.ID,
			"order_id", task.OrderID,
		)
		return true
	}

	b, err := p.registry.Get(task.Backend)
	if err != nil {
		p.logger.Error("task backend not registered",
			"task_id", task.ID,
			"backend", task.Backend,
		)
		p.report(ctx, task, domain.Fatal(domain.CodeNoBackend))
		return true
	}
	desc := b.Descriptor()

	// (a) глобальный слот
	select {
	case p.sem <- struct{}{}:
	default:
		p.requeue(task, requeueWorkerSlot)
		return false
	}

	// (b) слот backend'а
	if !p.slots.TryAcquire(desc.Name) {
		<-p.sem
		p.requeue(task, requeueBackendSlot)
		return false
	}

	// (c) аренда ресурса
	var lease *pool.Lease
	if desc.ResourceScope != "" {
		lease, err = p.checkout(ctx, desc.ResourceScope)
		if err != nil {
			p.slots.Release(desc.Name)
			<-p.sem

			if errors.Is(err, pool.ErrUnknownScope) {
				p.logger.Error("backend resource scope not configured",
					"backend", desc.Name,
					"scope", desc.ResourceScope,
				)
				p.report(ctx, task, domain.Fatal(domain.CodeUnavailable))
				return true
			}

			p.requeue(task, requeueResource)
			return false
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.execute(ctx, task, b, lease)
	}()

	return true
}

func (p *Pool) checkout(ctx context.Context, scope string) (*pool.Lease, error) {
	if p.leaser == nil {
		return nil, pool.ErrUnknownScope
	}
	return p.leaser.Checkout(ctx, scope)
}

// requeue возвращает task в конец очереди.
func (p *Pool) requeue(task *domain.Task, reason string) {
	p.queue.Requeue(task)
	p.metrics.Requeued(reason)
}

// execute выполняет task и передаёт результат Handler'у.
func (p *Pool) execute(ctx context.Context, task *domain.Task, b backend.Backend, lease *pool.Lease) {
	desc := b.Descriptor()

	leaseID := ""
	if lease != nil {
		leaseID = lease.ID
	}
	task.MarkRunning(leaseID)

	logger := telemetry.ForTask(p.logger, task.ID, task.OrderID, desc.Name)
	logger.Debug("task started",
		"quantity", task.Quantity,
		"attempt", task.Attempt,
		"lease_id", leaseID,
	)

	out := p.run(ctx, task, b, lease, logger)

	if out.Class.IsFailure() {
		logger.Warn("task failed",
			"class", out.Class,
			"code", out.Code,
			"confirmed", out.Confirmed,
		)
	} else {
		logger.Info("task finished",
			"class", out.Class,
			"attempted", out.Attempted,
			"confirmed", out.Confirmed,
		)
	}

	p.report(ctx, task, out)
}

// run вызывает backend под жёстким таймаутом.
//
// Ресурсы возвращаются при любом выходе в обратном порядке:
// аренда, слот backend'а, глобальный слот. По таймауту аренда
// возвращается сразу, не дожидаясь backend'а; его поздний результат отбрасывается.
func (p *Pool) run(ctx context.Context, task *domain.Task, b backend.Backend, lease *pool.Lease, logger *slog.Logger) (out domain.DeliveryOutcome) {
	desc := b.Descriptor()

	defer p.signal()
	defer func() { <-p.sem }()
	defer p.slots.Release(desc.Name)
	defer func() {
		if lease == nil {
			return
		}
		if err := p.leaser.Checkin(lease, backend.Observe(out)); err != nil {
			logger.Warn("lease checkin failed", "lease_id", lease.ID, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()
	runCtx = telemetry.WithLogger(runCtx, logger)

	// backend получает свою копию: после таймаута task продолжает жить в оркестраторе
	attempt := *task

	done := make(chan domain.DeliveryOutcome, 1)
	p.attempts.Add(1)
	go func() {
		defer p.attempts.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("backend panic", "panic", r)
				done <- domain.Retryable(domain.CodeProviderFail)
			}
		}()
		done <- b.Attempt(runCtx, &attempt, lease)
	}()

	select {
	case res := <-done:
		return backend.Normalize(desc, task, res)
	case <-runCtx.Done():
		code := domain.CodeTimeout
		if ctx.Err() != nil {
			code = domain.CodeCancelled
		}
		logger.Warn("task attempt interrupted, force-releasing resources",
			"code", code,
			"timeout", p.taskTimeout,
		)
		res := domain.Retryable(code)
		res.Backend = desc.Name
		return res
	}
}

// report фиксирует результат и передаёт его Handler'у.
func (p *Pool) report(ctx context.Context, task *domain.Task, out domain.DeliveryOutcome) {
	if out.Backend == "" {
		out.Backend = task.Backend
	}

	task.MarkFinished(out)
	p.metrics.TaskFinished(task.Backend, string(out.Class), task.Duration())

	if p.handler != nil {
		p.handler.OnTaskOutcome(context.WithoutCancel(ctx), task, out)
	}
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/telemetry"
)

// Slots — счётчики конкурентности backend'ов.
type Slots interface {
	TryAcquire(name string) bool
	Release(name string)
}

// Leaser — выдача и возврат аренд ресурсов.
type Leaser interface {
	Checkout(ctx context.Context, scope string) (*pool.Lease, error)
	Checkin(lease *pool.Lease, obs pool.Observation) error
}

// Stats — доступ к недавней статистике успешности backend'ов.
type Stats interface {
	SuccessRate(backend string) (rate float64, samples int)
}

// HybridConfig — конфигурация HybridBackend.
type HybridConfig struct {
	Descriptor Descriptor

	// Candidates — конкретные backend'ы, между которыми выбирает селектор.
	Candidates []Backend

	Slots  Slots
	Leaser Leaser
	Stats  Stats
}

// HybridBackend — декоратор, который сам ничего не доставляет.
//
// Для каждого task ранжирует кандидатов по недавней успешности
// (при равенстве — приоритет, затем стоимость) и передаёт task первому,
// у которого удалось занять слот конкурентности и получить аренду.
// Слот и аренду кандидата HybridBackend берёт и возвращает сам,
// в том числе при таймауте попытки.
type HybridBackend struct {
	desc       Descriptor
	candidates []Backend
	slots      Slots
	leaser     Leaser
	stats      Stats
}

// NewHybrid создаёт HybridBackend.
func NewHybrid(cfg HybridConfig) (*HybridBackend, error) {
	if len(cfg.Candidates) == 0 {
		return nil, fmt.Errorf("%w: %s: at least one candidate is required", ErrInvalidDescriptor, cfg.Descriptor.Name)
	}
	if cfg.Slots == nil || cfg.Leaser == nil || cfg.Stats == nil {
		return nil, fmt.Errorf("%w: %s: slots, leaser and stats are required", ErrInvalidDescriptor, cfg.Descriptor.Name)
	}

	desc := cfg.Descriptor.withDefaults()
	desc.Kind = KindHybrid
	desc.ResourceScope = ""

	for _, c := range cfg.Candidates {
		if c.Descriptor().Kind == KindHybrid {
			return nil, fmt.Errorf("%w: %s: hybrid cannot wrap another hybrid", ErrInvalidDescriptor, desc.Name)
		}
		if c.Descriptor().MaxBatchSize < desc.MaxBatchSize {
			desc.MaxBatchSize = c.Descriptor().MaxBatchSize
		}
	}

	return &HybridBackend{
		desc:       desc,
		candidates: append([]Backend(nil), cfg.Candidates...),
		slots:      cfg.Slots,
		leaser:     cfg.Leaser,
		stats:      cfg.Stats,
	}, nil
}

// Descriptor возвращает описание backend'а.
//
// MaxBatchSize не больше минимального среди кандидатов.
func (h *HybridBackend) Descriptor() Descriptor {
	return h.desc
}

// Rank возвращает кандидатов в порядке предпочтения.
func (h *HybridBackend) Rank() []Backend {
	type ranked struct {
		b    Backend
		rate float64
	}

	list := make([]ranked, len(h.candidates))
	for i, c := range h.candidates {
		rate, _ := h.stats.SuccessRate(c.Descriptor().Name)
		list[i] = ranked{b: c, rate: rate}
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].rate != list[j].rate {
			return list[i].rate > list[j].rate
		}
		return less(list[i].b.Descriptor(), list[j].b.Descriptor())
	})

	out := make([]Backend, len(list))
	for i, r := range list {
		out[i] = r.b
	}
	return out
}

// Attempt передаёт task лучшему доступному кандидату.
func (h *HybridBackend) Attempt(ctx context.Context, task *domain.Task, _ *pool.Lease) domain.DeliveryOutcome {
	logger := telemetry.FromContext(ctx)

	for _, c := range h.Rank() {
		desc := c.Descriptor()

		if !h.slots.TryAcquire(desc.Name) {
			continue
		}

		var lease *pool.Lease
		if desc.ResourceScope != "" {
			l, err := h.leaser.Checkout(ctx, desc.ResourceScope)
			if err != nil {
				h.slots.Release(desc.Name)
				continue
			}
			lease = l
		}

		logger.Debug("hybrid forwarding task",
			"backend", h.desc.Name,
			"target_backend", desc.Name,
			"task_id", task.ID,
		)

		out := h.forward(ctx, c, task, lease)
		out.Backend = desc.Name
		return out
	}

	return domain.Retryable(domain.CodeUnavailable)
}

// forward выполняет попытку на кандидате в отдельной горутине.
//
// Слот и аренда кандидата возвращаются ровно один раз: по результату
// попытки или сразу по ctx.Done(), если кандидат не реагирует на ctx.
// Поздний результат такого кандидата отбрасывается.
func (h *HybridBackend) forward(ctx context.Context, c Backend, task *domain.Task, lease *pool.Lease) domain.DeliveryOutcome {
	desc := c.Descriptor()
	logger := telemetry.FromContext(ctx)

	var once sync.Once
	release := func(out domain.DeliveryOutcome) {
		once.Do(func() {
			if lease != nil {
				if err := h.leaser.Checkin(lease, Observe(out)); err != nil {
					logger.Warn("lease checkin failed", "lease_id", lease.ID, "target_backend", desc.Name, "error", err)
				}
			}
			h.slots.Release(desc.Name)
		})
	}

	sub := *task
	sub.Backend = desc.Name
	if lease != nil {
		sub.LeaseID = lease.ID
	}

	done := make(chan domain.DeliveryOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("hybrid candidate panic", "target_backend", desc.Name, "panic", r)
				done <- domain.Retryable(domain.CodeProviderFail)
			}
		}()
		done <- Normalize(desc, &sub, c.Attempt(ctx, &sub, lease))
	}()

	select {
	case out := <-done:
		release(out)
		return out
	case <-ctx.Done():
		code := domain.CodeCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = domain.CodeTimeout
		}
		out := domain.Retryable(code)
		release(out)
		logger.Warn("hybrid candidate interrupted, resources released",
			"target_backend", desc.Name,
			"code", code,
		)
		return out
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/orchestrator"
)

const defaultTick = 30 * time.Second

// Submitter — приёмник заказов.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.OrderRequest) (*domain.Order, error)
}

var _ Submitter = (*orchestrator.Orchestrator)(nil)

// Entry — повторяющийся заказ.
type Entry struct {
	Name     string
	Schedule string
	Request  orchestrator.OrderRequest
	Disabled bool
}

// EntryStatus — состояние расписания.
type EntryStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Disabled  bool       `json:"disabled"`
	NextDueAt time.Time  `json:"next_due_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastOrder string     `json:"last_order_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type entry struct {
	Entry
	schedule cron.Schedule
	status   EntryStatus
}

// Scheduler создаёт заказы по расписаниям cron.
type Scheduler struct {
	submitter Submitter
	logger    *slog.Logger
	tick      time.Duration

	mu      sync.Mutex
	entries []*entry
}

// Config — конфигурация Scheduler.
type Config struct {
	Submitter Submitter
	Entries   []Entry
	Tick      time.Duration // интервал проверки расписаний (default: 30s)
	Logger    *slog.Logger

	// Now — текущее время для расчёта первого срабатывания (default: time.Now).
	Now func() time.Time
}

// New создаёт Scheduler. Невалидное cron-выражение — ошибка.
func New(cfg Config) (*Scheduler, error) {
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}

	s := &Scheduler{
		submitter: cfg.Submitter,
		logger:    logger.With("component", "scheduler"),
		tick:      tick,
	}

	start := now()
	for _, e := range cfg.Entries {
		schedule, err := ParseSchedule(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Name, err)
		}
		s.entries = append(s.entries, &entry{
			Entry:    e,
			schedule: schedule,
			status: EntryStatus{
				Name:      e.Name,
				Schedule:  e.Schedule,
				Disabled:  e.Disabled,
				NextDueAt: NextDue(schedule, start),
			},
		})
	}

	return s, nil
}

// Run вызывает Tick с заданным интервалом до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "entries", len(s.entries), "tick", s.tick)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick создаёт заказы для расписаний, у которых наступило время.
//
// Ошибка одного расписания не блокирует остальные. При временной ошибке
// next_due не сдвигается и заказ пробуется на следующем тике.
// Отклонённый заказ (ErrInvalidOrder) пропускается до следующего срабатывания.
// Возвращает количество созданных заказов.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due, created int
	for _, e := range s.entries {
		if e.Disabled || now.Before(e.status.NextDueAt) {
			continue
		}
		due++

		order, err := s.submitter.Submit(ctx, e.Request)
		if err != nil {
			e.status.LastError = err.Error()
			s.logger.Error("failed to submit scheduled order",
				"entry", e.Name,
				"error", err,
			)
			if !errors.Is(err, orchestrator.ErrInvalidOrder) {
				continue
			}
		} else {
			created++
			runAt := now
			e.status.LastRunAt = &runAt
			e.status.LastOrder = order.ID.String()
			e.status.LastError = ""

			s.logger.Info("created order from schedule",
				"order_id", order.ID,
				"entry", e.Name,
				"quantity", order.Quantity,
			)
		}

		e.status.NextDueAt = NextDue(e.schedule, now)
	}

	if due > 0 {
		s.logger.Info("scheduler tick completed",
			"due", due,
			"orders_created", created,
		)
	}

	return created
}

// Entries возвращает состояние расписаний.
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	return out
}

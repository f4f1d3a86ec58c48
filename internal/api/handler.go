package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/orchestrator"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/scheduler"
)

// OrderService — операции над заказами.
type OrderService interface {
	Submit(ctx context.Context, req orchestrator.OrderRequest) (*domain.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetProgress(ctx context.Context, id uuid.UUID) (orchestrator.Progress, error)
	Events(ctx context.Context, id uuid.UUID, limit int) ([]domain.ProgressEvent, error)
	GetActiveOrderStats(id uuid.UUID) (orchestrator.OrderStats, bool)
}

// OrderLister — постраничный список заказов.
type OrderLister interface {
	List(ctx context.Context, filter repo.OrderFilter) ([]domain.Order, error)
}

// SlotCounter — число занятых слотов backend'а.
type SlotCounter interface {
	InUse(name string) int
}

// PoolSnapshotter — состояние пула ресурсов.
type PoolSnapshotter interface {
	Snapshot() []pool.ScopeStats
}

// ScheduleLister — состояние повторяющихся заказов.
type ScheduleLister interface {
	Entries() []scheduler.EntryStatus
}

var (
	_ OrderService    = (*orchestrator.Orchestrator)(nil)
	_ OrderLister     = (*repo.OrderRepo)(nil)
	_ OrderLister     = (*repo.MemoryStore)(nil)
	_ PoolSnapshotter = (*pool.Manager)(nil)
	_ ScheduleLister  = (*scheduler.Scheduler)(nil)
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orders    OrderService
	lister    OrderLister
	registry  *backend.Registry
	slots     SlotCounter
	stats     backend.Stats
	pool      PoolSnapshotter
	schedules ScheduleLister
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
// Slots, Stats, Pool и Schedules необязательны.
type Config struct {
	Orders    OrderService
	Lister    OrderLister
	Registry  *backend.Registry
	Slots     SlotCounter
	Stats     backend.Stats
	Pool      PoolSnapshotter
	Schedules ScheduleLister
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		orders:    cfg.Orders,
		lister:    cfg.Lister,
		registry:  cfg.Registry,
		slots:     cfg.Slots,
		stats:     cfg.Stats,
		pool:      cfg.Pool,
		schedules: cfg.Schedules,
		logger:    logger,
	}
}

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Courier/internal/telemetry"
	"github.com/shaiso/Courier/internal/tracker"
)

// Default configuration values.
const (
	defaultBuffer  = 256
	defaultTimeout = 5 * time.Second
)

var _ tracker.Sink = (*Dispatcher)(nil)

// Publisher доставляет уведомление одному получателю.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, n tracker.Notification) error
}

// Config — конфигурация Dispatcher.
type Config struct {
	Publishers []Publisher

	Buffer  int           // ёмкость канала уведомлений (default: 256)
	Timeout time.Duration // таймаут одной публикации (default: 5s)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Dispatcher — очередь уведомлений между оркестратором и Publisher'ами.
type Dispatcher struct {
	publishers []Publisher
	timeout    time.Duration
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	ch   chan tracker.Notification
	done chan struct{}

	// closeMu защищает ch от Notify после Stop
	closeMu sync.RWMutex
	closed  bool
	started bool
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		publishers: cfg.Publishers,
		timeout:    timeout,
		metrics:    cfg.Metrics,
		logger:     logger,
		ch:         make(chan tracker.Notification, buffer),
		done:       make(chan struct{}),
	}
}

// Notify ставит уведомление в очередь. Не блокирует.
func (d *Dispatcher) Notify(n tracker.Notification) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.ch <- n:
	default:
		d.metrics.NotificationDropped()
		d.logger.Warn("notification dropped, buffer full",
			"order_id", n.OrderID,
			"type", n.Type,
		)
	}
}

// Start запускает доставку уведомлений.
func (d *Dispatcher) Start(ctx context.Context) {
	d.closeMu.Lock()
	if d.started {
		d.closeMu.Unlock()
		return
	}
	d.started = true
	d.closeMu.Unlock()

	go func() {
		defer close(d.done)
		for n := range d.ch {
			d.deliver(ctx, n)
		}
	}()
}

// Stop закрывает очередь и ждёт доставки накопленного (не дольше ctx).
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.ch)
	started := d.started
	d.closeMu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending возвращает количество недоставленных уведомлений.
func (d *Dispatcher) Pending() int {
	return len(d.ch)
}

func (d *Dispatcher) deliver(ctx context.Context, n tracker.Notification) {
	for _, p := range d.publishers {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := p.Publish(pctx, n)
		cancel()

		if err != nil {
			d.logger.Warn("failed to publish notification",
				"publisher", p.Name(),
				"order_id", n.OrderID,
				"type", n.Type,
				"error", err,
			)
		}
	}
}

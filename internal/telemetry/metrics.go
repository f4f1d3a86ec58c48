package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики движка доставки.
//
// Все методы безопасны для nil-получателя: компоненты, созданные без метрик
// (например, в тестах), просто ничего не записывают.
type Metrics struct {
	ordersSubmitted      prometheus.Counter
	ordersFinished       *prometheus.CounterVec
	tasks                *prometheus.CounterVec
	taskDuration         *prometheus.HistogramVec
	requeues             *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	leasesInUse          *prometheus.GaugeVec
	notificationsDropped prometheus.Counter
}

// NewMetrics регистрирует метрики в указанном registerer.
// Для глобального реестра передайте prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ordersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_orders_submitted_total",
			Help: "Total orders accepted by the orchestrator",
		}),
		ordersFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_orders_finished_total",
			Help: "Orders that reached a terminal status",
		}, []string{"status"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_tasks_total",
			Help: "Delivery tasks executed, by backend and outcome class",
		}, []string{"backend", "outcome"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_task_duration_seconds",
			Help:    "Wall-clock duration of backend attempts",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"backend"}),
		requeues: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_requeues_total",
			Help: "Tasks requeued because an acquisition was unavailable",
		}, []string{"reason"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Tasks waiting in the task queue",
		}),
		leasesInUse: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "courier_leases_in_use",
			Help: "Resource leases currently checked out, by scope",
		}, []string{"scope"}),
		notificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_notifications_dropped_total",
			Help: "Notifications dropped because the sink buffer was full",
		}),
	}
}

// OrderSubmitted учитывает принятый заказ.
func (m *Metrics) OrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

// OrderFinished учитывает заказ в финальном статусе.
func (m *Metrics) OrderFinished(status string) {
	if m == nil {
		return
	}
	m.ordersFinished.WithLabelValues(status).Inc()
}

// TaskFinished учитывает выполненный task.
func (m *Metrics) TaskFinished(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(backend, outcome).Inc()
	m.taskDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Requeued учитывает возврат task в очередь.
func (m *Metrics) Requeued(reason string) {
	if m == nil {
		return
	}
	m.requeues.WithLabelValues(reason).Inc()
}

// SetQueueDepth выставляет текущую глубину очереди.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetLeasesInUse выставляет количество выданных аренд для scope.
func (m *Metrics) SetLeasesInUse(scope string, n int) {
	if m == nil {
		return
	}
	m.leasesInUse.WithLabelValues(scope).Set(float64(n))
}

// NotificationDropped учитывает отброшенное уведомление.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

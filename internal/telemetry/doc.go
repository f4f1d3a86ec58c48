// Package telemetry обеспечивает наблюдаемость движка.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики (заказы, tasks, очередь, аренды ресурсов)
//
// Все компоненты используют единый формат логирования,
// метрики экспортируются на /metrics endpoint courier-engine.
package telemetry

// Package api содержит HTTP API движка.
//
// Структура:
//   - handler.go         — Handler с DI (orchestrator, registry, pool, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (request id, logging, recovery)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - order_handler.go   — обработчики для /orders
//   - backend_handler.go — обработчики для /backends, /pool, /schedules
//
// API предоставляет REST endpoints для приёма, отмены и отслеживания заказов.
package api

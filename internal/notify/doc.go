// Package notify доставляет уведомления о заказах внешним подписчикам.
//
// Dispatcher реализует tracker.Sink: Notify кладёт уведомление в буферизованный
// канал и никогда не блокирует оркестратор. При заполненном буфере уведомление
// отбрасывается (метрика courier_notifications_dropped_total), а события
// прогресса остаются в хранилище.
//
// Отдельная горутина читает канал и передаёт уведомления Publisher'ам:
//   - MQPublisher    — RabbitMQ, exchange courier.events
//   - RedisPublisher — Redis PUBLISH плюс ключ с последним прогрессом
//   - LogPublisher   — структурированный лог
package notify

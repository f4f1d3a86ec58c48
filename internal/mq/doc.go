// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect и повторным объявлением топологии
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий заказов
//   - consumer.go   — приём заявок на заказы
//
// Типы сообщений:
//   - order.submit   — заявка на новый заказ (внешний продюсер → движок)
//   - order.progress — событие прогресса заказа (движок → подписчики)
//   - order.status   — смена статуса заказа (движок → подписчики)
//
// Exchanges:
//   - courier.orders — заявки
//   - courier.events — события заказов (topic)
//   - courier.dlq    — dead letter queue
package mq

// Package policy решает судьбу каждого результата task: продолжить,
// повторить на том же backend'е с задержкой или эскалировать.
//
//   - success/partial с подтверждениями — Continue (если backend не исключён)
//   - retryable — Retry с задержкой BaseDelay × 2^attempt (не больше MaxDelay);
//     после MaxRetriesPerBackend сбоев подряд — Escalate
//   - fatal — Escalate сразу
//
// Exclusions хранит окно последних результатов для каждой пары (заказ, backend).
// Исключение backend'а действует только в пределах одного заказа.
package policy

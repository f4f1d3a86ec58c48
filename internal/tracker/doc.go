// Package tracker накапливает прогресс заказов и недавнюю успешность backend'ов.
//
// Emit выпускает неизменяемые domain.ProgressEvent, сохраняет их через EventStore
// и передаёт уведомление в Sink. Record/SuccessRate ведут скользящее окно
// результатов по каждому backend'у — его читает hybrid-селектор.
package tracker

// Package backend определяет способы доставки (backend'ы) и их реестр.
//
// Каждый backend — это одна операция Attempt плюс статический Descriptor.
// Варианты:
//   - browser.go — автоматизированный браузер, работа через SessionDriver
//   - api.go     — внешний API (POST /v1/deliveries)
//   - cloud.go   — облачный провайдер (задание + опрос статуса)
//   - hybrid.go  — селектор над остальными по недавней успешности
//
// Backend'ы не возвращают ошибок: всё классифицируется в domain.DeliveryOutcome
// (success, partial, retryable_failure, fatal_failure). Normalize приводит
// результат к согласованному виду до того, как его увидит оркестратор.
//
// Registry упорядочивает backend'ы по Priority, затем по CostWeight, затем по имени.
package backend

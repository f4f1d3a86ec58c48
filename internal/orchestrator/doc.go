// Package orchestrator управляет жизненным циклом заказов.
//
// Orchestrator отвечает за:
//   - Приём и валидацию заказов
//   - Разбиение остатка заказа на tasks текущего backend'а
//   - Свёртку результатов tasks в счётчики заказа (каждый task ровно один раз)
//   - Retry с backoff, эскалацию на следующий backend и финализацию
//   - Отмену заказа и восстановление незавершённых заказов после рестарта
//
// Учёт количества:
//
//	Sent      = Confirmed + единицы незавершённых tasks
//	Remaining = Quantity - Sent
//
// Заказ завершается COMPLETED, когда Confirmed == Quantity, и FAILED
// ("fallback exhausted"), когда backend'ы исчерпаны и незавершённых tasks нет.
// Достигнутое количество при этом сохраняется.
//
// Все изменения одного заказа выполняются под его блокировкой,
// поэтому результаты разных tasks сворачиваются последовательно.
package orchestrator

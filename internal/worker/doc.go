// Package worker выполняет delivery tasks на backend'ах.
//
// # Обзор
//
// Worker Pool — компонент движка Courier, который берёт tasks из ограниченной
// очереди, занимает для каждого ресурсы и вызывает backend. Результат передаётся
// оркестратору через Handler.OnTaskOutcome.
//
// # Ключевые компоненты
//
// ## Queue
//
// Ограниченная FIFO-очередь. Push возвращает ErrQueueFull при заполнении;
// Requeue (для уже принятых tasks) ёмкость не проверяет.
// Tasks заказов с приоритетом high встают в начало.
//
// ## Slots
//
// Счётчики конкурентности backend'ов плюс token bucket (golang.org/x/time/rate)
// для backend'ов с RateLimit.
//
// ## Pool
//
//	p := worker.New(worker.Config{
//	    Queue:    queue,
//	    Registry: registry,
//	    Slots:    slots,
//	    Leaser:   resources,
//	    Handler:  orch,
//	    Workers:  16,
//	})
//
//	if err := p.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop(shutdownCtx)
//
// # Обработка task
//
//  1. Pop из очереди
//  2. Handler.Admit — tasks отменённых заказов помечаются ABANDONED
//  3. Глобальный слот → слот backend'а → аренда ресурса;
//     любая неудача — вернуть занятое в обратном порядке и Requeue
//  4. Attempt под жёстким таймаутом TaskTimeout
//  5. Возврат аренды, слота backend'а, глобального слота
//  6. Handler.OnTaskOutcome
//
// # Таймаут
//
// По таймауту результат — retryable_failure с кодом "timeout", аренда
// возвращается сразу. Поздний ответ backend'а отбрасывается.
package worker

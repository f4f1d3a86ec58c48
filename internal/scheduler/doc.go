// Package scheduler создаёт повторяющиеся заказы по расписаниям cron.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, Run, Entries)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Submitter: orch,
//	    Entries:   entries,
//	    Logger:    logger,
//	})
//	go sched.Run(ctx)
//
// Состояние расписаний хранится в памяти процесса: после рестарта
// следующее срабатывание вычисляется заново от текущего времени.
package scheduler

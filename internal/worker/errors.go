package worker

import "errors"

// Ошибки воркера.
var (
	// ErrQueueFull — очередь tasks заполнена.
	ErrQueueFull = errors.New("task queue full")

	// ErrPoolStopped — пул воркеров остановлен.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrAlreadyStarted — пул уже запущен.
	ErrAlreadyStarted = errors.New("worker pool already started")
)

package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrInvalidOrder — заказ отклонён при приёме и в работу не попадает.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrOrderNotFound — заказ не найден ни в памяти, ни в хранилище.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderFinished — заказ уже в финальном статусе.
	ErrOrderFinished = errors.New("order already finished")

	// ErrOrderAlreadyActive — заказ уже обрабатывается.
	ErrOrderAlreadyActive = errors.New("order already being processed")

	// ErrFallbackExhausted — все backend'ы заказа исчерпаны.
	ErrFallbackExhausted = errors.New("fallback exhausted")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

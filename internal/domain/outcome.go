package domain

// OutcomeClass — классификация результата попытки доставки.
type OutcomeClass string

const (
	// OutcomeSuccess — подтверждено всё запрошенное количество.
	OutcomeSuccess OutcomeClass = "success"

	// OutcomePartial — подтверждена часть количества.
	OutcomePartial OutcomeClass = "partial"

	// OutcomeRetryable — временная ошибка, можно повторить на том же backend'е.
	OutcomeRetryable OutcomeClass = "retryable_failure"

	// OutcomeFatal — backend не может выполнить task, нужна эскалация.
	OutcomeFatal OutcomeClass = "fatal_failure"
)

// IsFailure возвращает true для retryable и fatal.
func (c OutcomeClass) IsFailure() bool {
	return c == OutcomeRetryable || c == OutcomeFatal
}

// Диагностические коды, которые выставляет сам движок.
const (
	CodeTimeout      = "timeout"
	CodeNoConfirmed  = "no_units_confirmed"
	CodeNoBackend    = "backend_not_registered"
	CodeUnavailable  = "resource_unavailable"
	CodeTransport    = "transport_error"
	CodeBadResponse  = "bad_response"
	CodeProviderFail = "provider_failed"
	CodeCredential   = "credential_rejected"
	CodeRejected     = "target_rejected"
	CodeCancelled    = "cancelled"
)

// DeliveryOutcome — отчёт backend'а о выполненном task. Неизменяемое значение.
type DeliveryOutcome struct {
	// Attempted — сколько единиц backend пытался доставить.
	Attempted int `json:"attempted"`

	// Confirmed — сколько единиц подтверждено.
	Confirmed int `json:"confirmed"`

	// Class — финальная классификация.
	Class OutcomeClass `json:"class"`

	// Code — необязательный диагностический код.
	Code string `json:"code,omitempty"`

	// Backend — конкретный backend, выполнивший попытку.
	// Для hybrid отличается от Task.Backend.
	Backend string `json:"backend,omitempty"`
}

// Retryable создаёт результат retryable_failure.
func Retryable(code string) DeliveryOutcome {
	return DeliveryOutcome{Class: OutcomeRetryable, Code: code}
}

// Fatal создаёт результат fatal_failure.
func Fatal(code string) DeliveryOutcome {
	return DeliveryOutcome{Class: OutcomeFatal, Code: code}
}

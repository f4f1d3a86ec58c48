package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/domain"
)

// Default configuration values.
const (
	defaultMaxRetries       = 3
	defaultBaseDelay        = time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultWindow           = 10
	defaultMinSamples       = 4
	defaultFailureThreshold = 0.5
)

// Action — решение по результату task.
type Action int

const (
	// Continue — свернуть результат и продолжить на том же backend'е.
	Continue Action = iota

	// Retry — новый task на том же backend'е после Delay.
	Retry

	// Escalate — перейти к следующему backend'у в списке заказа.
	Escalate
)

// String возвращает имя действия.
func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Retry:
		return "retry"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Config — конфигурация Policy.
type Config struct {
	// MaxRetriesPerBackend — retryable-сбоев подряд до эскалации (default: 3).
	MaxRetriesPerBackend int `yaml:"max_retries_per_backend"`

	BaseDelay time.Duration `yaml:"base_delay"` // default: 1s
	MaxDelay  time.Duration `yaml:"max_delay"`  // default: 30s

	// Window — сколько последних результатов backend'а в заказе учитывать (default: 10).
	Window int `yaml:"window"`

	// MinSamples — минимум результатов в окне для исключения (default: 4).
	MinSamples int `yaml:"min_samples"`

	// FailureThreshold — доля сбоев в окне, выше которой backend исключается (default: 0.5).
	FailureThreshold float64 `yaml:"failure_threshold"`
}

// Input — данные для решения.
type Input struct {
	OrderID uuid.UUID
	Backend string
	Outcome domain.DeliveryOutcome

	// Attempt — номер попытки task, давшего результат.
	Attempt int

	// ConsecutiveRetryable — retryable-сбоев подряд на этом backend'е, включая текущий.
	ConsecutiveRetryable int
}

// Decision — решение политики.
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Policy решает, что делать после каждого результата task.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	exclusions *Exclusions
}

// New создаёт Policy.
func New(cfg Config) *Policy {
	maxRetries := cfg.MaxRetriesPerBackend
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}

	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	if minSamples > window {
		minSamples = window
	}

	threshold := cfg.FailureThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = defaultFailureThreshold
	}

	return &Policy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		exclusions: NewExclusions(window, minSamples, threshold),
	}
}

// MaxRetries возвращает бюджет retryable-сбоев подряд на backend.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Observe учитывает результат в окне исключений заказа.
func (p *Policy) Observe(orderID uuid.UUID, backend string, outcome domain.DeliveryOutcome) {
	p.exclusions.Record(orderID, backend, outcome.Class.IsFailure())
}

// Excluded проверяет, исключён ли backend для заказа.
func (p *Policy) Excluded(orderID uuid.UUID, backend string) bool {
	return p.exclusions.Excluded(orderID, backend)
}

// Forget удаляет состояние исключений заказа.
func (p *Policy) Forget(orderID uuid.UUID) {
	p.exclusions.Forget(orderID)
}

// Decide принимает решение по результату.
//
// Результат должен быть уже учтён через Observe.
func (p *Policy) Decide(in Input) Decision {
	out := in.Outcome

	switch out.Class {
	case domain.OutcomeSuccess, domain.OutcomePartial:
		if out.Confirmed > 0 {
			if p.Excluded(in.OrderID, in.Backend) {
				return Decision{Action: Escalate, Reason: "backend excluded: failure rate above threshold"}
			}
			return Decision{Action: Continue, Reason: string(out.Class)}
		}

	case domain.OutcomeFatal:
		return Decision{Action: Escalate, Reason: fmt.Sprintf("fatal failure: %s", codeOrUnknown(out.Code))}
	}

	// retryable (и успех без подтверждений)
	if in.ConsecutiveRetryable >= p.maxRetries {
		return Decision{
			Action: Escalate,
			Reason: fmt.Sprintf("retry budget exhausted after %d consecutive failures", in.ConsecutiveRetryable),
		}
	}
	if p.Excluded(in.OrderID, in.Backend) {
		return Decision{Action: Escalate, Reason: "backend excluded: failure rate above threshold"}
	}

	return Decision{
		Action: Retry,
		Delay:  p.Backoff(in.Attempt),
		Reason: fmt.Sprintf("retryable failure: %s", codeOrUnknown(out.Code)),
	}
}

// Backoff вычисляет задержку: BaseDelay × 2^attempt, не больше MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	return delay
}

func codeOrUnknown(code string) string {
	if code == "" {
		return "unknown"
	}
	return code
}

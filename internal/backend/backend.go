package backend

import (
	"context"

	"github.com/shaiso/Courier/internal/domain"
	"github.com/shaiso/Courier/internal/pool"
)

// Виды backend'ов.
const (
	KindBrowser = "browser"
	KindAPI     = "api"
	KindCloud   = "cloud"
	KindHybrid  = "hybrid"
)

// Backend — способ доставки единиц для task.
//
// Attempt должен быть безопасен для конкурентного вызова: общее изменяемое
// состояние между вызовами допускается только через пул ресурсов.
// Ошибки не возвращаются — backend классифицирует их сам в DeliveryOutcome.
//
// lease равен nil, если Descriptor().ResourceScope пуст.
type Backend interface {
	Descriptor() Descriptor
	Attempt(ctx context.Context, task *domain.Task, lease *pool.Lease) domain.DeliveryOutcome
}

// Descriptor — статическое описание возможностей backend'а.
type Descriptor struct {
	// Name — уникальное имя (используется в Order.Backends).
	Name string `json:"name" yaml:"name"`

	// Kind — вид backend'а: browser, api, cloud, hybrid.
	Kind string `json:"kind" yaml:"kind"`

	// Priority — ранг приоритета (меньше — раньше).
	Priority int `json:"priority" yaml:"priority"`

	// MaxConcurrency — максимум одновременно выполняющихся tasks.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// MaxBatchSize — максимальный размер одного task.
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// SupportsPartial — может ли backend сообщать о частичном успехе.
	SupportsPartial bool `json:"supports_partial" yaml:"supports_partial"`

	// CostWeight — вес стоимости для упорядочивания при равном приоритете.
	CostWeight float64 `json:"cost_weight" yaml:"cost_weight"`

	// ResourceScope — scope пула ресурсов; пусто — ресурс не нужен.
	ResourceScope string `json:"resource_scope,omitempty" yaml:"resource_scope"`

	// RateLimit — запусков tasks в секунду; 0 — без ограничения.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit"`

	// RateBurst — размер burst для RateLimit.
	RateBurst int `json:"rate_burst,omitempty" yaml:"rate_burst"`
}

// withDefaults заполняет нулевые поля значениями по умолчанию.
func (d Descriptor) withDefaults() Descriptor {
	if d.MaxConcurrency <= 0 {
		d.MaxConcurrency = 1
	}
	if d.MaxBatchSize <= 0 {
		d.MaxBatchSize = 100
	}
	if d.CostWeight <= 0 {
		d.CostWeight = 1
	}
	if d.RateLimit > 0 && d.RateBurst <= 0 {
		d.RateBurst = 1
	}
	return d
}

// less — порядок реестра: приоритет, затем стоимость, затем имя.
func less(a, b Descriptor) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.CostWeight != b.CostWeight {
		return a.CostWeight < b.CostWeight
	}
	return a.Name < b.Name
}

// Observe переводит результат попытки в наблюдение о здоровье ресурса.
func Observe(outcome domain.DeliveryOutcome) pool.Observation {
	switch outcome.Class {
	case domain.OutcomeSuccess, domain.OutcomePartial:
		return pool.ObservedSuccess
	}

	switch outcome.Code {
	case domain.CodeCredential, domain.CodeTransport:
		return pool.ObservedFailure
	}
	return pool.ObservedNeutral
}

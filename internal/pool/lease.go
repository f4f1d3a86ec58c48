package pool

import "time"

// Health — состояние здоровья ресурса.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthBlacklisted Health = "blacklisted"
)

// Resource — арендуемый ресурс.
type Resource struct {
	// ID — уникальный идентификатор ресурса.
	ID string `json:"id" yaml:"id"`

	// Scope — к какому типу backend'а относится ресурс (например, "proxy", "api_key").
	Scope string `json:"scope" yaml:"scope"`

	// Value — непрозрачное значение для backend'а (адрес прокси, токен и т.п.).
	Value string `json:"-" yaml:"value"`
}

// Lease — выданная аренда ресурса.
//
// Аренду держит ровно один выполняющийся task. Поля менять нельзя,
// аренда возвращается в пул только через Manager.Checkin.
type Lease struct {
	ID           string    `json:"id"`
	ResourceID   string    `json:"resource_id"`
	Scope        string    `json:"scope"`
	Value        string    `json:"-"`
	Health       Health    `json:"health"`
	Probation    bool      `json:"probation,omitempty"`
	CheckedOutAt time.Time `json:"checked_out_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired проверяет, истёк ли срок аренды.
func (l *Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// Observation — что task наблюдал через ресурс.
type Observation int

const (
	// ObservedNeutral — ничего не известно о ресурсе (отмена, таймаут backend'а).
	ObservedNeutral Observation = iota

	// ObservedSuccess — ресурс отработал.
	ObservedSuccess

	// ObservedFailure — сбой, связанный с ресурсом.
	ObservedFailure
)

// String возвращает имя наблюдения для логов.
func (o Observation) String() string {
	switch o {
	case ObservedSuccess:
		return "success"
	case ObservedFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// ScopeStats — снимок состояния одного scope.
type ScopeStats struct {
	Scope       string `json:"scope"`
	Size        int    `json:"size"`
	Leased      int    `json:"leased"`
	Healthy     int    `json:"healthy"`
	Degraded    int    `json:"degraded"`
	Blacklisted int    `json:"blacklisted"`
}

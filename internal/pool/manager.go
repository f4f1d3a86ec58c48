package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Courier/internal/telemetry"
)

// Default configuration values.
const (
	defaultCheckoutWait   = 50 * time.Millisecond
	defaultLeaseTTL       = 5 * time.Minute
	defaultDegradeAfter   = 2
	defaultBlacklistAfter = 5
	defaultCooldown       = 10 * time.Minute
)

// Config — конфигурация Manager.
type Config struct {
	// Resources — начальный набор ресурсов.
	Resources []Resource

	CheckoutWait   time.Duration // ожидание свободного ресурса (default: 50ms)
	LeaseTTL       time.Duration // срок аренды до принудительного возврата (default: 5m)
	DegradeAfter   int           // ошибок подряд до degraded (default: 2)
	BlacklistAfter int           // ошибок подряд до blacklisted (default: 5)
	Cooldown       time.Duration // время в blacklist (default: 10m)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// entry — внутреннее состояние ресурса.
type entry struct {
	res           Resource
	health        Health
	failures      int
	probation     bool
	cooldownUntil time.Time
	lastUsed      time.Time
	lease         *Lease
}

// available проверяет, можно ли выдать ресурс.
func (e *entry) available(now time.Time) bool {
	if e.lease != nil {
		return false
	}
	if e.health == HealthBlacklisted {
		return !now.Before(e.cooldownUntil)
	}
	return true
}

// rank — порядок предпочтения: healthy, degraded, затем ресурсы после cool-down.
func (e *entry) rank() int {
	switch e.health {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// Manager — пул арендуемых ресурсов.
type Manager struct {
	mu      sync.Mutex
	scopes  map[string][]*entry
	leases  map[string]*entry
	changed chan struct{}

	checkoutWait   time.Duration
	leaseTTL       time.Duration
	degradeAfter   int
	blacklistAfter int
	cooldown       time.Duration

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New создаёт Manager.
func New(cfg Config) (*Manager, error) {
	checkoutWait := cfg.CheckoutWait
	if checkoutWait <= 0 {
		checkoutWait = defaultCheckoutWait
	}

	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	degradeAfter := cfg.DegradeAfter
	if degradeAfter <= 0 {
		degradeAfter = defaultDegradeAfter
	}

	blacklistAfter := cfg.BlacklistAfter
	if blacklistAfter <= 0 {
		blacklistAfter = defaultBlacklistAfter
	}
	if blacklistAfter < degradeAfter {
		blacklistAfter = degradeAfter
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		scopes:         make(map[string][]*entry),
		leases:         make(map[string]*entry),
		changed:        make(chan struct{}),
		checkoutWait:   checkoutWait,
		leaseTTL:       leaseTTL,
		degradeAfter:   degradeAfter,
		blacklistAfter: blacklistAfter,
		cooldown:       cooldown,
		metrics:        cfg.Metrics,
		logger:         logger,
		now:            now,
	}

	for _, res := range cfg.Resources {
		if err := m.Add(res); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Add добавляет ресурс в пул.
func (m *Manager) Add(res Resource) error {
	if res.ID == "" || res.Scope == "" {
		return fmt.Errorf("resource id and scope are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.scopes[res.Scope] {
		if e.res.ID == res.ID {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateResource, res.Scope, res.ID)
		}
	}

	m.scopes[res.Scope] = append(m.scopes[res.Scope], &entry{
		res:    res,
		health: HealthHealthy,
	})
	m.signalLocked()
	return nil
}

// HasScope проверяет, сконфигурирован ли scope.
func (m *Manager) HasScope(scope string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scopes[scope]
	return ok
}

// Checkout выдаёт аренду ресурса из scope.
//
// Если свободного ресурса нет, ждёт не дольше CheckoutWait
// и возвращает ErrUnavailable. ErrUnknownScope — scope не сконфигурирован.
func (m *Manager) Checkout(ctx context.Context, scope string) (*Lease, error) {
	timer := time.NewTimer(m.checkoutWait)
	defer timer.Stop()

	for {
		m.mu.Lock()
		entries, ok := m.scopes[scope]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
		}

		if e := m.pickLocked(entries); e != nil {
			lease := m.leaseLocked(e)
			m.mu.Unlock()
			return lease, nil
		}

		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, scope)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, scope, ctx.Err())
		}
	}
}

// pickLocked выбирает лучший свободный ресурс: сначала по здоровью, затем LRU.
func (m *Manager) pickLocked(entries []*entry) *entry {
	now := m.now()

	var best *entry
	for _, e := range entries {
		if !e.available(now) {
			continue
		}
		if best == nil ||
			e.rank() < best.rank() ||
			(e.rank() == best.rank() && e.lastUsed.Before(best.lastUsed)) {
			best = e
		}
	}
	return best
}

// leaseLocked оформляет аренду на ресурс.
func (m *Manager) leaseLocked(e *entry) *Lease {
	now := m.now()

	if e.health == HealthBlacklisted {
		// Cool-down истёк — выдаём на испытательный срок
		e.probation = true
		m.logger.Info("resource on probation",
			"scope", e.res.Scope,
			"resource_id", e.res.ID,
		)
	}

	lease := &Lease{
		ID:           uuid.NewString(),
		ResourceID:   e.res.ID,
		Scope:        e.res.Scope,
		Value:        e.res.Value,
		Health:       e.health,
		Probation:    e.probation,
		CheckedOutAt: now,
		ExpiresAt:    now.Add(m.leaseTTL),
	}

	e.lease = lease
	e.lastUsed = now
	m.leases[lease.ID] = e
	m.updateGaugeLocked(e.res.Scope)

	return lease
}

// Checkin возвращает аренду в пул и применяет наблюдение к здоровью ресурса.
//
// Повторный Checkin той же аренды возвращает ErrLeaseNotHeld.
func (m *Manager) Checkin(lease *Lease, obs Observation) error {
	if lease == nil {
		return ErrLeaseNotHeld
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.leases[lease.ID]
	if !ok || e.lease == nil || e.lease.ID != lease.ID {
		return fmt.Errorf("%w: %s", ErrLeaseNotHeld, lease.ID)
	}

	m.releaseLocked(e, obs)
	return nil
}

// releaseLocked снимает аренду и обновляет здоровье.
func (m *Manager) releaseLocked(e *entry, obs Observation) {
	delete(m.leases, e.lease.ID)
	e.lease = nil
	now := m.now()
	e.lastUsed = now

	switch obs {
	case ObservedSuccess:
		if e.health != HealthHealthy {
			m.logger.Info("resource recovered",
				"scope", e.res.Scope,
				"resource_id", e.res.ID,
				"from", e.health,
			)
		}
		e.health = HealthHealthy
		e.failures = 0
		e.probation = false

	case ObservedFailure:
		e.failures++
		switch {
		case e.probation || e.failures >= m.blacklistAfter:
			e.health = HealthBlacklisted
			e.probation = false
			e.cooldownUntil = now.Add(m.cooldown)
			m.logger.Warn("resource blacklisted",
				"scope", e.res.Scope,
				"resource_id", e.res.ID,
				"failures", e.failures,
				"cooldown_until", e.cooldownUntil,
			)
		case e.failures >= m.degradeAfter && e.health == HealthHealthy:
			e.health = HealthDegraded
			m.logger.Warn("resource degraded",
				"scope", e.res.Scope,
				"resource_id", e.res.ID,
				"failures", e.failures,
			)
		}
	}

	m.updateGaugeLocked(e.res.Scope)
	m.signalLocked()
}

// Reap принудительно возвращает просроченные аренды и возвращает их количество.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := 0
	for _, e := range m.leases {
		if e.lease != nil && e.lease.Expired(now) {
			m.logger.Warn("reaping expired lease",
				"scope", e.res.Scope,
				"resource_id", e.res.ID,
				"lease_id", e.lease.ID,
			)
			m.releaseLocked(e, ObservedNeutral)
			reaped++
		}
	}
	return reaped
}

// RunReaper периодически вызывает Reap до отмены ctx.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(m.now()); n > 0 {
				m.logger.Info("expired leases reclaimed", "count", n)
			}
		}
	}
}

// Snapshot возвращает статистику по всем scope, отсортированную по имени.
func (m *Manager) Snapshot() []ScopeStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make([]ScopeStats, 0, len(m.scopes))
	for scope, entries := range m.scopes {
		s := ScopeStats{Scope: scope, Size: len(entries)}
		for _, e := range entries {
			if e.lease != nil {
				s.Leased++
			}
			switch e.health {
			case HealthHealthy:
				s.Healthy++
			case HealthDegraded:
				s.Degraded++
			case HealthBlacklisted:
				s.Blacklisted++
			}
		}
		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Scope < stats[j].Scope })
	return stats
}

// Leased возвращает количество выданных аренд в scope.
func (m *Manager) Leased(scope string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leasedLocked(scope)
}

func (m *Manager) leasedLocked(scope string) int {
	n := 0
	for _, e := range m.scopes[scope] {
		if e.lease != nil {
			n++
		}
	}
	return n
}

func (m *Manager) updateGaugeLocked(scope string) {
	m.metrics.SetLeasesInUse(scope, m.leasedLocked(scope))
}

// signalLocked будит все ожидающие Checkout.
func (m *Manager) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

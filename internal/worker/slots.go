package worker

import (
	"sync"

	"github.com/shaiso/Courier/internal/backend"
	"golang.org/x/time/rate"
)

// backendSlot — счётчик конкурентности и rate limiter одного backend'а.
type backendSlot struct {
	max     int
	inUse   int
	limiter *rate.Limiter
}

// Slots — слоты конкурентности backend'ов.
//
// TryAcquire никогда не блокирует: если слота нет (или rate limit исчерпан),
// вызывающий возвращает task в очередь.
type Slots struct {
	mu    sync.Mutex
	slots map[string]*backendSlot
}

// NewSlots создаёт пустой набор слотов.
func NewSlots() *Slots {
	return &Slots{slots: make(map[string]*backendSlot)}
}

// NewSlotsFor создаёт слоты для всех backend'ов реестра по их дескрипторам.
func NewSlotsFor(registry *backend.Registry) *Slots {
	s := NewSlots()
	s.ConfigureFrom(registry)
	return s
}

// ConfigureFrom задаёт лимиты всех backend'ов реестра.
// Нужен, когда слоты создаются раньше реестра (их получает hybrid-backend).
func (s *Slots) ConfigureFrom(registry *backend.Registry) {
	for _, d := range registry.Descriptors() {
		s.Configure(d.Name, d.MaxConcurrency, d.RateLimit, d.RateBurst)
	}
}

// Configure задаёт лимиты backend'а.
// ratePerSec <= 0 — без ограничения частоты.
func (s *Slots) Configure(name string, maxConcurrency int, ratePerSec float64, burst int) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.slots[name]; ok {
		sl.max = maxConcurrency
		sl.limiter = limiter
		return
	}
	s.slots[name] = &backendSlot{max: maxConcurrency, limiter: limiter}
}

// TryAcquire занимает слот backend'а, если он свободен и rate limit позволяет.
func (s *Slots) TryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[name]
	if !ok || sl.inUse >= sl.max {
		return false
	}
	// Токен расходуется только если слот реально будет занят
	if sl.limiter != nil && !sl.limiter.Allow() {
		return false
	}

	sl.inUse++
	return true
}

// Release освобождает слот backend'а.
func (s *Slots) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.slots[name]; ok && sl.inUse > 0 {
		sl.inUse--
	}
}

// InUse возвращает количество занятых слотов backend'а.
func (s *Slots) InUse(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.slots[name]; ok {
		return sl.inUse
	}
	return 0
}

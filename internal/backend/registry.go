package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр backend'ов по имени.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register добавляет backend.
func (r *Registry) Register(b Backend) error {
	desc := b.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if desc.MaxConcurrency <= 0 || desc.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: %s: max_concurrency and max_batch_size must be positive", ErrInvalidDescriptor, desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, desc.Name)
	}
	r.backends[desc.Name] = b
	return nil
}

// Get возвращает backend по имени.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	return b, nil
}

// Has проверяет, зарегистрирован ли backend.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Ordered возвращает backend'ы в порядке приоритета (затем стоимость, затем имя).
func (r *Registry) Ordered() []Backend {
	r.mu.RLock()
	list := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		list = append(list, b)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return less(list[i].Descriptor(), list[j].Descriptor())
	})
	return list
}

// Names возвращает имена backend'ов в порядке реестра.
func (r *Registry) Names() []string {
	ordered := r.Ordered()
	names := make([]string, len(ordered))
	for i, b := range ordered {
		names[i] = b.Descriptor().Name
	}
	return names
}

// Descriptors возвращает дескрипторы в порядке реестра.
func (r *Registry) Descriptors() []Descriptor {
	ordered := r.Ordered()
	descs := make([]Descriptor, len(ordered))
	for i, b := range ordered {
		descs[i] = b.Descriptor()
	}
	return descs
}

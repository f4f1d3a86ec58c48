package policy

import (
	"sync"

	"github.com/google/uuid"
)

// exclusionKey — пара (заказ, backend).
type exclusionKey struct {
	order   uuid.UUID
	backend string
}

// Exclusions — индекс исключений backend'ов, локальный для каждого заказа.
//
// Состояние одного заказа никогда не влияет на другие заказы,
// даже если они используют тот же backend.
type Exclusions struct {
	window     int
	minSamples int
	threshold  float64

	mu      sync.Mutex
	windows map[exclusionKey]*failureWindow
	byOrder map[uuid.UUID][]string
}

// NewExclusions создаёт индекс исключений.
func NewExclusions(window, minSamples int, threshold float64) *Exclusions {
	return &Exclusions{
		window:     window,
		minSamples: minSamples,
		threshold:  threshold,
		windows:    make(map[exclusionKey]*failureWindow),
		byOrder:    make(map[uuid.UUID][]string),
	}
}

// Record добавляет результат task в окно пары (заказ, backend).
func (e *Exclusions) Record(orderID uuid.UUID, backend string, failed bool) {
	key := exclusionKey{order: orderID, backend: backend}

	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[key]
	if !ok {
		w = &failureWindow{buf: make([]bool, e.window)}
		e.windows[key] = w
		e.byOrder[orderID] = append(e.byOrder[orderID], backend)
	}
	w.push(failed)
}

// Excluded — доля сбоев в окне выше порога при достаточном числе результатов.
func (e *Exclusions) Excluded(orderID uuid.UUID, backend string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[exclusionKey{order: orderID, backend: backend}]
	if !ok {
		return false
	}

	failures, n := w.count()
	if n < e.minSamples {
		return false
	}
	return float64(failures)/float64(n) > e.threshold
}

// Forget удаляет все окна заказа.
func (e *Exclusions) Forget(orderID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, backend := range e.byOrder[orderID] {
		delete(e.windows, exclusionKey{order: orderID, backend: backend})
	}
	delete(e.byOrder, orderID)
}

// Len возвращает количество отслеживаемых пар.
func (e *Exclusions) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.windows)
}

// failureWindow — последние K результатов (true — сбой).
type failureWindow struct {
	buf  []bool
	next int
	full bool
}

func (w *failureWindow) push(failed bool) {
	w.buf[w.next] = failed
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *failureWindow) count() (failures, n int) {
	n = w.next
	if w.full {
		n = len(w.buf)
	}
	for i := 0; i < n; i++ {
		if w.buf[i] {
			failures++
		}
	}
	return failures, n
}

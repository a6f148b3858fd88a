// Package memory provides single-process implementations of outbound ports.
// They are meant for local development and tests; state is lost on restart
// and is not shared between replicas.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

type counterKey struct {
	key      string
	resource string
	kind     model.WindowKind
}

type counterEntry struct {
	start time.Time
	count int64
}

// WindowCounter implements outbound.WindowCounterPort with a mutex-guarded map.
type WindowCounter struct {
	mu       sync.Mutex
	counters map[counterKey]*counterEntry
}

var _ outbound.WindowCounterPort = (*WindowCounter)(nil)

// NewWindowCounter creates an empty in-memory window counter.
func NewWindowCounter() *WindowCounter {
	return &WindowCounter{counters: make(map[counterKey]*counterEntry)}
}

// current returns the count of the window, zero if the stored entry belongs to an older window.
func (w *WindowCounter) current(key counterKey, win outbound.CounterWindow) int64 {
	e, ok := w.counters[key]
	if !ok || e.start.Before(win.Start) {
		return 0
	}
	return e.count
}

func (w *WindowCounter) IncrementIfUnder(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) (*outbound.CounterResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	counts := make([]int64, len(windows))
	allowed := true
	for i, win := range windows {
		counts[i] = w.current(counterKey{win.CounterKey(scope), resource, win.Kind}, win)
		if counts[i] >= win.Limit {
			allowed = false
		}
	}
	if !allowed {
		return &outbound.CounterResult{Allowed: false, Counts: counts}, nil
	}

	for i, win := range windows {
		key := counterKey{win.CounterKey(scope), resource, win.Kind}
		e, ok := w.counters[key]
		if !ok || e.start.Before(win.Start) {
			e = &counterEntry{start: win.Start}
			w.counters[key] = e
		}
		e.count++
		counts[i] = e.count
	}
	return &outbound.CounterResult{Allowed: true, Counts: counts}, nil
}

func (w *WindowCounter) Decrement(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, win := range windows {
		e, ok := w.counters[counterKey{win.CounterKey(scope), resource, win.Kind}]
		if ok && !e.start.Before(win.Start) && e.count > 0 {
			e.count--
		}
	}
	return nil
}

func (w *WindowCounter) Counts(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	counts := make([]int64, len(windows))
	for i, win := range windows {
		counts[i] = w.current(counterKey{win.CounterKey(scope), resource, win.Kind}, win)
	}
	return counts, nil
}

func (w *WindowCounter) Sweep(ctx context.Context, before time.Time) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var n int64
	for key, e := range w.counters {
		if e.start.Before(before) {
			delete(w.counters, key)
			n++
		}
	}
	return n, nil
}

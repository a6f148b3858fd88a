package outbound

import (
	"context"
	"time"

	"github.com/uniedit/creditgate/internal/model"
)

// CounterWindow describes one fixed window to check and increment.
// Key names the counter; empty means the key passed to the call.
type CounterWindow struct {
	Key   string
	Kind  model.WindowKind
	Start time.Time
	End   time.Time
	Limit int64
}

// CounterKey returns the counter key of the window within scope.
func (w CounterWindow) CounterKey(scope string) string {
	if w.Key == "" {
		return scope
	}
	return w.Key
}

// CounterResult is the outcome of an atomic multi-window increment.
// Counts are positionally aligned with the requested windows: the new counts
// when Allowed, the unchanged current counts otherwise.
type CounterResult struct {
	Allowed bool
	Counts  []int64
}

// WindowCounterPort defines fixed-window counter storage.
// IncrementIfUnder must be atomic across all windows: either every count is
// incremented or none is. The scope key groups the windows of one call; windows
// may name other counters within it.
type WindowCounterPort interface {
	// IncrementIfUnder increments every window by one if all counts are below their limits.
	IncrementIfUnder(ctx context.Context, scope, resource string, windows []CounterWindow) (*CounterResult, error)

	// Decrement gives back one slot in every window that still holds one.
	// Counters of an earlier window are left alone.
	Decrement(ctx context.Context, scope, resource string, windows []CounterWindow) error

	// Counts returns the current counts for the windows without mutating them.
	Counts(ctx context.Context, scope, resource string, windows []CounterWindow) ([]int64, error)

	// Sweep removes counters whose window started before the cutoff.
	Sweep(ctx context.Context, before time.Time) (int64, error)
}

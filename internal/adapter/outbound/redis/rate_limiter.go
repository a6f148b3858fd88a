package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

const rateLimitKeyPrefix = "ratelimit:"

// incrementScript increments every window key only if all are under their limit.
// KEYS[i] = window key (one per window, the window start is part of the key)
// ARGV[i] = limit for KEYS[i]
// ARGV[n+i] = expire-at for KEYS[i] in unix milliseconds
//
// Returns {allowed, count_1, ..., count_n}; counts are post-increment when allowed.
var incrementScript = redis.NewScript(`
local n = #KEYS
local counts = {}
local allowed = 1
for i = 1, n do
    local c = tonumber(redis.call("GET", KEYS[i]) or "0")
    counts[i] = c
    if c >= tonumber(ARGV[i]) then
        allowed = 0
    end
end
if allowed == 1 then
    for i = 1, n do
        counts[i] = redis.call("INCR", KEYS[i])
        redis.call("PEXPIREAT", KEYS[i], ARGV[n + i])
    end
end
local out = {allowed}
for i = 1, n do
    out[i + 1] = counts[i]
end
return out
`)

// decrementScript gives back one slot in every existing window key that holds one.
var decrementScript = redis.NewScript(`
for i = 1, #KEYS do
    local c = tonumber(redis.call("GET", KEYS[i]) or "0")
    if c > 0 then
        redis.call("DECR", KEYS[i])
    end
end
return 1
`)

// windowCounter implements outbound.WindowCounterPort on Redis.
// Each window is a plain counter keyed by its start, so a new window starts
// from zero and old windows disappear through key expiry.
type windowCounter struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Option configures the window counter.
type Option func(*windowCounter)

// WithKeyPrefix sets the key prefix (default "ratelimit:").
func WithKeyPrefix(prefix string) Option {
	return func(w *windowCounter) { w.keyPrefix = prefix }
}

// NewWindowCounter creates a new Redis window counter adapter.
func NewWindowCounter(client redis.UniversalClient, opts ...Option) outbound.WindowCounterPort {
	w := &windowCounter{client: client, keyPrefix: rateLimitKeyPrefix}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// key hash-tags the scope so all windows of one call share a cluster slot.
// Windows counting the scope itself omit the counter key.
func (w *windowCounter) key(scope, resource string, win outbound.CounterWindow) string {
	if counter := win.CounterKey(scope); counter != scope {
		return fmt.Sprintf("%s{%s}:%s:%s:%s:%d", w.keyPrefix, scope, counter, resource, win.Kind, win.Start.Unix())
	}
	return fmt.Sprintf("%s{%s}:%s:%s:%d", w.keyPrefix, scope, resource, win.Kind, win.Start.Unix())
}

func (w *windowCounter) IncrementIfUnder(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) (*outbound.CounterResult, error) {
	if len(windows) == 0 {
		return &outbound.CounterResult{Allowed: true}, nil
	}

	keys := make([]string, len(windows))
	args := make([]any, 0, 2*len(windows))
	for i, win := range windows {
		keys[i] = w.key(scope, resource, win)
		args = append(args, win.Limit)
	}
	for _, win := range windows {
		// Keep the key a little past the window end so late readers still see the final count
		args = append(args, win.End.Add(time.Minute).UnixMilli())
	}

	raw, err := incrementScript.Run(ctx, w.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run increment script: %w", err)
	}
	if len(raw) != len(windows)+1 {
		return nil, fmt.Errorf("unexpected increment script reply length %d", len(raw))
	}

	return &outbound.CounterResult{
		Allowed: raw[0] == 1,
		Counts:  raw[1:],
	}, nil
}

func (w *windowCounter) Decrement(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) error {
	if len(windows) == 0 {
		return nil
	}

	keys := make([]string, len(windows))
	for i, win := range windows {
		keys[i] = w.key(scope, resource, win)
	}
	if err := decrementScript.Run(ctx, w.client, keys).Err(); err != nil {
		return fmt.Errorf("run decrement script: %w", err)
	}
	return nil
}

func (w *windowCounter) Counts(ctx context.Context, scope, resource string, windows []outbound.CounterWindow) ([]int64, error) {
	if len(windows) == 0 {
		return nil, nil
	}

	keys := make([]string, len(windows))
	for i, win := range windows {
		keys[i] = w.key(scope, resource, win)
	}

	vals, err := w.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget counters: %w", err)
	}

	counts := make([]int64, len(windows))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse counter %s: %w", keys[i], err)
		}
		counts[i] = n
	}
	return counts, nil
}

// Sweep is a no-op: Redis expires window keys on its own.
func (w *windowCounter) Sweep(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// Compile-time check
var _ outbound.WindowCounterPort = (*windowCounter)(nil)

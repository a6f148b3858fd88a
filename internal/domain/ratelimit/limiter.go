package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/utils/metrics"
	"go.uber.org/zap"
)

// ErrStorageUnavailable is returned when the counter store cannot be reached.
// Callers must treat it as a denial.
var ErrStorageUnavailable = errors.New("rate limit storage unavailable")

// Limiter implements fixed-window rate limiting over two windows, hourly and daily.
type Limiter struct {
	counter  outbound.WindowCounterPort
	calendar *clock.Calendar
	clock    clock.Clock
	config   *Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Compile-time interface check
var _ inbound.RateLimiter = (*Limiter)(nil)

// NewLimiter creates a new rate limiter.
func NewLimiter(
	counter outbound.WindowCounterPort,
	calendar *clock.Calendar,
	clk clock.Clock,
	cfg *Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Limiter{
		counter:  counter,
		calendar: calendar,
		clock:    clk,
		config:   cfg,
		metrics:  m,
		logger:   logger.Named("ratelimit"),
	}
}

// windows returns the hourly and daily windows containing now, in that order.
func (l *Limiter) windows(now time.Time, limits WindowLimits) []outbound.CounterWindow {
	hourStart, hourEnd := l.calendar.HourWindow(now)
	dayStart, dayEnd := l.calendar.DayWindow(now)
	return []outbound.CounterWindow{
		{Kind: model.WindowKindHourly, Start: hourStart, End: hourEnd, Limit: limits.Hourly},
		{Kind: model.WindowKindDaily, Start: dayStart, End: dayEnd, Limit: limits.Daily},
	}
}

// plan returns the counter scope and windows charged for the identity.
// Anonymous sessions also count against their device, so sessions minted on
// one device share its quota. Windows are ordered hourly, daily.
func (l *Limiter) plan(now time.Time, identity model.Identity, limits WindowLimits) (string, []outbound.CounterWindow) {
	windows := l.windows(now, limits)
	if identity.DeviceKey == "" || identity.DeviceKey == identity.Key {
		return identity.Key, windows
	}
	for i := range windows {
		windows[i].Key = identity.Key
	}
	for _, win := range l.windows(now, limits) {
		win.Key = identity.DeviceKey
		windows = append(windows, win)
	}
	return identity.DeviceKey, windows
}

func (l *Limiter) limitsFor(identity model.Identity, resource string) WindowLimits {
	limits, ok := l.config.lookup(identity.Tier, resource)
	if !ok {
		l.logger.Warn("no rate limit configured, denying",
			zap.String("tier", identity.Tier.String()),
			zap.String("resource", resource),
		)
	}
	return limits
}

// CheckAndIncrement admits the request only if both windows stay within their limits.
// A denied attempt does not consume a slot.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identity model.Identity, resource string) (*model.RateDecision, error) {
	now := l.clock.Now()
	limits := l.limitsFor(identity, resource)
	scope, windows := l.plan(now, identity, limits)

	res, err := l.counter.IncrementIfUnder(ctx, scope, resource, windows)
	if err != nil {
		l.metrics.RecordRateDecision(identity.Tier.String(), resource, "error")
		l.logger.Error("window counter increment failed",
			zap.String("identity", identity.Key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	decision := buildDecision(now, windows, res.Counts, res.Allowed)
	if decision.Allowed {
		l.metrics.RecordRateDecision(identity.Tier.String(), resource, "allowed")
	} else {
		l.metrics.RecordRateDecision(identity.Tier.String(), resource, "denied")
		l.logger.Info("rate limited",
			zap.String("identity", identity.Key),
			zap.String("tier", identity.Tier.String()),
			zap.Duration("retry_after", decision.RetryAfter),
		)
	}
	return decision, nil
}

// Refund gives back one slot in every window charged for the identity.
func (l *Limiter) Refund(ctx context.Context, identity model.Identity, resource string) error {
	limits, _ := l.config.lookup(identity.Tier, resource)
	scope, windows := l.plan(l.clock.Now(), identity, limits)
	if err := l.counter.Decrement(ctx, scope, resource, windows); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	l.metrics.RecordRateDecision(identity.Tier.String(), resource, "refunded")
	return nil
}

// Peek returns the decision the next request would get, without consuming a slot.
func (l *Limiter) Peek(ctx context.Context, identity model.Identity, resource string) (*model.RateDecision, error) {
	now := l.clock.Now()
	limits, _ := l.config.lookup(identity.Tier, resource)
	scope, windows := l.plan(now, identity, limits)

	counts, err := l.counter.Counts(ctx, scope, resource, windows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	allowed := true
	for i, win := range windows {
		if counts[i] >= win.Limit {
			allowed = false
		}
	}
	return buildDecision(now, windows, counts, allowed), nil
}

// SweepExpired deletes counters older than the retention period.
// The cutoff never reaches into the current day, whose counters are still live.
func (l *Limiter) SweepExpired(ctx context.Context) (int64, error) {
	now := l.clock.Now()
	cutoff := now.Add(-l.config.Retention)
	if dayStart, _ := l.calendar.DayWindow(now); cutoff.After(dayStart) {
		cutoff = dayStart
	}

	n, err := l.counter.Sweep(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	l.metrics.RecordCountersSwept(n)
	return n, nil
}

// buildDecision expects windows[0] and windows[1] to be the identity's hourly
// and daily windows. Remaining quota is the tightest across all windows of a kind.
func buildDecision(now time.Time, windows []outbound.CounterWindow, counts []int64, allowed bool) *model.RateDecision {
	hourly, daily := windows[0], windows[1]
	d := &model.RateDecision{
		Allowed:         allowed,
		LimitHourly:     hourly.Limit,
		LimitDaily:      daily.Limit,
		RemainingHourly: remaining(hourly.Limit, 0),
		RemainingDaily:  remaining(daily.Limit, 0),
		HourlyResetAt:   hourly.End,
		DailyResetAt:    daily.End,
	}
	for i, win := range windows {
		left := remaining(win.Limit, countAt(counts, i))
		switch win.Kind {
		case model.WindowKindHourly:
			d.RemainingHourly = min(d.RemainingHourly, left)
		case model.WindowKindDaily:
			d.RemainingDaily = min(d.RemainingDaily, left)
		}
	}
	if allowed {
		return d
	}

	// Retry once every exhausted window has rolled over
	var retryAt time.Time
	for i, win := range windows {
		if countAt(counts, i) >= win.Limit && win.End.After(retryAt) {
			retryAt = win.End
		}
	}
	if retryAt.After(now) {
		d.RetryAfter = retryAt.Sub(now)
	}
	return d
}

func countAt(counts []int64, i int) int64 {
	if i < len(counts) {
		return counts[i]
	}
	return 0
}

func remaining(limit, count int64) int64 {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}

package model

import "time"

// WindowKind is the granularity of a fixed rate window.
type WindowKind string

const (
	WindowKindHourly WindowKind = "hourly"
	WindowKindDaily  WindowKind = "daily"
)

// String returns the string representation of the window kind.
func (w WindowKind) String() string {
	return string(w)
}

// ResourceGeneration is the rate-limited resource for image generation.
const ResourceGeneration = "generation"

// RateWindowCounter is the persisted count for one identity, resource and window.
// There is at most one live row per (identity, resource, kind); a newer
// window_start replaces the row's count.
type RateWindowCounter struct {
	IdentityKey string     `json:"identity_key"`
	Resource    string     `json:"resource"`
	WindowKind  WindowKind `json:"window_kind"`
	WindowStart time.Time  `json:"window_start"`
	Count       int64      `json:"count"`
}

// RateDecision is the result of a rate check.
type RateDecision struct {
	Allowed         bool          `json:"allowed"`
	LimitHourly     int64         `json:"limit_hourly"`
	LimitDaily      int64         `json:"limit_daily"`
	RemainingHourly int64         `json:"remaining_hourly"`
	RemainingDaily  int64         `json:"remaining_daily"`
	RetryAfter      time.Duration `json:"retry_after"`
	HourlyResetAt   time.Time     `json:"hourly_reset_at"`
	DailyResetAt    time.Time     `json:"daily_reset_at"`
}

package model

import "time"

// UsageStatus represents the lifecycle state of a usage request.
type UsageStatus string

const (
	UsageStatusReserved  UsageStatus = "reserved"
	UsageStatusCommitted UsageStatus = "committed"
	UsageStatusReleased  UsageStatus = "released"
	UsageStatusExpired   UsageStatus = "expired"
)

// String returns the string representation of the status.
func (s UsageStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s UsageStatus) IsValid() bool {
	switch s {
	case UsageStatusReserved, UsageStatusCommitted, UsageStatusReleased, UsageStatusExpired:
		return true
	}
	return false
}

// IsTerminal returns true once the request has been settled one way or the other.
func (s UsageStatus) IsTerminal() bool {
	return s == UsageStatusCommitted || s == UsageStatusReleased || s == UsageStatusExpired
}

// Outcome maps the status to the externally visible settlement outcome.
func (s UsageStatus) Outcome() SettlementOutcome {
	switch s {
	case UsageStatusCommitted:
		return SettlementOutcomeOK
	case UsageStatusReleased, UsageStatusExpired:
		return SettlementOutcomeFailed
	}
	return SettlementOutcomePending
}

// SettlementOutcome is the caller-facing result of a settled request.
type SettlementOutcome string

const (
	SettlementOutcomePending SettlementOutcome = "PENDING"
	SettlementOutcomeOK      SettlementOutcome = "SETTLED_OK"
	SettlementOutcomeFailed  SettlementOutcome = "SETTLED_FAILED"
)

// GeneratedImage is one output of a generation call.
type GeneratedImage struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// UsageRequest is one client-initiated generation attempt, keyed by the
// client-supplied idempotency key.
type UsageRequest struct {
	ID              string           `json:"id" gorm:"primaryKey;size:128"`
	IdentityKey     string           `json:"identity_key" gorm:"not null;size:160;index"`
	Status          UsageStatus      `json:"status" gorm:"not null;size:32;index:idx_usage_status_created,priority:1"`
	CreditsReserved int64            `json:"credits_reserved" gorm:"not null"`
	Prompt          string           `json:"prompt" gorm:"type:text"`
	ImageCount      int              `json:"image_count" gorm:"not null"`
	Outputs         []GeneratedImage `json:"outputs,omitempty" gorm:"serializer:json;type:text"`
	FailureCode     string           `json:"failure_code,omitempty" gorm:"size:64"`
	CreatedAt       time.Time        `json:"created_at" gorm:"not null;index:idx_usage_status_created,priority:2"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`
}

// TableName returns the table name.
func (UsageRequest) TableName() string {
	return "usage_requests"
}

// UsageSettlement carries the fields written when a usage request leaves the reserved state.
type UsageSettlement struct {
	Outputs     []GeneratedImage
	FailureCode string
	SettledAt   time.Time
}

// UsageFilter narrows admin listings of usage requests.
type UsageFilter struct {
	IdentityKey string      `form:"identity_key"`
	Status      UsageStatus `form:"status"`
	PaginationRequest
}

// SettlementRun summarizes one reconciler pass.
type SettlementRun struct {
	Expired       int64 `json:"expired"`
	Committed     int64 `json:"committed"`
	Released      int64 `json:"released"`
	Conflicts     int64 `json:"conflicts"`
	CountersSwept int64 `json:"counters_swept"`
}

// UsageSummary counts usage requests by status.
type UsageSummary struct {
	ByStatus map[UsageStatus]int64 `json:"by_status"`
	Total    int64                 `json:"total"`
}

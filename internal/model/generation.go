package model

// GenerationRequest is one caller request to generate images.
type GenerationRequest struct {
	RequestID string         `json:"request_id"`
	Prompt    string         `json:"prompt"`
	Count     int            `json:"count"`
	Signals   RequestSignals `json:"-"`
}

// GenerationResult is the settled outcome of a generation request.
type GenerationResult struct {
	RequestID          string            `json:"request_id"`
	Outcome            SettlementOutcome `json:"outcome"`
	Images             []GeneratedImage  `json:"images"`
	CreditsCharged     int64             `json:"credits_charged"`
	Replayed           bool              `json:"replayed"`
	Identity           Identity          `json:"-"`
	MintedSessionToken string            `json:"-"`
	RateDecision       *RateDecision     `json:"-"`
}

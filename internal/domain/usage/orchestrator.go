package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/utils/metrics"
	"go.uber.org/zap"
)

// Request stages, recorded as they are reached.
const (
	stageStart            = "start"
	stageIdentityResolved = "identity_resolved"
	stageRateChecked      = "rate_checked"
	stageCreditReserved   = "credit_reserved"
	stageProviderCalled   = "provider_called"
	stageSettledOK        = "settled_ok"
	stageSettledFailed    = "settled_failed"
)

// Orchestrator runs one generation request through identity, quota, credit and provider,
// and settles the reservation exactly once.
type Orchestrator struct {
	resolver inbound.IdentityResolver
	limiter  inbound.RateLimiter
	ledger   inbound.CreditLedger
	requests outbound.UsageRequestDatabasePort
	provider outbound.GenerationProviderPort
	clock    clock.Clock
	config   *Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Compile-time interface check
var _ inbound.UsageOrchestrator = (*Orchestrator)(nil)

// NewOrchestrator creates a new usage orchestrator.
func NewOrchestrator(
	resolver inbound.IdentityResolver,
	limiter inbound.RateLimiter,
	creditLedger inbound.CreditLedger,
	requests outbound.UsageRequestDatabasePort,
	provider outbound.GenerationProviderPort,
	clk clock.Clock,
	cfg *Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		resolver: resolver,
		limiter:  limiter,
		ledger:   creditLedger,
		requests: requests,
		provider: provider,
		clock:    clk,
		config:   cfg,
		metrics:  m,
		logger:   logger.Named("usage"),
	}
}

// Handle runs the request. A request id that was already seen is replayed
// from its stored outcome without touching quota or credit again.
func (o *Orchestrator) Handle(ctx context.Context, req *model.GenerationRequest) (*model.GenerationResult, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	o.metrics.RecordStage(stageStart)

	existing, err := o.requests.GetByID(ctx, req.RequestID)
	if err != nil {
		o.logger.Error("failed to look up usage request", zap.String("request_id", req.RequestID), zap.Error(err))
		return nil, fmt.Errorf("%w: usage lookup", ErrStorageUnavailable)
	}

	resolution := o.resolver.Resolve(ctx, &req.Signals)
	identity := resolution.Identity
	o.metrics.RecordStage(stageIdentityResolved)

	result := &model.GenerationResult{
		RequestID:          req.RequestID,
		Outcome:            model.SettlementOutcomePending,
		Identity:           identity,
		MintedSessionToken: resolution.MintedSessionToken,
	}

	if existing != nil {
		return o.replay(existing, req, result)
	}

	// The ledger may know the id without a usage row: the row write failed, or
	// another submission is between reserving and recording.
	status, err := o.ledger.ReservationStatus(ctx, req.RequestID)
	if err != nil {
		o.logger.Error("failed to look up reservation", zap.String("request_id", req.RequestID), zap.Error(err))
		return result, fmt.Errorf("%w: reservation lookup", ErrStorageUnavailable)
	}
	if status.State != model.ReservationStateNone {
		return o.replayReservation(status, result)
	}

	decision, err := o.limiter.CheckAndIncrement(ctx, identity, model.ResourceGeneration)
	if err != nil {
		o.logger.Error("rate check failed, denying",
			zap.String("identity", identity.Key),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: rate check", ErrStorageUnavailable)
	}
	result.RateDecision = decision
	if !decision.Allowed {
		return result, &RateLimitedError{RetryAfter: decision.RetryAfter, Decision: decision}
	}
	o.metrics.RecordStage(stageRateChecked)

	amount := int64(req.Count) * o.config.CreditsPerImage
	if _, err := o.ledger.Reserve(ctx, identity, amount, req.RequestID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredit):
			return result, ErrInsufficientCredit
		case errors.Is(err, ledger.ErrDuplicateReservation):
			o.refundSlot(ctx, identity)
			return result, ErrRequestInProgress
		default:
			o.logger.Error("credit reservation failed",
				zap.String("identity", identity.Key),
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
			return result, fmt.Errorf("%w: reserve", ErrStorageUnavailable)
		}
	}
	o.metrics.RecordStage(stageCreditReserved)

	usageReq := &model.UsageRequest{
		ID:              req.RequestID,
		IdentityKey:     identity.Key,
		Status:          model.UsageStatusReserved,
		CreditsReserved: amount,
		Prompt:          req.Prompt,
		ImageCount:      req.Count,
		CreatedAt:       o.clock.Now(),
	}
	if err := o.requests.Create(ctx, usageReq); err != nil {
		if errors.Is(err, outbound.ErrDuplicateKey) {
			// The reconciler settles the reservation against the existing row
			return result, ErrRequestInProgress
		}
		o.logger.Error("failed to record usage request, releasing reservation",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		o.releaseDetached(ctx, req.RequestID)
		return result, fmt.Errorf("%w: record usage", ErrStorageUnavailable)
	}

	images, callErr := o.callProvider(ctx, req)
	o.metrics.RecordStage(stageProviderCalled)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.SettleTimeout)
	defer cancel()

	if callErr != nil {
		return o.settleFailed(settleCtx, usageReq, result, callErr)
	}
	return o.settleOK(settleCtx, usageReq, result, images)
}

func (o *Orchestrator) validate(req *model.GenerationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}
	if len(req.RequestID) > maxRequestIDLength {
		return fmt.Errorf("%w: request id longer than %d", ErrInvalidRequest, maxRequestIDLength)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Prompt) > o.config.MaxPromptLength {
		return fmt.Errorf("%w: prompt longer than %d", ErrInvalidRequest, o.config.MaxPromptLength)
	}
	if req.Count < 1 || req.Count > o.config.MaxImages {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, o.config.MaxImages)
	}
	return nil
}

// replay returns the stored outcome of a request seen before.
func (o *Orchestrator) replay(existing *model.UsageRequest, req *model.GenerationRequest, result *model.GenerationResult) (*model.GenerationResult, error) {
	if ownedByOther(existing.IdentityKey, result.Identity) {
		o.logger.Warn("request id replayed by another identity",
			zap.String("request_id", existing.ID),
			zap.String("owner", existing.IdentityKey),
			zap.String("identity", result.Identity.Key),
		)
		return nil, ErrIdempotencyConflict
	}
	if existing.Prompt != req.Prompt || existing.ImageCount != req.Count {
		return nil, ErrIdempotencyConflict
	}

	result.Replayed = true
	result.Outcome = existing.Status.Outcome()
	switch existing.Status {
	case model.UsageStatusCommitted:
		result.Images = existing.Outputs
		result.CreditsCharged = existing.CreditsReserved
		return result, nil
	case model.UsageStatusReleased, model.UsageStatusExpired:
		return result, failureError(existing.FailureCode)
	default:
		return result, ErrRequestInProgress
	}
}

// replayReservation answers a request id that has a reservation but no usage row.
// A released reservation is final; anything else is still being worked on.
func (o *Orchestrator) replayReservation(status *model.ReservationStatus, result *model.GenerationResult) (*model.GenerationResult, error) {
	if ownedByOther(status.IdentityKey, result.Identity) {
		o.logger.Warn("request id replayed by another identity",
			zap.String("request_id", result.RequestID),
			zap.String("owner", status.IdentityKey),
			zap.String("identity", result.Identity.Key),
		)
		return nil, ErrIdempotencyConflict
	}

	result.Replayed = true
	if status.State == model.ReservationStateReleased {
		result.Outcome = model.SettlementOutcomeFailed
		return result, ErrProviderTransient
	}
	return result, ErrRequestInProgress
}

// ownedByOther reports whether an account-owned request id is presented by someone else.
// Anonymous request ids may be replayed by any identity.
func ownedByOther(owner string, identity model.Identity) bool {
	return strings.HasPrefix(owner, model.AccountKeyPrefix) && owner != identity.Key
}

// refundSlot gives back the rate slot of a submission that lost the race for its request id.
func (o *Orchestrator) refundSlot(ctx context.Context, identity model.Identity) {
	if err := o.limiter.Refund(ctx, identity, model.ResourceGeneration); err != nil {
		o.logger.Warn("failed to refund rate slot",
			zap.String("identity", identity.Key),
			zap.Error(err),
		)
	}
}

// callProvider runs the provider call under the hard timeout.
func (o *Orchestrator) callProvider(ctx context.Context, req *model.GenerationRequest) ([]model.GeneratedImage, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.ProviderTimeout)
	defer cancel()

	start := o.clock.Now()
	images, err := o.provider.Generate(callCtx, req.Prompt, req.Count)
	duration := o.clock.Now().Sub(start)

	switch {
	case err != nil:
		o.metrics.RecordProviderCall("error", duration)
		return nil, err
	case len(images) == 0:
		o.metrics.RecordProviderCall("empty", duration)
		return nil, outbound.NewTransientProviderError("empty_result", errors.New("provider returned no images"))
	default:
		o.metrics.RecordProviderCall("ok", duration)
		return images, nil
	}
}

// settleOK commits the reservation. If the reconciler already expired the request,
// the late result is discarded.
func (o *Orchestrator) settleOK(ctx context.Context, usageReq *model.UsageRequest, result *model.GenerationResult, images []model.GeneratedImage) (*model.GenerationResult, error) {
	moved, err := o.requests.Transition(ctx, usageReq.ID, model.UsageStatusReserved, model.UsageStatusCommitted, &model.UsageSettlement{
		Outputs:   images,
		SettledAt: o.clock.Now(),
	})
	if err != nil {
		// The row stays reserved; the reconciler expires and refunds it.
		o.logger.Error("failed to commit usage request",
			zap.String("request_id", usageReq.ID),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: settle", ErrStorageUnavailable)
	}
	if !moved {
		o.metrics.RecordConflict("late_result")
		o.metrics.RecordSettlement(string(model.SettlementOutcomeFailed), "late_result")
		o.logger.Warn("discarding provider result for expired request",
			zap.String("request_id", usageReq.ID),
			zap.String("identity", usageReq.IdentityKey),
		)
		result.Outcome = model.SettlementOutcomeFailed
		return result, ErrProviderTransient
	}

	if err := o.ledger.Commit(ctx, usageReq.ID); err != nil {
		// Usage is committed; the reconciler completes the ledger side.
		o.logger.Error("ledger commit failed after usage commit",
			zap.String("request_id", usageReq.ID),
			zap.Error(err),
		)
	}

	o.metrics.RecordStage(stageSettledOK)
	o.metrics.RecordSettlement(string(model.SettlementOutcomeOK), "provider_ok")
	o.logger.Info("generation settled",
		zap.String("request_id", usageReq.ID),
		zap.String("identity", usageReq.IdentityKey),
		zap.Int64("credits", usageReq.CreditsReserved),
		zap.Int("images", len(images)),
	)

	result.Outcome = model.SettlementOutcomeOK
	result.Images = images
	result.CreditsCharged = usageReq.CreditsReserved
	return result, nil
}

// settleFailed releases the reservation and maps the provider error for the caller.
func (o *Orchestrator) settleFailed(ctx context.Context, usageReq *model.UsageRequest, result *model.GenerationResult, callErr error) (*model.GenerationResult, error) {
	kind := failureKindTransient
	detail := outbound.ProviderErrorCode(callErr, "provider_error")
	switch {
	case outbound.IsPermanentProviderError(callErr):
		kind = failureKindPermanent
	case errors.Is(callErr, context.DeadlineExceeded):
		detail = "timeout"
	case errors.Is(callErr, context.Canceled):
		detail = "canceled"
	}
	code := FailureCode(kind, detail)

	o.logger.Warn("generation failed",
		zap.String("request_id", usageReq.ID),
		zap.String("identity", usageReq.IdentityKey),
		zap.String("failure", code),
		zap.Error(callErr),
	)

	moved, err := o.requests.Transition(ctx, usageReq.ID, model.UsageStatusReserved, model.UsageStatusReleased, &model.UsageSettlement{
		FailureCode: code,
		SettledAt:   o.clock.Now(),
	})
	if err != nil {
		// The row stays reserved for the reconciler; the credit goes back now.
		o.logger.Error("failed to release usage request",
			zap.String("request_id", usageReq.ID),
			zap.Error(err),
		)
	}
	if err == nil && !moved {
		o.logger.Info("usage request already settled by reconciler", zap.String("request_id", usageReq.ID))
	} else if err := o.ledger.Release(ctx, usageReq.ID); err != nil {
		o.logger.Error("ledger release failed",
			zap.String("request_id", usageReq.ID),
			zap.Error(err),
		)
		// Still pending: the reconciler releases it after the grace period
		return result, fmt.Errorf("%w: release", ErrStorageUnavailable)
	}

	o.metrics.RecordStage(stageSettledFailed)
	o.metrics.RecordSettlement(string(model.SettlementOutcomeFailed), detail)
	result.Outcome = model.SettlementOutcomeFailed
	return result, failureError(code)
}

// releaseDetached releases a reservation whose usage row could not be written.
func (o *Orchestrator) releaseDetached(ctx context.Context, reference string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.SettleTimeout)
	defer cancel()
	if err := o.ledger.Release(releaseCtx, reference); err != nil {
		o.logger.Error("failed to release reservation",
			zap.String("request_id", reference),
			zap.Error(err),
		)
	}
}

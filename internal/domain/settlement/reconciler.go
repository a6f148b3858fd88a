package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uniedit/creditgate/internal/domain/ledger"
	"github.com/uniedit/creditgate/internal/domain/usage"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/clock"
	"github.com/uniedit/creditgate/internal/shared/config"
	"github.com/uniedit/creditgate/internal/utils/metrics"
	"go.uber.org/zap"
)

// Config holds settlement reconciler configuration.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// GracePeriod is how long a reservation may stay unsettled before it is forced.
	// It must exceed the provider timeout plus the settle timeout.
	GracePeriod time.Duration

	// BatchSize bounds the rows handled per pass.
	BatchSize int

	// RunTimeout bounds one sweep.
	RunTimeout time.Duration
}

// DefaultConfig returns default reconciler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:    time.Minute,
		GracePeriod: 5 * time.Minute,
		BatchSize:   100,
		RunTimeout:  30 * time.Second,
	}
}

// ConfigFrom builds the reconciler configuration, keeping defaults for unset values.
func ConfigFrom(cfg *config.SettlementConfig) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Interval > 0 {
		out.Interval = cfg.Interval
	}
	if cfg.GracePeriod > 0 {
		out.GracePeriod = cfg.GracePeriod
	}
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	return out
}

// Reconciler settles what request handling left behind: requests whose
// process died mid-call, ledger settlements that failed after the usage row
// moved, and expired rate counters.
type Reconciler struct {
	requests outbound.UsageRequestDatabasePort
	ledger   inbound.CreditLedger
	limiter  inbound.RateLimiter
	clock    clock.Clock
	config   *Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Compile-time interface check
var _ inbound.SettlementReconciler = (*Reconciler)(nil)

// NewReconciler creates a new settlement reconciler.
func NewReconciler(
	requests outbound.UsageRequestDatabasePort,
	creditLedger inbound.CreditLedger,
	limiter inbound.RateLimiter,
	clk clock.Clock,
	cfg *Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Reconciler{
		requests: requests,
		ledger:   creditLedger,
		limiter:  limiter,
		clock:    clk,
		config:   cfg,
		metrics:  m,
		logger:   logger.Named("settlement"),
	}
}

// Start runs a sweep every interval until Stop is called or ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.logger.Info("starting settlement reconciler",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("grace_period", r.config.GracePeriod),
	)

	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)
}

// Stop stops the sweep loop and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("settlement reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, r.config.RunTimeout)
			if _, err := r.RunOnce(runCtx); err != nil {
				r.logger.Warn("settlement sweep incomplete", zap.Error(err))
			}
			cancel()
		}
	}
}

// RunOnce runs one sweep. Items that fail are left for the next sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (*model.SettlementRun, error) {
	run := &model.SettlementRun{}
	cutoff := r.clock.Now().Add(-r.config.GracePeriod)

	err := errors.Join(
		r.expireStuck(ctx, cutoff, run),
		r.settlePending(ctx, cutoff, run),
		r.sweepCounters(ctx, run),
	)
	r.metrics.RecordReconcilerRun(err != nil)

	if run.Expired+run.Committed+run.Released+run.Conflicts+run.CountersSwept > 0 {
		r.logger.Info("settlement sweep",
			zap.Int64("expired", run.Expired),
			zap.Int64("committed", run.Committed),
			zap.Int64("released", run.Released),
			zap.Int64("conflicts", run.Conflicts),
			zap.Int64("counters_swept", run.CountersSwept),
		)
	}
	return run, err
}

// expireStuck moves usage rows still reserved past the grace period to expired
// and refunds them. Once expired, a late provider result can no longer commit.
func (r *Reconciler) expireStuck(ctx context.Context, cutoff time.Time, run *model.SettlementRun) error {
	stuck, err := r.requests.ListByStatusBefore(ctx, model.UsageStatusReserved, cutoff, r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list stuck requests: %w", err)
	}

	var errs []error
	for _, req := range stuck {
		moved, err := r.requests.Transition(ctx, req.ID, model.UsageStatusReserved, model.UsageStatusExpired, &model.UsageSettlement{
			FailureCode: usage.ExpiredFailureCode,
			SettledAt:   r.clock.Now(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", req.ID, err))
			continue
		}
		if !moved {
			// Settled by its request in the meantime
			continue
		}

		if err := r.release(ctx, req.ID, run); err != nil {
			errs = append(errs, err)
			continue
		}
		run.Expired++
		r.metrics.RecordReconciled("expired")
		r.metrics.RecordSettlement(string(model.SettlementOutcomeFailed), "expired")
		r.logger.Info("expired stuck request",
			zap.String("request_id", req.ID),
			zap.String("identity", req.IdentityKey),
			zap.Time("created_at", req.CreatedAt),
		)
	}
	return errors.Join(errs...)
}

// settlePending finishes ledger reservations whose usage row already decided
// the outcome, or that never got a usage row.
func (r *Reconciler) settlePending(ctx context.Context, cutoff time.Time, run *model.SettlementRun) error {
	pending, err := r.ledger.PendingReservations(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending reservations: %w", err)
	}

	var errs []error
	for _, res := range pending {
		req, err := r.requests.GetByID(ctx, res.Reference)
		if err != nil {
			errs = append(errs, fmt.Errorf("load request %s: %w", res.Reference, err))
			continue
		}

		switch {
		case req != nil && req.Status == model.UsageStatusReserved:
			// Still in flight or about to be expired
			continue

		case req != nil && req.Status == model.UsageStatusCommitted:
			err := r.ledger.Commit(ctx, res.Reference)
			switch {
			case err == nil:
				run.Committed++
				r.metrics.RecordReconciled("committed")
				r.logger.Info("committed half-settled reservation", zap.String("reference", res.Reference))
			case errors.Is(err, ledger.ErrReservationReleased):
				run.Conflicts++
				r.metrics.RecordReconciled("conflict")
				r.logger.Error("usage committed but reservation released",
					zap.String("reference", res.Reference),
					zap.String("identity", res.IdentityKey),
				)
			default:
				errs = append(errs, fmt.Errorf("commit %s: %w", res.Reference, err))
			}

		default:
			if err := r.release(ctx, res.Reference, run); err != nil {
				errs = append(errs, err)
				continue
			}
			run.Released++
			r.metrics.RecordReconciled("released")
			r.logger.Info("released orphaned reservation",
				zap.String("reference", res.Reference),
				zap.Bool("has_request", req != nil),
			)
		}
	}
	return errors.Join(errs...)
}

// release refunds a reservation. A reservation the ledger already committed is
// counted as a conflict and left alone.
func (r *Reconciler) release(ctx context.Context, reference string, run *model.SettlementRun) error {
	err := r.ledger.Release(ctx, reference)
	switch {
	case err == nil, errors.Is(err, ledger.ErrReservationNotFound):
		return nil
	case errors.Is(err, ledger.ErrReservationCommitted):
		run.Conflicts++
		r.metrics.RecordReconciled("conflict")
		r.logger.Warn("reservation already committed, not releasing", zap.String("reference", reference))
		return nil
	default:
		return fmt.Errorf("release %s: %w", reference, err)
	}
}

func (r *Reconciler) sweepCounters(ctx context.Context, run *model.SettlementRun) error {
	if r.limiter == nil {
		return nil
	}
	n, err := r.limiter.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep counters: %w", err)
	}
	run.CountersSwept = n
	return nil
}

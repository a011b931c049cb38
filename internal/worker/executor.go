package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ipguardian/internal/bridge"
	"ipguardian/internal/metrics"
	"ipguardian/internal/models"
)

// Executor applies status lookups to payment records
type Executor struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewExecutor creates a new payment executor
func NewExecutor(manager *WorkerManager) *Executor {
	return &Executor{
		manager: manager,
		logger:  manager.logger.Named("executor"),
	}
}

// Reconcile looks up one pending payment and applies the outcome.
// Terminal results are written through the sticky status update, so a record
// that reached a terminal status elsewhere in the meantime is left alone.
func (e *Executor) Reconcile(ctx context.Context, payment *models.Payment) {
	cfg := e.manager.cfg
	now := e.manager.now()

	if cfg.MaxPendingAge > 0 && now.Sub(payment.CreatedAt) > cfg.MaxPendingAge {
		e.logger.Warn("Payment exceeded max pending age, marking as stale",
			zap.String("payment_id", payment.PaymentID),
			zap.Time("created_at", payment.CreatedAt))
		e.markStale(ctx, payment)
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, cfg.LookupTimeout)
	defer cancel()

	result, err := e.manager.source.Lookup(lookupCtx, payment)
	if err != nil {
		metrics.ReconcilerLookups.WithLabelValues("error").Inc()
		e.handleError(ctx, payment, err)
		return
	}

	if !result.Status.IsTerminal() {
		metrics.ReconcilerLookups.WithLabelValues("pending").Inc()
		if err := e.manager.store.ScheduleNextCheck(ctx, payment.PaymentID, now); err != nil {
			e.logger.Error("Failed to schedule next check",
				zap.String("payment_id", payment.PaymentID),
				zap.Error(err))
		}
		return
	}

	metrics.ReconcilerLookups.WithLabelValues("terminal").Inc()
	applied, err := e.manager.payments.UpdateStatus(ctx, payment.PaymentID, result.Status, models.SettlementObserved)
	if err != nil {
		e.logger.Error("Failed to apply observed status",
			zap.String("payment_id", payment.PaymentID),
			zap.String("status", string(result.Status)),
			zap.Error(err))
		return
	}
	if !applied {
		e.logger.Debug("Observed status ignored, payment already terminal",
			zap.String("payment_id", payment.PaymentID),
			zap.String("status", string(result.Status)),
			zap.String("source", result.Source))
		return
	}

	e.logger.Info("Payment resolved",
		zap.String("payment_id", payment.PaymentID),
		zap.String("status", string(result.Status)),
		zap.String("source", result.Source),
		zap.String("detail", result.Detail))
}

// handleError records a failed lookup with exponential backoff and gives up
// after the configured number of consecutive failures.
func (e *Executor) handleError(ctx context.Context, payment *models.Payment, lookupErr error) {
	cfg := e.manager.cfg
	attempt := payment.LookupAttempts + 1
	delay := Backoff(attempt, cfg.BaseBackoff, cfg.MaxBackoff)

	level := e.logger.Warn
	if errors.Is(lookupErr, bridge.ErrNoReference) {
		level = e.logger.Debug
	}
	level("Status lookup failed",
		zap.String("payment_id", payment.PaymentID),
		zap.Int("attempt", attempt),
		zap.Error(lookupErr))

	attempts, err := e.manager.store.RecordLookupFailure(ctx, payment.PaymentID, lookupErr.Error(), e.manager.now().Add(delay))
	if err != nil {
		e.logger.Error("Failed to record lookup failure",
			zap.String("payment_id", payment.PaymentID),
			zap.Error(err))
		return
	}
	if attempts == 0 {
		// no longer pending
		return
	}

	if attempts >= cfg.MaxAttempts {
		e.logger.Warn("Max lookup attempts exceeded, marking as stale",
			zap.String("payment_id", payment.PaymentID),
			zap.Int("lookup_attempts", attempts))
		e.markStale(ctx, payment)
		return
	}

	e.logger.Debug("Scheduled for retry",
		zap.String("payment_id", payment.PaymentID),
		zap.Duration("backoff_delay", delay),
		zap.Int("attempt", attempts))
}

// markStale gives up on a payment. Its settlement is kept: nothing external
// reported the outcome.
func (e *Executor) markStale(ctx context.Context, payment *models.Payment) {
	applied, err := e.manager.store.UpdatePaymentStatus(ctx, payment.PaymentID, models.PaymentStatusStale, payment.Settlement)
	if err != nil {
		e.logger.Error("Failed to mark as stale",
			zap.String("payment_id", payment.PaymentID),
			zap.Error(err))
		return
	}
	if applied {
		metrics.PaymentTransitions.WithLabelValues(string(models.PaymentStatusStale), string(payment.Settlement)).Inc()
	}
}

// Backoff returns base * 2^(attempt-1), capped at ceiling
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

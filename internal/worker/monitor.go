package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ipguardian/internal/metrics"
)

// Monitor polls for due pending payments and fans their lookups out to the executor
type Monitor struct {
	manager *WorkerManager
	logger  *zap.Logger

	ticks atomic.Int64
}

// NewMonitor creates a new payment monitor
func NewMonitor(manager *WorkerManager) *Monitor {
	return &Monitor{
		manager: manager,
		logger:  manager.logger.Named("monitor"),
	}
}

// Run starts the monitor polling loop
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started",
		zap.Duration("poll_interval", m.manager.cfg.Interval))

	ticker := time.NewTicker(m.manager.cfg.Interval)
	defer ticker.Stop()

	// Initial poll
	m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation cycle and returns the number of payments it looked at.
// Lookups for distinct payments run concurrently, bounded by the configured concurrency.
func (m *Monitor) Tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	m.ticks.Add(1)
	metrics.ReconcilerTicksTotal.Inc()

	start := time.Now()
	defer func() {
		metrics.ReconcilerTickLatency.Observe(time.Since(start).Seconds())
	}()

	cfg := m.manager.cfg
	due, err := m.manager.store.GetDuePendingPayments(ctx, m.manager.now(), cfg.BatchSize)
	if err != nil {
		metrics.ReconcilerTickErrors.Inc()
		m.logger.Error("Failed to get due pending payments", zap.Error(err))
		return 0
	}

	if len(due) == 0 {
		return 0
	}

	m.logger.Debug("Reconciling pending payments", zap.Int("count", len(due)))

	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)

	for i := range due {
		payment := &due[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			m.manager.executor.Reconcile(ctx, payment)
			return nil
		})
	}
	_ = g.Wait()

	return len(due)
}

// Ticks returns how many cycles have run
func (m *Monitor) Ticks() int64 {
	return m.ticks.Load()
}

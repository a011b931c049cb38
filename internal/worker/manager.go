package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ipguardian/internal/bridge"
	"ipguardian/internal/config"
	"ipguardian/internal/database"
	"ipguardian/internal/service"
)

// Defaults applied when the reconcile config leaves a value unset
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultConcurrency   = 4
	DefaultMaxAttempts   = 5
	DefaultBaseBackoff   = 30 * time.Second
	DefaultMaxBackoff    = 10 * time.Minute
	DefaultLookupTimeout = 15 * time.Second
	DefaultBatchSize     = 200
)

// WorkerManager owns the lifecycle of the polling reconciler
type WorkerManager struct {
	store    database.PaymentStore
	payments *service.PaymentService
	source   bridge.StatusSource
	cfg      config.ReconcileConfig
	logger   *zap.Logger
	now      func() time.Time

	monitor  *Monitor
	executor *Executor

	// Control
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorkerManager creates a new worker manager with all required dependencies
func NewWorkerManager(
	store database.PaymentStore,
	payments *service.PaymentService,
	source bridge.StatusSource,
	cfg config.ReconcileConfig,
	logger *zap.Logger,
) *WorkerManager {
	logger = logger.Named("worker")

	ctx, cancel := context.WithCancel(context.Background())

	wm := &WorkerManager{
		store:    store,
		payments: payments,
		source:   source,
		cfg:      withDefaults(cfg),
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	wm.executor = NewExecutor(wm)
	wm.monitor = NewMonitor(wm)

	return wm
}

func withDefaults(cfg config.ReconcileConfig) config.ReconcileConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.BaseBackoff {
			cfg.MaxBackoff = cfg.BaseBackoff
		}
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return cfg
}

// Start launches the monitor goroutine. Calling Start twice is a no-op.
func (wm *WorkerManager) Start() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if wm.started {
		return
	}
	wm.started = true

	wm.logger.Info("Starting worker manager",
		zap.Duration("poll_interval", wm.cfg.Interval),
		zap.Int("concurrency", wm.cfg.Concurrency),
		zap.Int("max_attempts", wm.cfg.MaxAttempts))

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.monitor.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown cancels the reconciler and waits up to timeout for in-flight
// lookups to finish.
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	// Signal workers to stop
	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
		return nil
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
		return fmt.Errorf("worker shutdown timed out after %s", timeout)
	}
}

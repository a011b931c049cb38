package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ipguardian/internal/bridge"
	"ipguardian/internal/config"
	"ipguardian/internal/database"
	"ipguardian/internal/models"
	"ipguardian/internal/registry"
	"ipguardian/internal/service"
)

type lookupResult struct {
	status models.PaymentStatus
	err    error
}

type fakeSource struct {
	mu      sync.Mutex
	results map[string]lookupResult
	calls   atomic.Int64
	hook    func(p *models.Payment)
}

func (f *fakeSource) Lookup(_ context.Context, p *models.Payment) (*bridge.Lookup, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook(p)
	}
	f.mu.Lock()
	res, ok := f.results[p.PaymentID]
	f.mu.Unlock()
	if !ok {
		return nil, bridge.ErrNoReference
	}
	if res.err != nil {
		return nil, res.err
	}
	return &bridge.Lookup{Status: res.status, Source: "fake"}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    *database.MemoryStore
	payments *service.PaymentService
	source   *fakeSource
	manager  *WorkerManager
	clock    *testClock
}

func newHarness(t *testing.T, cfg config.ReconcileConfig) *harness {
	t.Helper()
	return newHarnessWithLogger(t, cfg, zap.NewNop())
}

func newHarnessWithLogger(t *testing.T, cfg config.ReconcileConfig, logger *zap.Logger) *harness {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)

	store := database.NewMemoryStore()
	payments := service.NewPaymentService(store, reg, zap.NewNop())
	source := &fakeSource{results: map[string]lookupResult{}}
	clock := &testClock{now: time.Now().Add(time.Second)}

	wm := NewWorkerManager(store, payments, source, cfg, logger)
	wm.now = clock.Now

	return &harness{store: store, payments: payments, source: source, manager: wm, clock: clock}
}

func (h *harness) create(t *testing.T, id string) {
	t.Helper()
	_, err := h.payments.Create(context.Background(), service.NewPayment{
		PaymentID:     id,
		IDOrigin:      models.IDOriginBridge,
		SourceChainID: 1315,
		DestChainID:   1,
		Amount:        "1000000000000000000",
		Token:         "0x0000000000000000000000000000000000000000",
		Recipient:     "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	})
	require.NoError(t, err)
}

func (h *harness) status(t *testing.T, id string) *models.Payment {
	t.Helper()
	p, err := h.store.GetPayment(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestTick_ResolvesAndKeepsFailedLookupsPending(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{Concurrency: 3})
	for _, id := range []string{"a", "b", "c"} {
		h.create(t, id)
	}
	h.source.results["a"] = lookupResult{status: models.PaymentStatusConfirmed}
	h.source.results["b"] = lookupResult{err: errors.New("bridge API unavailable")}
	h.source.results["c"] = lookupResult{status: models.PaymentStatusConfirmed}

	n := h.manager.monitor.Tick(context.Background())
	assert.Equal(t, 3, n)

	a := h.status(t, "a")
	assert.Equal(t, models.PaymentStatusConfirmed, a.Status)
	assert.Equal(t, models.SettlementObserved, a.Settlement)
	assert.Equal(t, models.PaymentStatusConfirmed, h.status(t, "c").Status)

	b := h.status(t, "b")
	assert.Equal(t, models.PaymentStatusPending, b.Status)
	assert.Equal(t, models.SettlementOptimistic, b.Settlement)
	assert.Equal(t, 1, b.LookupAttempts)
	require.NotNil(t, b.LastError)
	assert.Equal(t, "bridge API unavailable", *b.LastError)
	assert.True(t, b.NextCheckAt.After(h.clock.Now()), "failed lookup is backed off")
}

func TestTick_PendingResultReschedulesAndResetsFailures(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{BaseBackoff: time.Minute, MaxBackoff: time.Hour})
	h.create(t, "p")

	h.source.results["p"] = lookupResult{err: errors.New("timeout")}
	h.manager.monitor.Tick(context.Background())
	assert.Equal(t, 1, h.status(t, "p").LookupAttempts)

	h.clock.Advance(2 * time.Minute)
	h.source.results["p"] = lookupResult{status: models.PaymentStatusPending}
	h.manager.monitor.Tick(context.Background())

	p := h.status(t, "p")
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, models.SettlementOptimistic, p.Settlement, "pending lookups do not count as observed")
	assert.Equal(t, 0, p.LookupAttempts)
	assert.Nil(t, p.LastError)
}

func TestTick_StaleAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	})
	h.create(t, "flaky")
	h.source.results["flaky"] = lookupResult{err: errors.New("503")}

	for i := 1; i <= 3; i++ {
		h.manager.monitor.Tick(context.Background())
		h.clock.Advance(time.Minute)
	}

	p := h.status(t, "flaky")
	assert.Equal(t, models.PaymentStatusStale, p.Status)
	assert.Equal(t, models.SettlementOptimistic, p.Settlement)
	assert.Equal(t, int64(3), h.source.calls.Load())

	// stale is terminal: no more lookups, manual updates ignored
	h.manager.monitor.Tick(context.Background())
	assert.Equal(t, int64(3), h.source.calls.Load())
	applied, err := h.payments.UpdateStatus(context.Background(), "flaky", models.PaymentStatusConfirmed, models.SettlementManual)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestTick_BackoffDefersRetry(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{BaseBackoff: time.Minute, MaxBackoff: time.Hour})
	h.create(t, "p")
	h.source.results["p"] = lookupResult{err: errors.New("down")}

	h.manager.monitor.Tick(context.Background())
	h.clock.Advance(30 * time.Second)
	assert.Equal(t, 0, h.manager.monitor.Tick(context.Background()), "not due during backoff")

	h.clock.Advance(31 * time.Second)
	assert.Equal(t, 1, h.manager.monitor.Tick(context.Background()))
	assert.Equal(t, int64(2), h.source.calls.Load())
}

func TestTick_LocalRecordsWithoutReferenceGoStale(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{MaxAttempts: 2, BaseBackoff: time.Second, MaxBackoff: time.Second})
	h.create(t, "orphan") // no fake result: ErrNoReference

	h.manager.monitor.Tick(context.Background())
	h.clock.Advance(2 * time.Second)
	h.manager.monitor.Tick(context.Background())

	assert.Equal(t, models.PaymentStatusStale, h.status(t, "orphan").Status)
}

func TestTick_MaxPendingAge(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{MaxPendingAge: time.Hour})
	h.create(t, "old")
	h.source.results["old"] = lookupResult{status: models.PaymentStatusPending}

	h.clock.Advance(2 * time.Hour)
	h.manager.monitor.Tick(context.Background())

	assert.Equal(t, models.PaymentStatusStale, h.status(t, "old").Status)
	assert.Equal(t, int64(0), h.source.calls.Load(), "expired payments are not looked up")
}

func TestTick_TerminalStatusNotOverwrittenByConcurrentResult(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{})
	h.create(t, "p")
	h.source.results["p"] = lookupResult{status: models.PaymentStatusFailed}
	h.source.hook = func(p *models.Payment) {
		// a manual refresh lands while the lookup is in flight
		_, err := h.payments.UpdateStatus(context.Background(), p.PaymentID, models.PaymentStatusConfirmed, models.SettlementManual)
		assert.NoError(t, err)
	}

	h.manager.monitor.Tick(context.Background())

	p := h.status(t, "p")
	assert.Equal(t, models.PaymentStatusConfirmed, p.Status)
	assert.Equal(t, models.SettlementManual, p.Settlement)
}

func TestTick_IgnoredResultIsNotLoggedAsResolved(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newHarnessWithLogger(t, config.ReconcileConfig{}, zap.New(core))
	h.create(t, "p")
	h.source.results["p"] = lookupResult{status: models.PaymentStatusFailed}
	h.source.hook = func(p *models.Payment) {
		_, err := h.payments.UpdateStatus(context.Background(), p.PaymentID, models.PaymentStatusConfirmed, models.SettlementManual)
		assert.NoError(t, err)
	}

	h.manager.monitor.Tick(context.Background())

	assert.Zero(t, logs.FilterMessage("Payment resolved").Len())
	ignored := logs.FilterMessage("Observed status ignored, payment already terminal").All()
	require.Len(t, ignored, 1)
	assert.Equal(t, zapcore.DebugLevel, ignored[0].Level)
}

func TestTick_AppliedResultIsLoggedAsResolved(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarnessWithLogger(t, config.ReconcileConfig{}, zap.New(core))
	h.create(t, "p")
	h.source.results["p"] = lookupResult{status: models.PaymentStatusConfirmed}

	h.manager.monitor.Tick(context.Background())

	assert.Equal(t, 1, logs.FilterMessage("Payment resolved").Len())
}

func TestTick_CancelledContextDoesNothing(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{})
	h.create(t, "p")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, h.manager.monitor.Tick(ctx))
	assert.Equal(t, int64(0), h.source.calls.Load())
}

func TestWorkerManager_ShutdownStopsPolling(t *testing.T) {
	h := newHarness(t, config.ReconcileConfig{Interval: 10 * time.Millisecond})

	h.manager.Start()
	h.manager.Start() // second call is a no-op

	require.Eventually(t, func() bool {
		return h.manager.monitor.Ticks() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.manager.Shutdown(time.Second))
	after := h.manager.monitor.Ticks()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, h.manager.monitor.Ticks())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{60, 10 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Backoff(tt.attempt, 30*time.Second, 10*time.Minute), "attempt %d", tt.attempt)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(config.ReconcileConfig{})
	assert.Equal(t, DefaultPollInterval, cfg.Interval)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultBaseBackoff, cfg.BaseBackoff)
	assert.Equal(t, DefaultMaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)

	cfg = withDefaults(config.ReconcileConfig{BaseBackoff: time.Hour, MaxBackoff: time.Minute})
	assert.Equal(t, time.Hour, cfg.MaxBackoff)
}

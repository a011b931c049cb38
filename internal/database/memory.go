package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ipguardian/internal/models"
)

// MemoryStore is a volatile PaymentStore. Records are kept most-recent-first.
type MemoryStore struct {
	mu       sync.Mutex
	payments []*models.Payment
	byID     map[string]*models.Payment
	seq      int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*models.Payment),
		now:  time.Now,
	}
}

// WithClock overrides the store clock, used by tests
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[payment.PaymentID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePayment, payment.PaymentID)
	}

	m.seq++
	now := m.now()
	payment.Seq = m.seq
	payment.CreatedAt = now
	payment.UpdatedAt = now

	stored := clonePayment(payment)
	m.byID[stored.PaymentID] = stored
	m.payments = append([]*models.Payment{stored}, m.payments...)
	return nil
}

func (m *MemoryStore) GetPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[paymentID]
	if !ok {
		return nil, nil
	}
	return clonePayment(p), nil
}

func (m *MemoryStore) ListPayments(_ context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []models.Payment{}
	skipped := 0
	for _, p := range m.payments {
		if !filter.Matches(p) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, *clonePayment(p))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, paymentID string, status models.PaymentStatus, settlement models.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pendingLocked(paymentID)
	if !ok {
		return false, nil
	}
	p.Status = status
	p.Settlement = settlement
	p.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) AttachTxHash(_ context.Context, paymentID string, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pendingLocked(paymentID)
	if !ok {
		return false, nil
	}
	now := m.now()
	p.SourceTxHash = &txHash
	p.LookupAttempts = 0
	p.NextCheckAt = now
	p.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) RecordLookupFailure(_ context.Context, paymentID string, errMsg string, nextCheckAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pendingLocked(paymentID)
	if !ok {
		return 0, nil
	}
	p.LookupAttempts++
	if errMsg != "" {
		p.LastError = &errMsg
	} else {
		p.LastError = nil
	}
	p.NextCheckAt = nextCheckAt
	p.UpdatedAt = m.now()
	return p.LookupAttempts, nil
}

func (m *MemoryStore) ScheduleNextCheck(_ context.Context, paymentID string, nextCheckAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pendingLocked(paymentID)
	if !ok {
		return nil
	}
	p.LookupAttempts = 0
	p.LastError = nil
	p.NextCheckAt = nextCheckAt
	p.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) GetDuePendingPayments(_ context.Context, now time.Time, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := []models.Payment{}
	// oldest first: walk the list backwards
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.Status != models.PaymentStatusPending || p.NextCheckAt.After(now) {
			continue
		}
		due = append(due, *clonePayment(p))
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextCheckAt.Before(due[j].NextCheckAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) pendingLocked(paymentID string) (*models.Payment, bool) {
	p, ok := m.byID[paymentID]
	if !ok || p.Status != models.PaymentStatusPending {
		return nil, false
	}
	return p, true
}

func clonePayment(p *models.Payment) *models.Payment {
	c := *p
	if p.SourceTxHash != nil {
		h := *p.SourceTxHash
		c.SourceTxHash = &h
	}
	if p.LastError != nil {
		e := *p.LastError
		c.LastError = &e
	}
	return &c
}

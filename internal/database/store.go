package database

import (
	"context"
	"errors"
	"time"

	"ipguardian/internal/models"
)

// ErrDuplicatePayment is returned when a payment ID is already recorded
var ErrDuplicatePayment = errors.New("payment already exists")

// PaymentStore is the single source of truth for cross-chain payment records.
//
// Every mutating method only touches records whose status is still pending,
// so a terminal status is never overwritten regardless of concurrent callers.
type PaymentStore interface {
	// CreatePayment records a new payment. ErrDuplicatePayment if the ID exists.
	CreatePayment(ctx context.Context, payment *models.Payment) error
	// GetPayment returns nil, nil when the ID is unknown
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	// ListPayments returns matching payments, most recent first
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	// UpdatePaymentStatus moves a pending payment to status and reports whether it applied
	UpdatePaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus, settlement models.Settlement) (bool, error)
	// AttachTxHash sets the source-chain tx hash of a pending payment
	AttachTxHash(ctx context.Context, paymentID string, txHash string) (bool, error)
	// RecordLookupFailure bumps the failure counter and returns the new count (0 if nothing changed)
	RecordLookupFailure(ctx context.Context, paymentID string, errMsg string, nextCheckAt time.Time) (int, error)
	// ScheduleNextCheck clears the failure counter and sets the next lookup time
	ScheduleNextCheck(ctx context.Context, paymentID string, nextCheckAt time.Time) error
	// GetDuePendingPayments returns pending payments with next_check_at <= now, oldest due first
	GetDuePendingPayments(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
	Close() error
}

var (
	_ PaymentStore = (*DB)(nil)
	_ PaymentStore = (*MemoryStore)(nil)
)

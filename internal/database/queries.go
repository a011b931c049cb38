package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"ipguardian/internal/models"
)

const paymentColumns = `seq, payment_id, id_origin, owner_address, source_chain_id, dest_chain_id,
		       amount, token, recipient, status, settlement, source_tx_hash, deep_link,
		       lookup_attempts, last_error, next_check_at, created_at, updated_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// ==================== Payment Queries ====================

// CreatePayment creates a new payment record
func (db *DB) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (
			payment_id, id_origin, owner_address, source_chain_id, dest_chain_id,
			amount, token, recipient, status, settlement, source_tx_hash, deep_link,
			next_check_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq, created_at, updated_at
	`
	err := db.QueryRowContext(
		ctx, query,
		payment.PaymentID,
		payment.IDOrigin,
		payment.OwnerAddress,
		payment.SourceChainID,
		payment.DestChainID,
		payment.Amount,
		payment.Token,
		payment.Recipient,
		payment.Status,
		payment.Settlement,
		payment.SourceTxHash,
		payment.DeepLink,
		payment.NextCheckAt,
	).Scan(&payment.Seq, &payment.CreatedAt, &payment.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicatePayment, payment.PaymentID)
	}
	return err
}

// GetPayment retrieves a payment by its identifier
func (db *DB) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	err := db.GetContext(ctx, &payment, query, paymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPayments retrieves payments, most recent first
func (db *DB) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OwnerAddress != "" {
		args = append(args, filter.OwnerAddress)
		conds = append(conds, fmt.Sprintf("LOWER(owner_address) = LOWER($%d)", len(args)))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	payments := []models.Payment{}
	err := db.SelectContext(ctx, &payments, query, args...)
	return payments, err
}

// UpdatePaymentStatus moves a pending payment to a new status
func (db *DB) UpdatePaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus, settlement models.Settlement) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, settlement = $2, updated_at = NOW()
		WHERE payment_id = $3 AND status = 'pending'
	`
	res, err := db.ExecContext(ctx, query, status, settlement, paymentID)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// AttachTxHash records the source-chain transaction of a pending payment
func (db *DB) AttachTxHash(ctx context.Context, paymentID string, txHash string) (bool, error) {
	query := `
		UPDATE payments
		SET source_tx_hash = $1, lookup_attempts = 0, next_check_at = NOW(), updated_at = NOW()
		WHERE payment_id = $2 AND status = 'pending'
	`
	res, err := db.ExecContext(ctx, query, txHash, paymentID)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// RecordLookupFailure records an error and increments the lookup attempt count
func (db *DB) RecordLookupFailure(ctx context.Context, paymentID string, errMsg string, nextCheckAt time.Time) (int, error) {
	query := `
		UPDATE payments
		SET lookup_attempts = lookup_attempts + 1, last_error = $1, next_check_at = $2, updated_at = NOW()
		WHERE payment_id = $3 AND status = 'pending'
		RETURNING lookup_attempts
	`
	var attempts int
	err := db.QueryRowContext(ctx, query, ToNullString(errMsg), nextCheckAt, paymentID).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return attempts, err
}

// ScheduleNextCheck resets the failure counter of a pending payment
func (db *DB) ScheduleNextCheck(ctx context.Context, paymentID string, nextCheckAt time.Time) error {
	query := `
		UPDATE payments
		SET lookup_attempts = 0, last_error = NULL, next_check_at = $1, updated_at = NOW()
		WHERE payment_id = $2 AND status = 'pending'
	`
	_, err := db.ExecContext(ctx, query, nextCheckAt, paymentID)
	return err
}

// GetDuePendingPayments retrieves pending payments whose next check is due
func (db *DB) GetDuePendingPayments(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	payments := []models.Payment{}
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'pending' AND next_check_at <= $1
		ORDER BY next_check_at ASC, seq ASC
		LIMIT $2
	`
	err := db.SelectContext(ctx, &payments, query, now, limit)
	return payments, err
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"ipguardian/internal/database"
	"ipguardian/internal/metrics"
	"ipguardian/internal/models"
	"ipguardian/internal/registry"
)

const (
	maxListLimit = 100
	// payments.amount is NUMERIC(78, 0), wide enough for any uint256
	maxAmountDigits = 78
)

// PaymentService manages the lifecycle of cross-chain payment records
type PaymentService struct {
	store    database.PaymentStore
	registry *registry.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(store database.PaymentStore, reg *registry.Registry, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		store:    store,
		registry: reg,
		logger:   logger.Named("payments"),
		now:      time.Now,
	}
}

// NewPayment holds the fields needed to record a payment
type NewPayment struct {
	PaymentID     string
	IDOrigin      models.IDOrigin
	OwnerAddress  string
	SourceChainID int64
	DestChainID   int64
	Amount        string
	Token         string
	Recipient     string
	SourceTxHash  string
	DeepLink      string
}

// Create validates and records a new pending payment
func (s *PaymentService) Create(ctx context.Context, in NewPayment) (*models.Payment, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		PaymentID:     in.PaymentID,
		IDOrigin:      in.IDOrigin,
		OwnerAddress:  in.OwnerAddress,
		SourceChainID: in.SourceChainID,
		DestChainID:   in.DestChainID,
		Amount:        in.Amount,
		Token:         in.Token,
		Recipient:     common.HexToAddress(in.Recipient).Hex(),
		Status:        models.PaymentStatusPending,
		Settlement:    models.SettlementOptimistic,
		DeepLink:      in.DeepLink,
		NextCheckAt:   s.now(),
	}
	if in.SourceTxHash != "" {
		hash := in.SourceTxHash
		payment.SourceTxHash = &hash
	}

	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, database.ErrDuplicatePayment) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	metrics.PaymentsCreated.WithLabelValues(
		strconv.FormatInt(payment.SourceChainID, 10),
		strconv.FormatInt(payment.DestChainID, 10),
	).Inc()

	s.logger.Info("Payment created",
		zap.String("payment_id", payment.PaymentID),
		zap.String("id_origin", string(payment.IDOrigin)),
		zap.Int64("source_chain_id", payment.SourceChainID),
		zap.Int64("dest_chain_id", payment.DestChainID),
		zap.String("amount", payment.Amount))

	return payment, nil
}

func (s *PaymentService) validate(in NewPayment) error {
	if in.PaymentID == "" {
		return invalid("payment_id", "must not be empty")
	}
	if in.IDOrigin != models.IDOriginBridge && in.IDOrigin != models.IDOriginLocal {
		return invalid("id_origin", "unknown origin %q", in.IDOrigin)
	}
	if !s.registry.IsSupported(in.SourceChainID) {
		return invalid("source_chain_id", "chain %d is not supported", in.SourceChainID)
	}
	if !s.registry.IsSupported(in.DestChainID) {
		return invalid("dest_chain_id", "chain %d is not supported", in.DestChainID)
	}
	if in.SourceChainID == in.DestChainID {
		return invalid("dest_chain_id", "must differ from source chain")
	}
	amount, ok := new(big.Int).SetString(in.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return invalid("amount", "must be a positive integer in smallest units")
	}
	if len(amount.String()) > maxAmountDigits {
		return invalid("amount", "exceeds %d digits", maxAmountDigits)
	}
	if in.Token == "" {
		return invalid("token", "must not be empty")
	}
	if !common.IsHexAddress(in.Recipient) {
		return invalid("recipient", "not a hex address")
	}
	if in.OwnerAddress != "" && !common.IsHexAddress(in.OwnerAddress) {
		return invalid("owner_address", "not a hex address")
	}
	if in.SourceTxHash != "" && !isTxHash(in.SourceTxHash) {
		return invalid("source_tx_hash", "must be a 32-byte hex hash")
	}
	return nil
}

// UpdateStatus moves a pending payment to a terminal status.
//
// Unknown IDs, pending targets and payments already in a terminal status are
// ignored; the returned bool reports whether the update took effect.
func (s *PaymentService) UpdateStatus(ctx context.Context, paymentID string, status models.PaymentStatus, settlement models.Settlement) (bool, error) {
	if !status.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	switch settlement {
	case models.SettlementObserved, models.SettlementManual:
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidSettlement, settlement)
	}
	if !status.IsTerminal() {
		return false, nil
	}

	applied, err := s.store.UpdatePaymentStatus(ctx, paymentID, status, settlement)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}

	if applied {
		metrics.PaymentTransitions.WithLabelValues(string(status), string(settlement)).Inc()
		s.logger.Info("Payment status updated",
			zap.String("payment_id", paymentID),
			zap.String("status", string(status)),
			zap.String("settlement", string(settlement)))
	} else {
		s.logger.Debug("Payment status update ignored",
			zap.String("payment_id", paymentID),
			zap.String("status", string(status)))
	}

	return applied, nil
}

// AttachTxHash links a pending payment to its source-chain transaction so the
// reconciler can look it up.
func (s *PaymentService) AttachTxHash(ctx context.Context, paymentID string, txHash string) (bool, error) {
	if !isTxHash(txHash) {
		return false, invalid("tx_hash", "must be a 32-byte hex hash")
	}

	applied, err := s.store.AttachTxHash(ctx, paymentID, txHash)
	if err != nil {
		return false, fmt.Errorf("failed to attach tx hash: %w", err)
	}
	if applied {
		s.logger.Info("Transaction attached to payment",
			zap.String("payment_id", paymentID),
			zap.String("tx_hash", txHash))
	}
	return applied, nil
}

// Get returns a payment by ID, or nil if unknown
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

// List returns payments most-recent-first
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListPayments(ctx, filter)
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ipguardian/internal/models"
)

const (
	sourceDLN = "dln"
	sourceEVM = "evm"
)

type orderAPI interface {
	OrderStatus(ctx context.Context, orderID string) (string, error)
	OrderIDsByTx(ctx context.Context, txHash string) ([]string, error)
}

type receiptAPI interface {
	Supports(chainID int64) bool
	Check(ctx context.Context, chainID int64, txHash common.Hash) (ReceiptState, error)
}

// Resolver combines the DLN order API and source-chain receipts into a
// single StatusSource.
//
// Lookup order:
//  1. bridge-assigned IDs are DLN order IDs and are queried directly
//  2. otherwise the source tx hash is checked on chain (when an RPC endpoint
//     is configured): reverted means failed, unmined means pending
//  3. a mined tx is mapped to its DLN order and that order's state is used
//
// Records with neither reference yield ErrNoReference.
type Resolver struct {
	orders   orderAPI
	receipts receiptAPI
	logger   *zap.Logger
}

var _ StatusSource = (*Resolver)(nil)

// NewResolver creates a resolver. receipts may be nil when no RPC endpoints are configured.
func NewResolver(orders *DLNClient, receipts *ReceiptChecker, logger *zap.Logger) *Resolver {
	r := &Resolver{orders: orders, logger: logger.Named("resolver")}
	if receipts != nil {
		r.receipts = receipts
	}
	return r
}

// Lookup implements StatusSource
func (r *Resolver) Lookup(ctx context.Context, payment *models.Payment) (*Lookup, error) {
	if payment.IDOrigin == models.IDOriginBridge {
		return r.lookupOrder(ctx, payment.PaymentID)
	}

	if payment.SourceTxHash == nil || *payment.SourceTxHash == "" {
		return nil, ErrNoReference
	}
	txHash := *payment.SourceTxHash

	// chains without an RPC endpoint go straight to the order API
	if r.receipts != nil && r.receipts.Supports(payment.SourceChainID) {
		state, err := r.receipts.Check(ctx, payment.SourceChainID, common.HexToHash(txHash))
		switch {
		case err != nil:
			return nil, err
		case state == ReceiptReverted:
			return &Lookup{Status: models.PaymentStatusFailed, Source: sourceEVM, Detail: state.String()}, nil
		case state == ReceiptPending:
			return &Lookup{Status: models.PaymentStatusPending, Source: sourceEVM, Detail: state.String()}, nil
		}
	}

	ids, err := r.orders.OrderIDsByTx(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		r.logger.Debug("No DLN order indexed for transaction yet",
			zap.String("payment_id", payment.PaymentID),
			zap.String("tx_hash", txHash))
		return &Lookup{Status: models.PaymentStatusPending, Source: sourceDLN}, nil
	}
	return r.lookupOrder(ctx, ids[0])
}

func (r *Resolver) lookupOrder(ctx context.Context, orderID string) (*Lookup, error) {
	state, err := r.orders.OrderStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	status, err := MapOrderState(state)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	return &Lookup{Status: status, Source: sourceDLN, Detail: state}, nil
}

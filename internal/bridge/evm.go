package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"ipguardian/internal/metrics"
)

// ErrNoRPC is returned when no RPC endpoint is configured for a chain
var ErrNoRPC = errors.New("no RPC endpoint configured for chain")

// ReceiptState is the state of a source-chain transaction
type ReceiptState int

const (
	ReceiptPending ReceiptState = iota // not mined yet
	ReceiptSucceeded
	ReceiptReverted
)

func (s ReceiptState) String() string {
	switch s {
	case ReceiptSucceeded:
		return "succeeded"
	case ReceiptReverted:
		return "reverted"
	default:
		return "pending"
	}
}

// receiptFetcher is the subset of ethclient.Client used for receipt lookups
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type rpcClient struct {
	receiptFetcher
	close func()
}

// ReceiptChecker reads transaction receipts from EVM chains
type ReceiptChecker struct {
	clients map[int64]rpcClient
	logger  *zap.Logger
}

// NewReceiptChecker dials one client per configured chain. Chains without an
// endpoint are skipped.
func NewReceiptChecker(endpoints map[int64]string, logger *zap.Logger) (*ReceiptChecker, error) {
	logger = logger.Named("evm")
	rc := &ReceiptChecker{
		clients: make(map[int64]rpcClient, len(endpoints)),
		logger:  logger,
	}

	for chainID, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to connect to RPC endpoint for chain %d: %w", chainID, err)
		}
		rc.clients[chainID] = rpcClient{receiptFetcher: client, close: client.Close}

		logger.Info("EVM receipt client initialized", zap.Int64("chain_id", chainID))
	}

	return rc, nil
}

// Supports reports whether a client is configured for chainID
func (rc *ReceiptChecker) Supports(chainID int64) bool {
	_, ok := rc.clients[chainID]
	return ok
}

// Check returns the state of txHash on chainID
func (rc *ReceiptChecker) Check(ctx context.Context, chainID int64, txHash common.Hash) (ReceiptState, error) {
	client, ok := rc.clients[chainID]
	if !ok {
		return ReceiptPending, fmt.Errorf("%w: %d", ErrNoRPC, chainID)
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		metrics.BridgeRequests.WithLabelValues("evm", "not_found").Inc()
		return ReceiptPending, nil
	}
	if err != nil {
		metrics.BridgeRequests.WithLabelValues("evm", "error").Inc()
		return ReceiptPending, fmt.Errorf("failed to get receipt for %s: %w", txHash.Hex(), err)
	}
	metrics.BridgeRequests.WithLabelValues("evm", "ok").Inc()

	if receipt.Status == types.ReceiptStatusFailed {
		return ReceiptReverted, nil
	}
	return ReceiptSucceeded, nil
}

// Close closes all RPC connections
func (rc *ReceiptChecker) Close() {
	for chainID, c := range rc.clients {
		if c.close != nil {
			c.close()
		}
		rc.logger.Debug("Closed EVM client", zap.Int64("chain_id", chainID))
	}
}

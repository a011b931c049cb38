package service

import (
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"ipguardian/internal/cache"
	"ipguardian/internal/models"
)

const (
	// quote heuristic, not backed by any pricing oracle
	quoteFeeNumerator   = 3
	quoteFeeDenominator = 1000
	quoteSlowChainID    = 1
	quoteSlowETA        = 600
	quoteFastETA        = 300
	quotePriceImpact    = 0.1
)

// QuoteService produces advisory estimates for prospective transfers
type QuoteService struct {
	logger *zap.Logger
}

// NewQuoteService creates a new quote service
func NewQuoteService(logger *zap.Logger) *QuoteService {
	return &QuoteService{logger: logger}
}

// QuoteRequest holds the parameters of a prospective transfer
type QuoteRequest struct {
	SourceChainID int64
	DestChainID   int64
	SourceToken   string
	DestToken     string
	Amount        string // smallest units
}

// Estimate returns an advisory quote, or nil when a parameter is missing,
// the amount is not a positive integer, or the chains are equal.
//
// The fee is 0.3% of the input (rounded down), settlement is estimated at
// 600s when either side is Ethereum mainnet and 300s otherwise, and the
// price impact is fixed at 0.1%.
func (s *QuoteService) Estimate(req QuoteRequest) *models.Quote {
	if req.SourceChainID == 0 || req.DestChainID == 0 ||
		strings.TrimSpace(req.SourceToken) == "" || strings.TrimSpace(req.DestToken) == "" ||
		strings.TrimSpace(req.Amount) == "" {
		return nil
	}
	if req.SourceChainID == req.DestChainID {
		return nil
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil
	}

	fee := new(big.Int).Mul(amount, big.NewInt(quoteFeeNumerator))
	fee.Quo(fee, big.NewInt(quoteFeeDenominator))
	estimated := new(big.Int).Sub(amount, fee)

	eta := quoteFastETA
	if req.SourceChainID == quoteSlowChainID || req.DestChainID == quoteSlowChainID {
		eta = quoteSlowETA
	}

	s.logger.Debug("Estimated quote",
		zap.Int64("source_chain_id", req.SourceChainID),
		zap.Int64("dest_chain_id", req.DestChainID),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))

	return &models.Quote{
		EstimatedAmount: estimated.String(),
		Fee:             fee.String(),
		EstimatedTime:   eta,
		PriceImpact:     quotePriceImpact,
	}
}

// QuoteTracker hands out per-session sequence numbers so that a response to
// an older request can be recognised once a newer one has been issued.
type QuoteTracker struct {
	latest *cache.LRU[string, uint64]
}

// NewQuoteTracker tracks at most capacity sessions, each forgotten after ttl of inactivity
func NewQuoteTracker(capacity int, ttl time.Duration) *QuoteTracker {
	return &QuoteTracker{latest: cache.NewLRU[string, uint64](capacity, ttl)}
}

// Issue returns the next sequence number for session
func (t *QuoteTracker) Issue(session string) uint64 {
	return t.latest.Update(session, func(old uint64, _ bool) uint64 {
		return old + 1
	})
}

// Observe records a client-assigned sequence number and reports whether it
// is the latest seen for session.
func (t *QuoteTracker) Observe(session string, seq uint64) bool {
	latest := t.latest.Update(session, func(old uint64, found bool) uint64 {
		if found && old > seq {
			return old
		}
		return seq
	})
	return latest == seq
}

// IsCurrent reports whether seq is still the latest sequence for session
func (t *QuoteTracker) IsCurrent(session string, seq uint64) bool {
	latest, ok := t.latest.Get(session)
	return !ok || latest == seq
}

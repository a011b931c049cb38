package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ipguardian/internal/config"
	"ipguardian/internal/models"
	"ipguardian/internal/registry"
)

// SettlementNotice is returned with every initiated transfer
const SettlementNotice = "The transfer completes in the external bridge interface. " +
	"Its status here is tracked best-effort and is not an authoritative settlement."

// SettlementService builds bridge deep links and records the user's intent
type SettlementService struct {
	payments *PaymentService
	registry *registry.Registry
	cfg      config.BridgeConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewSettlementService creates a new settlement service
func NewSettlementService(payments *PaymentService, reg *registry.Registry, cfg config.BridgeConfig, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		payments: payments,
		registry: reg,
		cfg:      cfg,
		logger:   logger.Named("settlement"),
		now:      time.Now,
	}
}

// SettlementRequest describes a transfer to hand off to the bridge
type SettlementRequest struct {
	SourceChainID  int64
	DestChainID    int64
	InputCurrency  string // token address or registered symbol on the source chain
	OutputCurrency string // token address or registered symbol on the destination chain
	Recipient      string
	Amount         string // smallest units
	ReferralCode   string // overrides the configured default
	OrderID        string // bridge-assigned order ID, if the caller already has one
	SourceTxHash   string
	OwnerAddress   string
}

// SettlementResult is the outcome of Initiate
type SettlementResult struct {
	Payment  *models.Payment
	DeepLink string
	Notice   string
}

// DeepLinkParams are the query parameters understood by the bridge interface
type DeepLinkParams struct {
	InputChain     int64
	InputCurrency  string
	OutputChain    int64
	OutputCurrency string
	Address        string
	Amount         string
	Referral       string
}

// BuildDeepLink renders base?inputChain=..&inputCurrency=..&outputChain=..&outputCurrency=..&address=..&amount=..&r=..
// keeping this exact parameter order. r is omitted when Referral is empty.
func BuildDeepLink(base string, p DeepLinkParams) string {
	pairs := [][2]string{
		{"inputChain", strconv.FormatInt(p.InputChain, 10)},
		{"inputCurrency", p.InputCurrency},
		{"outputChain", strconv.FormatInt(p.OutputChain, 10)},
		{"outputCurrency", p.OutputCurrency},
		{"address", p.Address},
		{"amount", p.Amount},
	}
	if p.Referral != "" {
		pairs = append(pairs, [2]string{"r", p.Referral})
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('?')
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[1]))
	}
	return b.String()
}

// Initiate validates the request, builds the deep link and records a pending
// payment. The record is optimistic: nothing here observes whether the user
// completes the transfer.
func (s *SettlementService) Initiate(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	if err := s.checkChains(req.SourceChainID, req.DestChainID); err != nil {
		return nil, err
	}

	input, err := s.resolveCurrency("input_currency", req.SourceChainID, req.InputCurrency)
	if err != nil {
		return nil, err
	}
	output, err := s.resolveCurrency("output_currency", req.DestChainID, req.OutputCurrency)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.Recipient) {
		return nil, invalid("recipient", "not a hex address")
	}
	recipient := common.HexToAddress(req.Recipient).Hex()

	referral := req.ReferralCode
	if referral == "" {
		referral = s.cfg.ReferralCode
	}

	link := BuildDeepLink(s.cfg.AppURL, DeepLinkParams{
		InputChain:     req.SourceChainID,
		InputCurrency:  input,
		OutputChain:    req.DestChainID,
		OutputCurrency: output,
		Address:        recipient,
		Amount:         req.Amount,
		Referral:       referral,
	})

	paymentID, origin := req.OrderID, models.IDOriginBridge
	if paymentID == "" {
		paymentID, origin = s.localID(), models.IDOriginLocal
	}

	payment, err := s.payments.Create(ctx, NewPayment{
		PaymentID:     paymentID,
		IDOrigin:      origin,
		OwnerAddress:  req.OwnerAddress,
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		Amount:        req.Amount,
		Token:         input,
		Recipient:     recipient,
		SourceTxHash:  req.SourceTxHash,
		DeepLink:      link,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Settlement initiated",
		zap.String("payment_id", payment.PaymentID),
		zap.String("deep_link", link))

	return &SettlementResult{
		Payment:  payment,
		DeepLink: link,
		Notice:   SettlementNotice,
	}, nil
}

func (s *SettlementService) checkChains(source, dest int64) error {
	if _, ok := s.registry.Chain(source); !ok || !s.registry.IsSupported(source) {
		return invalid("source_chain_id", "chain %d is not supported", source)
	}
	if _, ok := s.registry.Chain(dest); !ok || !s.registry.IsSupported(dest) {
		return invalid("dest_chain_id", "chain %d is not supported", dest)
	}
	if source == dest {
		return invalid("dest_chain_id", "must differ from source chain")
	}
	return nil
}

// resolveCurrency accepts a hex address or a symbol registered on chainID
func (s *SettlementService) resolveCurrency(field string, chainID int64, currency string) (string, error) {
	currency = strings.TrimSpace(currency)
	if currency == "" {
		return "", invalid(field, "must not be empty")
	}
	if common.IsHexAddress(currency) {
		return common.HexToAddress(currency).Hex(), nil
	}
	addr, ok := s.registry.TokenAddress(chainID, currency)
	if !ok {
		return "", invalid(field, "unknown token %s on chain %d", currency, chainID)
	}
	return addr.Hex(), nil
}

// localID synthesises an identifier for records the bridge has not numbered
func (s *SettlementService) localID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("local_%d_%s", s.now().UnixMilli(), suffix)
}

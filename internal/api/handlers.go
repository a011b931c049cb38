package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ipguardian/internal/config"
	"ipguardian/internal/database"
	"ipguardian/internal/format"
	"ipguardian/internal/metrics"
	"ipguardian/internal/models"
	"ipguardian/internal/registry"
	"ipguardian/internal/service"
)

const (
	// WalletHeader carries the connected wallet address
	WalletHeader = "X-Wallet-Address"

	displayPrecision = 6
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	cfg        *config.Config
	registry   *registry.Registry
	quotes     *service.QuoteService
	tracker    *service.QuoteTracker
	payments   *service.PaymentService
	settlement *service.SettlementService
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	cfg *config.Config,
	reg *registry.Registry,
	quotes *service.QuoteService,
	tracker *service.QuoteTracker,
	payments *service.PaymentService,
	settlement *service.SettlementService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		cfg:        cfg,
		registry:   reg,
		quotes:     quotes,
		tracker:    tracker,
		payments:   payments,
		settlement: settlement,
		logger:     logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Runtime Config ====================

// HandleGetConfig handles GET /api/v1/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, PublicConfigResponse{
		ChainID:                h.cfg.App.ChainID,
		TomoClientID:           h.cfg.App.TomoClientID,
		WalletConnectProjectID: h.cfg.App.WalletConnectProjectID,
		Features: FeaturesPayload{
			CrossChain:  h.cfg.Features.CrossChain,
			Marketplace: h.cfg.Features.Marketplace,
			Staking:     h.cfg.Features.Staking,
		},
	})
}

// ==================== Chains ====================

// HandleListChains handles GET /api/v1/chains
func (h *Handler) HandleListChains(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ChainsResponse{Chains: h.registry.SupportedChains()})
}

// HandleListTokens handles GET /api/v1/chains/{chainId}/tokens
func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	chainID, ok := h.chainFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, TokensResponse{
		ChainID: chainID,
		Tokens:  h.registry.PopularTokens(chainID),
	})
}

// HandleTokenAddress handles GET /api/v1/chains/{chainId}/tokens/{symbol}
func (h *Handler) HandleTokenAddress(w http.ResponseWriter, r *http.Request) {
	chainID, ok := h.chainFromPath(w, r)
	if !ok {
		return
	}
	symbol := mux.Vars(r)["symbol"]
	addr, found := h.registry.TokenAddress(chainID, symbol)

	respondJSON(w, http.StatusOK, TokenAddressResponse{
		ChainID: chainID,
		Symbol:  symbol,
		Address: addr.Hex(),
		Found:   found,
	})
}

// chainFromPath parses {chainId} and writes the error response itself.
// Unknown chains are not an error: the registry answers them with empty results.
func (h *Handler) chainFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["chainId"]
	chainID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chain ID", err)
		return 0, false
	}
	return chainID, true
}

// ==================== Quotes ====================

// HandleQuote handles POST /api/v1/quotes
// Returns an advisory estimate. With a session, responses overtaken by a newer
// request of the same session are flagged stale.
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var seq uint64
	if req.Session != "" {
		if req.Sequence != nil {
			seq = *req.Sequence
			h.tracker.Observe(req.Session, seq)
		} else {
			seq = h.tracker.Issue(req.Session)
		}
	}

	quote := h.quotes.Estimate(service.QuoteRequest{
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		SourceToken:   req.SourceToken,
		DestToken:     req.DestToken,
		Amount:        req.Amount,
	})

	response := QuoteResponse{
		Advisory: true,
		Sequence: seq,
	}
	if req.Session != "" && !h.tracker.IsCurrent(req.Session, seq) {
		response.Stale = true
		metrics.QuotesStale.Inc()
	}
	if quote != nil {
		metrics.QuotesServed.Inc()
		response.Quote = &QuoteDetails{
			EstimatedAmount:      quote.EstimatedAmount,
			Fee:                  quote.Fee,
			EstimatedTime:        quote.EstimatedTime,
			EstimatedTimeDisplay: format.ETA(quote.EstimatedTime),
			PriceImpact:          quote.PriceImpact,
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// ==================== Payments ====================

// HandleCreatePayment handles POST /api/v1/payments
// Records a pending payment for the connected wallet and returns the bridge deep link
func (h *Handler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(WalletHeader)
	if !common.IsHexAddress(owner) {
		respondError(w, http.StatusUnauthorized, "Wallet not connected", nil)
		return
	}

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.settlement.Initiate(r.Context(), service.SettlementRequest{
		SourceChainID:  req.SourceChainID,
		DestChainID:    req.DestChainID,
		InputCurrency:  req.InputCurrency,
		OutputCurrency: req.OutputCurrency,
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		ReferralCode:   req.ReferralCode,
		OrderID:        req.OrderID,
		SourceTxHash:   req.SourceTxHash,
		OwnerAddress:   common.HexToAddress(owner).Hex(),
	})
	if err != nil {
		h.respondServiceError(w, "Failed to create payment", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreatePaymentResponse{
		Payment:  h.toPaymentResponse(result.Payment),
		DeepLink: result.DeepLink,
		Notice:   result.Notice,
	})
}

// HandleListPayments handles GET /api/v1/payments?status=&owner=&limit=&offset=
func (h *Handler) HandleListPayments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.PaymentFilter{
		Status:       models.PaymentStatus(query.Get("status")),
		OwnerAddress: query.Get("owner"),
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	payments, err := h.payments.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, "Failed to list payments", err)
		return
	}

	summaries := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		summaries = append(summaries, h.toPaymentResponse(&payments[i]))
	}

	respondJSON(w, http.StatusOK, ListPaymentsResponse{Payments: summaries})
}

// HandleGetPayment handles GET /api/v1/payments/{paymentId}
func (h *Handler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["paymentId"]

	payment, err := h.payments.Get(r.Context(), paymentID)
	if err != nil {
		h.logger.Error("Failed to get payment",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if payment == nil {
		respondError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, h.toPaymentResponse(payment))
}

// HandleUpdateStatus handles POST /api/v1/payments/{paymentId}/status
// Manual refresh: applies a terminal status to a pending payment
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["paymentId"]

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	applied, err := h.payments.UpdateStatus(r.Context(), paymentID, req.Status, models.SettlementManual)
	if err != nil {
		h.respondServiceError(w, "Failed to update payment status", err)
		return
	}

	h.respondUpdated(w, r, paymentID, applied)
}

// HandleAttachTx handles POST /api/v1/payments/{paymentId}/tx
func (h *Handler) HandleAttachTx(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["paymentId"]

	var req AttachTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	applied, err := h.payments.AttachTxHash(r.Context(), paymentID, req.TxHash)
	if err != nil {
		h.respondServiceError(w, "Failed to attach transaction", err)
		return
	}

	h.respondUpdated(w, r, paymentID, applied)
}

func (h *Handler) respondUpdated(w http.ResponseWriter, r *http.Request, paymentID string, applied bool) {
	payment, err := h.payments.Get(r.Context(), paymentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if payment == nil {
		respondError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, PaymentUpdateResponse{
		Applied: applied,
		Payment: h.toPaymentResponse(payment),
	})
}

// toPaymentResponse adds display fields using the token's registered decimals
func (h *Handler) toPaymentResponse(p *models.Payment) PaymentResponse {
	formatted := p.Amount
	if tok, ok := h.registry.TokenByAddress(p.SourceChainID, p.Token); ok {
		formatted = format.TokenAmountWithSymbol(p.Amount, tok.Decimals, displayPrecision, tok.Symbol)
	}

	return PaymentResponse{
		PaymentID:       p.PaymentID,
		IDOrigin:        p.IDOrigin,
		OwnerAddress:    p.OwnerAddress,
		SourceChainID:   p.SourceChainID,
		DestChainID:     p.DestChainID,
		Amount:          p.Amount,
		AmountFormatted: formatted,
		Token:           p.Token,
		Recipient:       p.Recipient,
		RecipientShort:  format.ShortAddress(p.Recipient),
		Status:          p.Status,
		Settlement:      p.Settlement,
		SourceTxHash:    p.SourceTxHash,
		DeepLink:        p.DeepLink,
		LookupAttempts:  p.LookupAttempts,
		LastError:       p.LastError,
		CreatedAt:       p.CreatedAt,
		CreatedDisplay:  format.Timestamp(p.CreatedAt),
		UpdatedAt:       p.UpdatedAt,
	}
}

// ==================== Helper Functions ====================

// respondServiceError maps service errors onto status codes
func (h *Handler) respondServiceError(w http.ResponseWriter, message string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrInvalidSettlement):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, database.ErrDuplicatePayment):
		respondError(w, http.StatusConflict, "Payment already exists", err)
	default:
		h.logger.Error(message, zap.Error(err))
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// intParam parses an optional non-negative integer query parameter
func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return v, nil
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}

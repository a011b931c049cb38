package api

import (
	"time"

	"ipguardian/internal/models"
)

// ==================== Runtime Config ====================

// PublicConfigResponse is the runtime configuration the dashboard bootstraps from
type PublicConfigResponse struct {
	ChainID                int64           `json:"chain_id"`
	TomoClientID           string          `json:"tomo_client_id"`
	WalletConnectProjectID string          `json:"walletconnect_project_id"`
	Features               FeaturesPayload `json:"features"`
}

// FeaturesPayload mirrors the feature flags
type FeaturesPayload struct {
	CrossChain  bool `json:"cross_chain"`
	Marketplace bool `json:"marketplace"`
	Staking     bool `json:"staking"`
}

// ==================== Chains ====================

// ChainsResponse lists supported chains
type ChainsResponse struct {
	Chains []models.Chain `json:"chains"`
}

// TokensResponse lists popular tokens on a chain
type TokensResponse struct {
	ChainID int64          `json:"chain_id"`
	Tokens  []models.Token `json:"tokens"`
}

// TokenAddressResponse resolves a symbol on a chain.
// Address is the zero address both for the native token and for unknown
// symbols; Found tells them apart.
type TokenAddressResponse struct {
	ChainID int64  `json:"chain_id"`
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Found   bool   `json:"found"`
}

// ==================== Quotes ====================

// QuoteRequest represents a request for an advisory quote
type QuoteRequest struct {
	SourceChainID int64  `json:"source_chain_id"`
	DestChainID   int64  `json:"dest_chain_id"`
	SourceToken   string `json:"source_token"`
	DestToken     string `json:"dest_token"`
	Amount        string `json:"amount"` // smallest units
	// Session groups the requests of one input form; optional
	Session string `json:"session,omitempty"`
	// Sequence is a client-assigned request counter within Session; the server
	// assigns one when omitted
	Sequence *uint64 `json:"sequence,omitempty"`
}

// QuoteResponse carries the estimate and its staleness marker.
// Quote is null when the parameters do not allow an estimate.
type QuoteResponse struct {
	Advisory bool          `json:"advisory"`
	Sequence uint64        `json:"sequence"`
	Stale    bool          `json:"stale"`
	Quote    *QuoteDetails `json:"quote"`
}

// QuoteDetails is the estimate itself
type QuoteDetails struct {
	EstimatedAmount      string  `json:"estimated_amount"`
	Fee                  string  `json:"fee"`
	EstimatedTime        int     `json:"estimated_time"` // seconds
	EstimatedTimeDisplay string  `json:"estimated_time_display"`
	PriceImpact          float64 `json:"price_impact"` // percent
}

// ==================== Payments ====================

// CreatePaymentRequest starts a cross-chain transfer
type CreatePaymentRequest struct {
	SourceChainID  int64  `json:"source_chain_id"`
	DestChainID    int64  `json:"dest_chain_id"`
	InputCurrency  string `json:"input_currency"`  // token address or symbol
	OutputCurrency string `json:"output_currency"` // token address or symbol
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"` // smallest units
	ReferralCode   string `json:"referral_code,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	SourceTxHash   string `json:"source_tx_hash,omitempty"`
}

// CreatePaymentResponse returns the recorded payment and where to complete it
type CreatePaymentResponse struct {
	Payment  PaymentResponse `json:"payment"`
	DeepLink string          `json:"deep_link"`
	Notice   string          `json:"notice"`
}

// PaymentResponse is the API view of a payment record
type PaymentResponse struct {
	PaymentID       string               `json:"payment_id"`
	IDOrigin        models.IDOrigin      `json:"id_origin"`
	OwnerAddress    string               `json:"owner_address,omitempty"`
	SourceChainID   int64                `json:"source_chain_id"`
	DestChainID     int64                `json:"dest_chain_id"`
	Amount          string               `json:"amount"` // smallest units
	AmountFormatted string               `json:"amount_formatted"`
	Token           string               `json:"token"`
	Recipient       string               `json:"recipient"`
	RecipientShort  string               `json:"recipient_short"`
	Status          models.PaymentStatus `json:"status"`
	Settlement      models.Settlement    `json:"settlement"`
	SourceTxHash    *string              `json:"source_tx_hash,omitempty"`
	DeepLink        string               `json:"deep_link"`
	LookupAttempts  int                  `json:"lookup_attempts"`
	LastError       *string              `json:"last_error,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	CreatedDisplay  string               `json:"created_display"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ListPaymentsResponse represents a page of payments, most recent first
type ListPaymentsResponse struct {
	Payments []PaymentResponse `json:"payments"`
}

// UpdateStatusRequest is a manual status refresh
type UpdateStatusRequest struct {
	Status models.PaymentStatus `json:"status"`
}

// AttachTxRequest links a source-chain transaction to a payment
type AttachTxRequest struct {
	TxHash string `json:"tx_hash"`
}

// PaymentUpdateResponse reports whether a mutation took effect.
// Applied is false when the payment had already left pending.
type PaymentUpdateResponse struct {
	Applied bool            `json:"applied"`
	Payment PaymentResponse `json:"payment"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

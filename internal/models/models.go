package models

import (
	"strings"
	"time"
)

// PaymentStatus represents the lifecycle state of a cross-chain payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusStale     PaymentStatus = "stale" // gave up reconciling
)

// IsTerminal reports whether no further transitions are allowed from s
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusConfirmed, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusStale:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses
func (s PaymentStatus) IsValid() bool {
	return s == PaymentStatusPending || s.IsTerminal()
}

// Settlement describes where the current status of a payment came from
type Settlement string

const (
	// SettlementOptimistic is a local record of intent, never confirmed externally
	SettlementOptimistic Settlement = "optimistic"
	// SettlementObserved means the status was reported by an external lookup
	SettlementObserved Settlement = "observed"
	// SettlementManual means the status was set through a manual refresh
	SettlementManual Settlement = "manual"
)

// IDOrigin records who assigned a payment identifier
type IDOrigin string

const (
	IDOriginBridge IDOrigin = "bridge"
	IDOriginLocal  IDOrigin = "local"
)

// Payment represents one user-initiated transfer routed through an external bridge
type Payment struct {
	Seq            int64         `db:"seq"`
	PaymentID      string        `db:"payment_id"`
	IDOrigin       IDOrigin      `db:"id_origin"`
	OwnerAddress   string        `db:"owner_address"`
	SourceChainID  int64         `db:"source_chain_id"`
	DestChainID    int64         `db:"dest_chain_id"`
	Amount         string        `db:"amount"` // integer, smallest unit of Token
	Token          string        `db:"token"`
	Recipient      string        `db:"recipient"`
	Status         PaymentStatus `db:"status"`
	Settlement     Settlement    `db:"settlement"`
	SourceTxHash   *string       `db:"source_tx_hash"`
	DeepLink       string        `db:"deep_link"`
	LookupAttempts int           `db:"lookup_attempts"`
	LastError      *string       `db:"last_error"`
	NextCheckAt    time.Time     `db:"next_check_at"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// PaymentFilter narrows a payment listing
type PaymentFilter struct {
	Status       PaymentStatus // empty means any
	OwnerAddress string        // empty means any
	Limit        int
	Offset       int
}

// Matches reports whether p passes the status and owner parts of the filter
func (f PaymentFilter) Matches(p *Payment) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.OwnerAddress != "" && !strings.EqualFold(p.OwnerAddress, f.OwnerAddress) {
		return false
	}
	return true
}

// Chain is static reference data for a supported network
type Chain struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Symbol      string `json:"symbol" yaml:"symbol"`
	NativeToken string `json:"native_token" yaml:"native_token"`
	Supported   bool   `json:"supported" yaml:"supported"`
}

// Token is a well-known token on a chain
type Token struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Address  string `json:"address" yaml:"address"`
	Name     string `json:"name" yaml:"name"`
	Decimals int32  `json:"decimals" yaml:"decimals"`
}

// Quote is a non-binding estimate for a prospective transfer
type Quote struct {
	EstimatedAmount string  // smallest units
	Fee             string  // smallest units
	EstimatedTime   int     // seconds
	PriceImpact     float64 // percent
}

// Package bridge looks up the settlement status of cross-chain payments in
// external systems: the deBridge DLN order API and source-chain receipts.
package bridge

import (
	"context"
	"errors"

	"ipguardian/internal/models"
)

// ErrNoReference is returned for payments that carry neither a bridge order
// ID nor a source transaction hash, so there is nothing to look up.
var ErrNoReference = errors.New("payment has no external reference to look up")

// Lookup is the outcome of a successful status lookup
type Lookup struct {
	Status models.PaymentStatus // pending when the external side has not settled yet
	Source string               // which system answered, e.g. "dln" or "evm"
	Detail string               // raw external state, for logs
}

// StatusSource resolves the current status of a payment
type StatusSource interface {
	Lookup(ctx context.Context, payment *models.Payment) (*Lookup, error)
}

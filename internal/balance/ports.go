// Package balance is the client side of the remote balance service.
//
// The service holds the user's balance and answers three requests: read the
// balance, credit an amount, debit an amount. Credit and debit reply with the
// resulting balance, not a delta.
package balance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Service is the request/response contract of the remote balance service.
// Implementations must not retry: a repeated debit charges twice.
type Service interface {
	Fetch(ctx context.Context) (decimal.Decimal, error)
	Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
}

// Operation names used on errors and in logs.
const (
	OpFetch  = "fetch"
	OpCredit = "credit"
	OpDebit  = "debit"
)

// RemoteError describes a failed round trip. Err is core.ErrRemoteUnavailable
// or core.ErrRemoteRejected.
type RemoteError struct {
	Op         string
	StatusCode int // zero when no response was received
	Detail     string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("balance %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("balance %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("balance %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

package core

import "errors"

// Remote balance service failures.
var (
	ErrRemoteUnavailable = errors.New("remote balance service unavailable")
	ErrRemoteRejected    = errors.New("remote balance service rejected the request")
)

// Top-up and registry rejections. Every rejection wraps exactly one of these
// so callers can tell the causes apart with errors.Is.
var (
	ErrBalanceUnavailable   = errors.New("balance unavailable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrBeneficiaryNotFound  = errors.New("beneficiary not found")
	ErrTierCapExceeded      = errors.New("monthly tier cap exceeded")
	ErrAggregateCapExceeded = errors.New("monthly aggregate cap exceeded")
	ErrInvalidNickname      = errors.New("nickname must be between 1 and 20 characters")
	ErrRegistryFull         = errors.New("beneficiary registry is full")
	ErrDebitFailed          = errors.New("debit failed")
	ErrInvalidAmount        = errors.New("invalid amount")
)

// reasons is ordered so step-level causes win over the remote cause they wrap:
// a failed debit reports debit_failed, not remote_rejected.
var reasons = []struct {
	err  error
	code string
}{
	{ErrDebitFailed, "debit_failed"},
	{ErrBalanceUnavailable, "balance_unavailable"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrBeneficiaryNotFound, "beneficiary_not_found"},
	{ErrTierCapExceeded, "tier_cap_exceeded"},
	{ErrAggregateCapExceeded, "aggregate_cap_exceeded"},
	{ErrInvalidNickname, "invalid_nickname"},
	{ErrRegistryFull, "registry_full"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrRemoteUnavailable, "remote_unavailable"},
	{ErrRemoteRejected, "remote_rejected"},
}

// Reason returns a stable code for err. Nil maps to "" and anything outside
// the taxonomy to "internal_error".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal_error"
}

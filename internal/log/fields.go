package log

import "github.com/shopspring/decimal"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldReason        = "reason"
	FieldNickname      = "nickname"
	FieldBeneficiaryID = "beneficiary_id"
	FieldVerified      = "verified"
	FieldAmount        = "amount"
	FieldCharge        = "charge"
	FieldBalance       = "balance"
	FieldState         = "state"
	FieldTransactionID = "transaction_id"
	FieldBreakerState  = "breaker_state"
)

// Components defines standard component names
const (
	ComponentHTTP    = "http"
	ComponentTopUp   = "topup"
	ComponentBalance = "balance"
	ComponentAMQP    = "amqp"
	ComponentBackend = "backend"
	ComponentDemo    = "demo"
)

// Operations defines standard operation names
const (
	OpTopUp    = "topup"
	OpRegister = "register"
	OpCredit   = "credit"
	OpDebit    = "debit"
	OpPublish  = "publish"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error text; nil is ignored.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTopUp adds the fields describing a top-up attempt. Amounts are logged
// as decimal strings.
func (f LogFields) WithTopUp(nickname string, amount, charge decimal.Decimal) LogFields {
	f[FieldNickname] = nickname
	f[FieldAmount] = amount.String()
	f[FieldCharge] = charge.String()
	return f
}

func (f LogFields) WithBalance(balance decimal.Decimal) LogFields {
	f[FieldBalance] = balance.String()
	return f
}

// WithReason adds the stable rejection code; empty codes are ignored.
func (f LogFields) WithReason(reason string) LogFields {
	if reason != "" {
		f[FieldReason] = reason
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldUserAgent] = userAgent
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

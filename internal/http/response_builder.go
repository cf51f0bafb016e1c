package http

import (
	"encoding/json"
	"net/http"

	"topup/internal/core"
	tlog "topup/internal/log"
)

// JSONResponseBuilder builds a JSON response with a fluent API.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(b.statusCode)
	if b.body != nil {
		_ = json.NewEncoder(w).Encode(b.body)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// StatusFor maps an error from the top-up engine to an HTTP status.
func StatusFor(err error) int {
	switch core.Reason(err) {
	case "beneficiary_not_found":
		return http.StatusNotFound
	case "invalid_amount", "invalid_nickname":
		return http.StatusUnprocessableEntity
	case "registry_full", "tier_cap_exceeded", "aggregate_cap_exceeded", "insufficient_funds":
		return http.StatusConflict
	case "balance_unavailable", "remote_unavailable":
		return http.StatusServiceUnavailable
	case "debit_failed", "remote_rejected":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse builds the {"error", "reason"} body for err.
func ErrorResponse(err error) *JSONResponseBuilder {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return NewJSONResponse().Status(status).Body(errorBody{Error: msg, Reason: core.Reason(err)})
}

// BadRequestError is used for bodies that cannot be decoded at all.
func BadRequestError(message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusBadRequest).Body(errorBody{Error: message, Reason: "bad_request"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse(err)
	if resp.statusCode == http.StatusInternalServerError {
		tlog.FromContext(r.Context()).ErrorContext(r.Context(), "Unhandled error", tlog.FieldError, err.Error())
	}
	resp.Write(w)
}

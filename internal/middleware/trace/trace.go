// Package trace assigns request IDs and logs one completion line per request.
package trace

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	tlog "topup/internal/log"
)

type ContextKey string

const RequestIDKey ContextKey = "request_id"

// HeaderRequestID is honoured on input and always set on the response.
const HeaderRequestID = "X-Request-ID"

const maxIncomingIDLength = 64

type Middleware struct {
	metrics Metrics
}

// Metrics counts requests served and requests answered with a 5xx.
type Metrics struct {
	TotalRequests  int64
	ServerFailures int64
}

func NewMiddleware() *Middleware {
	return &Middleware{}
}

// Middleware tags the request context with an ID, enriches the context logger
// with it and logs the outcome.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" || len(requestID) > maxIncomingIDLength {
			requestID = GenerateRequestID()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		logger := tlog.FromContext(ctx).With(tlog.FieldRequestID, requestID)
		ctx = tlog.NewContext(ctx, logger)
		r = r.WithContext(ctx)

		atomic.AddInt64(&m.metrics.TotalRequests, 1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if rw.statusCode >= 400 && rw.statusCode < 500 {
			level = slog.LevelWarn
		} else if rw.statusCode >= 500 {
			level = slog.LevelError
			atomic.AddInt64(&m.metrics.ServerFailures, 1)
		}

		fields := tlog.NewFields().
			WithHTTPRequest(r.Method, r.URL.Path, r.UserAgent()).
			WithClientIP(r.RemoteAddr).
			WithHTTPResponse(rw.statusCode, time.Since(start).Milliseconds(), rw.statusCode < 400)
		logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:  atomic.LoadInt64(&m.metrics.TotalRequests),
		ServerFailures: atomic.LoadInt64(&m.metrics.ServerFailures),
	}
}

// Package http exposes the top-up engine as a small JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/balance"
	"topup/internal/core"
	tlog "topup/internal/log"
	"topup/internal/middleware/ratelimit"
	"topup/internal/middleware/security"
	"topup/internal/middleware/trace"
	"topup/internal/policy"
	"topup/internal/services"
)

// TopUpAPI is the subset of services.TopUpService the handlers call.
type TopUpAPI interface {
	TopUp(ctx context.Context, nickname string, amount decimal.Decimal) (services.Result, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	CachedBalance() (decimal.Decimal, time.Time, bool)
	Register(ctx context.Context, b core.Beneficiary) error
	Beneficiaries() []core.Beneficiary
	Denominations() []decimal.Decimal
	Charge() decimal.Decimal
	Usage(nickname string) (policy.Usage, error)
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	svc            TopUpAPI
	tracer         *trace.Middleware
	limiter        *ratelimit.Limiter
	logger         *tlog.Logger
	balanceTimeout time.Duration
}

type Option func(*Server)

// A top-up makes at most four sequential balance round trips: fetch, amount
// debit, charge debit and refund credit.
const (
	topUpRoundTrips = 4
	writeSlack      = 5 * time.Second
)

// WithBalanceTimeout sizes the write timeout so a top-up whose every balance
// call takes the full d still gets its response written.
func WithBalanceTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.balanceTimeout = d
		}
	}
}

// WithRateLimit throttles the write endpoints to perMinute requests per
// client IP. Zero or less disables the limiter.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: perMinute})
		}
	}
}

// NewServer wires the routes. Every request carries a request ID and a
// context logger tagged with it.
func NewServer(addr string, svc TopUpAPI, logger *tlog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = tlog.FromContext(context.Background())
	}
	s := &Server{
		svc:            svc,
		tracer:         trace.NewMiddleware(),
		logger:         logger.WithComponent(tlog.ComponentHTTP),
		balanceTimeout: balance.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /denominations", s.handleDenominations)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /beneficiaries", s.handleListBeneficiaries)
	mux.Handle("POST /beneficiaries", s.limited(http.HandlerFunc(s.handleRegister)))
	mux.HandleFunc("GET /beneficiaries/{nickname}/usage", s.handleUsage)
	mux.Handle("POST /topups", s.limited(http.HandlerFunc(s.handleTopUp)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              addr,
		Handler:           tlog.Middleware(s.logger)(s.tracer.Middleware(headers.Middleware(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      topUpRoundTrips*s.balanceTimeout + writeSlack,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) limited(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Middleware(ratelimit.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		tlog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			tlog.FieldClientIP, ratelimit.ClientIP(r), tlog.FieldPath, r.URL.Path)
		NewJSONResponse().Status(http.StatusTooManyRequests).
			Body(errorBody{Error: "rate limit exceeded", Reason: "rate_limited"}).Write(w)
	})(h)
}

// Shutdown stops the rate limiter and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.Server.Shutdown(ctx)
}

// Metrics returns request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Package memory is an in-process balance service. It honours the same
// contract as the remote service and can serve it over HTTP, which makes it
// the development backend and the stand-in for the remote service in tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"topup/internal/balance"
	"topup/internal/core"
)

type Store struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

// New creates a store holding initial. Negative values are clamped to zero.
func New(initial decimal.Decimal) *Store {
	if initial.IsNegative() {
		initial = decimal.Zero
	}
	return &Store{balance: initial}
}

func (s *Store) Fetch(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Store) Credit(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpCredit, StatusCode: http.StatusBadRequest, Err: core.ErrRemoteRejected}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = s.balance.Add(amount)
	return s.balance, nil
}

// Debit rejects amounts that would take the balance below zero.
func (s *Store) Debit(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpDebit, StatusCode: http.StatusBadRequest, Err: core.ErrRemoteRejected}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.GreaterThan(s.balance) {
		return decimal.Zero, &balance.RemoteError{Op: balance.OpDebit, StatusCode: http.StatusUnprocessableEntity, Err: core.ErrRemoteRejected}
	}
	s.balance = s.balance.Sub(amount)
	return s.balance, nil
}

// Handler serves the remote contract:
//
//	GET  /        -> balance
//	POST /credit  -> resulting balance
//	POST /debit   -> resulting balance
//
// Bodies are plain decimal text.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := s.Fetch(r.Context())
		writeAmount(w, b)
	})
	mux.HandleFunc("POST /credit", s.handleMutation(s.Credit))
	mux.HandleFunc("POST /debit", s.handleMutation(s.Debit))
	return mux
}

func (s *Store) handleMutation(apply func(context.Context, decimal.Decimal) (decimal.Decimal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<10))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		amount, err := core.ParsePositiveAmount(string(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := apply(r.Context(), amount)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if re, ok := err.(*balance.RemoteError); ok && re.StatusCode != 0 {
				status = re.StatusCode
			}
			slog.InfoContext(r.Context(), "Balance mutation rejected",
				"path", r.URL.Path,
				"amount", amount.String(),
				"status_code", status)
			http.Error(w, err.Error(), status)
			return
		}
		writeAmount(w, result)
	}
}

func writeAmount(w http.ResponseWriter, d decimal.Decimal) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, core.FormatAmount(d))
}

package http

import (
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/core"
	"topup/internal/policy"
	"topup/internal/services"
)

type transactionJSON struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type beneficiaryJSON struct {
	ID            int64             `json:"id"`
	Nickname      string            `json:"nickname"`
	Verified      bool              `json:"verified"`
	TotalToppedUp decimal.Decimal   `json:"total_topped_up"`
	Transactions  []transactionJSON `json:"transactions"`
}

func toBeneficiaryJSON(b core.Beneficiary) beneficiaryJSON {
	out := beneficiaryJSON{
		ID:            b.ID,
		Nickname:      b.Nickname,
		Verified:      b.Verified,
		TotalToppedUp: b.TotalToppedUp,
		Transactions:  make([]transactionJSON, 0, len(b.Transactions)),
	}
	for _, tx := range b.Transactions {
		out.Transactions = append(out.Transactions, transactionJSON{ID: tx.ID, Amount: tx.Amount, Timestamp: tx.Timestamp})
	}
	return out
}

type topUpResponse struct {
	State       services.State   `json:"state"`
	Nickname    string           `json:"nickname"`
	Amount      decimal.Decimal  `json:"amount"`
	Charge      decimal.Decimal  `json:"charge"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	Transaction *transactionJSON `json:"transaction,omitempty"`
	Compensated bool             `json:"compensated,omitempty"`
	Error       string           `json:"error,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

type usageJSON struct {
	Nickname           string          `json:"nickname"`
	Tier               decimal.Decimal `json:"tier_total"`
	TierCap            decimal.Decimal `json:"tier_cap"`
	TierRemaining      decimal.Decimal `json:"tier_remaining"`
	Aggregate          decimal.Decimal `json:"aggregate_total"`
	AggregateCap       decimal.Decimal `json:"aggregate_cap"`
	AggregateRemaining decimal.Decimal `json:"aggregate_remaining"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		NewJSONResponse().Status(http.StatusServiceUnavailable).
			Body(errorBody{Error: err.Error(), Reason: core.Reason(err)}).Write(w)
		return
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

func (s *Server) handleDenominations(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(struct {
		Denominations []decimal.Decimal `json:"denominations"`
		Charge        decimal.Decimal   `json:"charge"`
	}{s.svc.Denominations(), s.svc.Charge()}).Write(w)
}

// handleBalance fetches the balance. With ?cached=true it answers from the
// last observed value without a remote call.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	type balanceJSON struct {
		Balance    decimal.Decimal `json:"balance"`
		ObservedAt *time.Time      `json:"observed_at,omitempty"`
	}

	if r.URL.Query().Get("cached") == "true" {
		v, at, ok := s.svc.CachedBalance()
		if !ok {
			ErrorResponse(core.ErrBalanceUnavailable).Write(w)
			return
		}
		NewJSONResponse().Body(balanceJSON{Balance: v, ObservedAt: &at}).Write(w)
		return
	}

	v, err := s.svc.Balance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(balanceJSON{Balance: v}).Write(w)
}

func (s *Server) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	list := s.svc.Beneficiaries()
	out := make([]beneficiaryJSON, 0, len(list))
	for _, b := range list {
		out = append(out, toBeneficiaryJSON(b))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	b := core.Beneficiary{ID: req.ID, Nickname: req.Nickname, Verified: req.Verified}
	if err := s.svc.Register(r.Context(), b); err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/beneficiaries/"+url.PathEscape(b.Nickname)+"/usage").
		Body(toBeneficiaryJSON(b)).
		Write(w)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	nickname := r.PathValue("nickname")
	u, err := s.svc.Usage(nickname)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(toUsageJSON(nickname, u)).Write(w)
}

func toUsageJSON(nickname string, u policy.Usage) usageJSON {
	return usageJSON{
		Nickname:           nickname,
		Tier:               u.Tier,
		TierCap:            u.TierCap,
		TierRemaining:      u.TierRemaining,
		Aggregate:          u.Aggregate,
		AggregateCap:       u.AggregateCap,
		AggregateRemaining: u.AggregateRemaining,
	}
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.TopUp(r.Context(), req.Nickname, amount)
	body := topUpResponse{
		State:       res.State,
		Nickname:    res.Nickname,
		Amount:      res.Amount,
		Charge:      res.Charge,
		Compensated: res.Compensated,
	}
	if res.BalanceKnown {
		b := res.Balance
		body.Balance = &b
	}
	if res.Transaction != nil {
		body.Transaction = &transactionJSON{ID: res.Transaction.ID, Amount: res.Transaction.Amount, Timestamp: res.Transaction.Timestamp}
	}
	if err != nil {
		body.Error, body.Reason = err.Error(), core.Reason(err)
		NewJSONResponse().Status(StatusFor(err)).Body(body).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(body).Write(w)
}

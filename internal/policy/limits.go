// Package policy decides whether a top-up amount is admissible under the
// monthly caps and the known balance. Everything here is pure: the caller
// supplies the history, the balance and the notion of "now".
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/core"
)

// Limits holds the monthly caps.
type Limits struct {
	Verified   decimal.Decimal // tier cap for verified beneficiaries
	Unverified decimal.Decimal // tier cap for unverified beneficiaries
	Aggregate  decimal.Decimal // cap across all beneficiaries
}

// DefaultLimits returns 500 verified, 1000 unverified, 3000 aggregate.
func DefaultLimits() Limits {
	return Limits{
		Verified:   decimal.NewFromInt(500),
		Unverified: decimal.NewFromInt(1000),
		Aggregate:  decimal.NewFromInt(3000),
	}
}

// TierCap returns the cap that applies to the given verification tier.
func (l Limits) TierCap(verified bool) decimal.Decimal {
	if verified {
		return l.Verified
	}
	return l.Unverified
}

// Request is the input of a single admissibility check.
type Request struct {
	Amount        decimal.Decimal
	Verified      bool
	Balance       decimal.Decimal // last balance fetched by the caller
	Beneficiaries []core.Beneficiary
	Now           time.Time
}

// MonthWindow returns the calendar month containing now, in now's location,
// as the half-open range [first day 00:00, first day of next month 00:00).
func MonthWindow(now time.Time) (start, end time.Time) {
	y, m, _ := now.Date()
	start = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}

// Usage is the month-to-date spend seen from one tier.
type Usage struct {
	Tier               decimal.Decimal
	TierCap            decimal.Decimal
	TierRemaining      decimal.Decimal
	Aggregate          decimal.Decimal
	AggregateCap       decimal.Decimal
	AggregateRemaining decimal.Decimal
}

// Usage totals the current month for the given tier and for everyone.
// Remaining headroom never goes below zero.
func (l Limits) Usage(beneficiaries []core.Beneficiary, verified bool, now time.Time) Usage {
	start, end := MonthWindow(now)
	tier, all := decimal.Zero, decimal.Zero
	for _, b := range beneficiaries {
		spent := b.MonthTotal(start, end)
		all = all.Add(spent)
		if b.Verified == verified {
			tier = tier.Add(spent)
		}
	}
	tierCap := l.TierCap(verified)
	return Usage{
		Tier:               tier,
		TierCap:            tierCap,
		TierRemaining:      decimal.Max(decimal.Zero, tierCap.Sub(tier)),
		Aggregate:          all,
		AggregateCap:       l.Aggregate,
		AggregateRemaining: decimal.Max(decimal.Zero, l.Aggregate.Sub(all)),
	}
}

// Check returns nil when the request is admissible. Otherwise the error wraps
// exactly one of core.ErrAggregateCapExceeded, core.ErrTierCapExceeded or
// core.ErrInsufficientFunds, checked in that order. The two caps are
// evaluated on independent totals, so either can block on its own.
func (l Limits) Check(req Request) error {
	u := l.Usage(req.Beneficiaries, req.Verified, req.Now)

	if total := u.Aggregate.Add(req.Amount); total.GreaterThan(u.AggregateCap) {
		return fmt.Errorf("%w: %s this month + %s = %s > %s",
			core.ErrAggregateCapExceeded, u.Aggregate, req.Amount, total, u.AggregateCap)
	}
	if total := u.Tier.Add(req.Amount); total.GreaterThan(u.TierCap) {
		return fmt.Errorf("%w: verified=%t, %s this month + %s = %s > %s",
			core.ErrTierCapExceeded, req.Verified, u.Tier, req.Amount, total, u.TierCap)
	}
	if req.Amount.GreaterThan(req.Balance) {
		return fmt.Errorf("%w: amount %s > balance %s", core.ErrInsufficientFunds, req.Amount, req.Balance)
	}
	return nil
}
